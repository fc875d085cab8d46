package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerSet tracks the pending invite timeout per call. Cancelling an absent
// timer is a no-op, so races between answer and timeout resolve safely on
// either side.
type timerSet struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[uuid.UUID]*time.Timer)}
}

// Start arms a timer for the call, replacing any existing one
func (ts *timerSet) Start(callID uuid.UUID, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := ts.timers[callID]; ok {
		old.Stop()
	}
	ts.timers[callID] = time.AfterFunc(d, func() {
		ts.remove(callID)
		fn()
	})
}

// Cancel stops the call's timer if one is armed
func (ts *timerSet) Cancel(callID uuid.UUID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[callID]; ok {
		t.Stop()
		delete(ts.timers, callID)
	}
}

func (ts *timerSet) remove(callID uuid.UUID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.timers, callID)
}

// Len reports armed timers, used by tests
func (ts *timerSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
