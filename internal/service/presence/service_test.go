package presence

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavelink-backend/internal/domain"
	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

var errStoreDown = errors.New("store unavailable")

// fakeStore is an in-memory presence backend with an error switch to
// exercise the degraded path
type fakeStore struct {
	mu       sync.Mutex
	online   map[uuid.UUID]bool
	lastSeen map[uuid.UUID]time.Time
	down     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		online:   make(map[uuid.UUID]bool),
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeStore) SetUserOnline(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.online[userID] = true
	f.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (f *fakeStore) SetUserOffline(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	delete(f.online, userID)
	f.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (f *fakeStore) RefreshPresence(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errStoreDown
	}
	f.online[userID] = true
	f.lastSeen[userID] = time.Now().UTC()
	return nil
}

func (f *fakeStore) IsUserOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errStoreDown
	}
	return f.online[userID], nil
}

func (f *fakeStore) GetLastSeen(_ context.Context, userID uuid.UUID) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return time.Time{}, errStoreDown
	}
	return f.lastSeen[userID], nil
}

func (f *fakeStore) GetOnlineCount(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errStoreDown
	}
	return int64(len(f.online)), nil
}

// expire simulates TTL lapse without an explicit disconnect
func (f *fakeStore) expire(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

type fakeRelay struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]sentEvent
}

type sentEvent struct {
	Event   string
	Payload interface{}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{sent: make(map[uuid.UUID][]sentEvent)}
}

func (r *fakeRelay) SendToUser(userID uuid.UUID, event string, payload interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[userID] = append(r.sent[userID], sentEvent{Event: event, Payload: payload})
	return true
}

func (r *fakeRelay) eventsFor(userID uuid.UUID) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.sent[userID]...)
}

func newTestService() (*Service, *fakeStore, *fakeRelay) {
	store := newFakeStore()
	relay := newFakeRelay()
	return NewService(store, relay, metrics.NewMetrics("test"), constants.HeartbeatInterval), store, relay
}

func TestHandleConnect_BroadcastsOnlineToSubscribers(t *testing.T) {
	svc, _, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	svc.Subscribe(ctx, watcher, target)
	svc.HandleConnect(ctx, target)

	events := relay.eventsFor(watcher)
	require.Len(t, events, 1)
	assert.Equal(t, EventUserStatus, events[0].Event)
	assert.Equal(t, string(domain.UserStatusOnline), events[0].Payload.(StatusPayload).Status)
}

func TestSubscribe_ReturnsCurrentSnapshot(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	snapshot := svc.Subscribe(ctx, watcher, target)
	assert.Equal(t, string(domain.UserStatusOffline), snapshot.Status)

	require.NoError(t, store.SetUserOnline(ctx, target))
	snapshot = svc.Subscribe(ctx, watcher, target)
	assert.Equal(t, string(domain.UserStatusOnline), snapshot.Status)
}

func TestSubscribe_StoreErrorYieldsUnknown(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	store.setDown(true)

	snapshot := svc.Subscribe(ctx, uuid.New(), uuid.New())
	assert.Equal(t, string(domain.UserStatusUnknown), snapshot.Status)
}

func TestHandleDisconnect_BroadcastsOfflineEvenWhenStoreDown(t *testing.T) {
	svc, store, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	svc.Subscribe(ctx, watcher, target)
	store.setDown(true)
	svc.HandleDisconnect(ctx, target)

	events := relay.eventsFor(watcher)
	require.Len(t, events, 1)
	assert.Equal(t, string(domain.UserStatusOffline), events[0].Payload.(StatusPayload).Status)
}

func TestSweep_ConfirmedExpiryNotifiesSubscribers(t *testing.T) {
	svc, store, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, target))
	svc.Subscribe(ctx, watcher, target)

	store.expire(target)
	svc.sweep(ctx)

	events := relay.eventsFor(watcher)
	require.Len(t, events, 1)
	assert.Equal(t, EventBatchUserStatus, events[0].Event)
	batch := events[0].Payload.(BatchStatusPayload)
	require.Len(t, batch.Statuses, 1)
	assert.Equal(t, target, batch.Statuses[0].UserID)
	assert.Equal(t, string(domain.UserStatusOffline), batch.Statuses[0].Status)
}

func TestSweep_StoreErrorNeverProducesOffline(t *testing.T) {
	svc, store, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, target))
	svc.Subscribe(ctx, watcher, target)

	store.setDown(true)
	svc.sweep(ctx)

	assert.Empty(t, relay.eventsFor(watcher))
}

func TestSweep_NoChangeNoBroadcast(t *testing.T) {
	svc, store, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, target))
	svc.Subscribe(ctx, watcher, target)

	svc.sweep(ctx)
	svc.sweep(ctx)

	assert.Empty(t, relay.eventsFor(watcher))
}

func TestSweep_CoalescesChangesPerSubscriber(t *testing.T) {
	svc, store, relay := newTestService()
	ctx := context.Background()
	watcher := uuid.New()
	targetA, targetB := uuid.New(), uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, targetA))
	require.NoError(t, store.SetUserOnline(ctx, targetB))
	svc.Subscribe(ctx, watcher, targetA)
	svc.Subscribe(ctx, watcher, targetB)

	store.expire(targetA)
	store.expire(targetB)
	svc.sweep(ctx)

	events := relay.eventsFor(watcher)
	require.Len(t, events, 1)
	batch := events[0].Payload.(BatchStatusPayload)
	assert.Len(t, batch.Statuses, 2)
}

func TestUnsubscribeAll_StopsBroadcasts(t *testing.T) {
	svc, _, relay := newTestService()
	ctx := context.Background()
	watcher, target := uuid.New(), uuid.New()

	svc.Subscribe(ctx, watcher, target)
	svc.UnsubscribeAll(watcher)
	svc.HandleConnect(ctx, target)

	assert.Empty(t, relay.eventsFor(watcher))
}

func TestBatchStatus_MixedResults(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	online, offline := uuid.New(), uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, online))
	require.NoError(t, store.SetUserOffline(ctx, offline))

	batch := svc.BatchStatus(ctx, []uuid.UUID{online, offline})
	require.Len(t, batch.Statuses, 2)
	assert.Equal(t, string(domain.UserStatusOnline), batch.Statuses[0].Status)
	assert.Equal(t, string(domain.UserStatusOffline), batch.Statuses[1].Status)
	assert.False(t, batch.Statuses[1].LastSeenAt.IsZero())
}

func TestHandleHeartbeat_RecreatesExpiredRecord(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, store.SetUserOnline(ctx, user))
	store.expire(user)
	svc.HandleHeartbeat(ctx, user)

	online, err := store.IsUserOnline(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)
}
