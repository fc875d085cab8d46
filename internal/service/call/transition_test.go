package call

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wavelink-backend/internal/domain"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		current domain.CallState
		event   EventType
		want    domain.CallState
		legal   bool
	}{
		{"invited delivers to ringing", domain.CallStateInvited, EventDeliver, domain.CallStateRinging, true},
		{"invited may be accepted before delivery ack", domain.CallStateInvited, EventAccept, domain.CallStateAnswered, true},
		{"ringing accepted", domain.CallStateRinging, EventAccept, domain.CallStateAnswered, true},
		{"ringing rejected", domain.CallStateRinging, EventReject, domain.CallStateDeclined, true},
		{"ringing times out", domain.CallStateRinging, EventTimeout, domain.CallStateDeclined, true},
		{"ringing cancelled", domain.CallStateRinging, EventEnd, domain.CallStateEnded, true},
		{"answered connects", domain.CallStateAnswered, EventConnected, domain.CallStateConnected, true},
		{"answered ends", domain.CallStateAnswered, EventEnd, domain.CallStateEnded, true},
		{"answered loses peer", domain.CallStateAnswered, EventPeerLost, domain.CallStateEnded, true},
		{"connected ends", domain.CallStateConnected, EventEnd, domain.CallStateEnded, true},
		{"connected loses peer", domain.CallStateConnected, EventPeerLost, domain.CallStateEnded, true},

		{"ringing cannot re-deliver", domain.CallStateRinging, EventDeliver, domain.CallStateRinging, false},
		{"answered cannot be accepted again", domain.CallStateAnswered, EventAccept, domain.CallStateAnswered, false},
		{"answered cannot time out", domain.CallStateAnswered, EventTimeout, domain.CallStateAnswered, false},
		{"connected cannot connect twice", domain.CallStateConnected, EventConnected, domain.CallStateConnected, false},
		{"invited cannot connect", domain.CallStateInvited, EventConnected, domain.CallStateInvited, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextState(tt.current, tt.event)
			assert.Equal(t, tt.legal, ok)
			if tt.legal {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTerminalStatesAdmitNoTransitions(t *testing.T) {
	events := []EventType{EventDeliver, EventAccept, EventReject, EventTimeout, EventConnected, EventEnd, EventPeerLost}
	for _, state := range []domain.CallState{domain.CallStateEnded, domain.CallStateDeclined} {
		for _, ev := range events {
			_, ok := nextState(state, ev)
			assert.False(t, ok, "state %s should not accept %s", state, ev)
		}
	}
}
