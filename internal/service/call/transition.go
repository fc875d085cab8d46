package call

import (
	"wavelink-backend/internal/domain"
)

// EventType is a signaling event dispatched into the call state machine
type EventType int

const (
	// EventDeliver: the invite reached at least one live mailbox
	EventDeliver EventType = iota
	// EventAccept: callee answered with accepted=true
	EventAccept
	// EventReject: callee answered with accepted=false
	EventReject
	// EventTimeout: the invite timer fired with no answer
	EventTimeout
	// EventConnected: a participant reported successful negotiation
	EventConnected
	// EventEnd: a party hung up (or the caller cancelled pre-answer)
	EventEnd
	// EventPeerLost: heartbeat loss or transport close on a participant
	EventPeerLost
)

// String returns the event name for logging
func (e EventType) String() string {
	switch e {
	case EventDeliver:
		return "deliver"
	case EventAccept:
		return "accept"
	case EventReject:
		return "reject"
	case EventTimeout:
		return "timeout"
	case EventConnected:
		return "connected"
	case EventEnd:
		return "end"
	case EventPeerLost:
		return "peer-lost"
	}
	return "unknown"
}

// transitions is the state machine: transitions[state][event] yields the next
// state. Missing entries are protocol violations and are dropped by callers.
var transitions = map[domain.CallState]map[EventType]domain.CallState{
	domain.CallStateInvited: {
		EventDeliver:  domain.CallStateRinging,
		EventAccept:   domain.CallStateAnswered,
		EventReject:   domain.CallStateDeclined,
		EventTimeout:  domain.CallStateDeclined,
		EventEnd:      domain.CallStateEnded,
		EventPeerLost: domain.CallStateEnded,
	},
	domain.CallStateRinging: {
		EventAccept:   domain.CallStateAnswered,
		EventReject:   domain.CallStateDeclined,
		EventTimeout:  domain.CallStateDeclined,
		EventEnd:      domain.CallStateEnded,
		EventPeerLost: domain.CallStateEnded,
	},
	domain.CallStateAnswered: {
		EventConnected: domain.CallStateConnected,
		EventEnd:       domain.CallStateEnded,
		EventPeerLost:  domain.CallStateEnded,
	},
	domain.CallStateConnected: {
		EventEnd:      domain.CallStateEnded,
		EventPeerLost: domain.CallStateEnded,
	},
}

// nextState returns the successor state for an event, or false if the event
// is not legal in the current state
func nextState(current domain.CallState, event EventType) (domain.CallState, bool) {
	row, ok := transitions[current]
	if !ok {
		return current, false
	}
	next, ok := row[event]
	return next, ok
}
