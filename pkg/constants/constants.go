// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout is the deadline applied to each outbound WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Signaling constants
const (
	// InviteTimeout is how long an unanswered invite rings before it is
	// declined with reason "timeout"
	InviteTimeout = 30 * time.Second

	// HeartbeatInterval is how often a registered connection refreshes its
	// presence record
	HeartbeatInterval = 30 * time.Second

	// PresenceTTL is the lifetime of a presence record absent refresh.
	// Must exceed HeartbeatInterval with margin to tolerate one missed tick.
	PresenceTTL = 60 * time.Second
)

// Call lifecycle states
const (
	// CallStateInvited indicates an invite exists but has not reached a mailbox yet
	CallStateInvited = "invited"

	// CallStateRinging indicates the invite was delivered and is awaiting an answer
	CallStateRinging = "ringing"

	// CallStateAnswered indicates the callee accepted; peers are negotiating
	CallStateAnswered = "answered"

	// CallStateConnected indicates media negotiation succeeded
	CallStateConnected = "connected"

	// CallStateEnded is terminal: either side hung up or dropped
	CallStateEnded = "ended"

	// CallStateDeclined is terminal: rejected, timed out, or never deliverable
	CallStateDeclined = "declined"
)

// Call and chat kinds
const (
	// CallTypeAudio indicates an audio-only call
	CallTypeAudio = "audio"

	// CallTypeVideo indicates a video call (direct chats only)
	CallTypeVideo = "video"

	// ChatTypeDirect is a two-party conversation
	ChatTypeDirect = "direct"

	// ChatTypeGroup is a multi-member room
	ChatTypeGroup = "group"
)

// Decline and end reasons carried on terminal call events
const (
	ReasonDeclined         = "declined"
	ReasonTimeout          = "timeout"
	ReasonBusy             = "busy"
	ReasonInternalError    = "internal-error"
	ReasonHangup           = "hangup"
	ReasonPeerDisconnected = "peer-disconnected"
)

// User status constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"

	// UserStatusUnknown indicates liveness could not be determined
	// (presence store unreachable); never reported as offline
	UserStatusUnknown = "unknown"
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)
