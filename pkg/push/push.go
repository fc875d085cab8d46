package push

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/pkg/logger"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenSource resolves the device tokens registered for a user.
// Token registration itself belongs to the platform's device service; this
// subsystem only reads.
type TokenSource interface {
	GetTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Service sends call-related notifications to users who have no live mailbox
type Service struct {
	provider Provider
	tokens   TokenSource
}

// NewService creates a new push notification service
func NewService(provider Provider, tokens TokenSource) *Service {
	return &Service{
		provider: provider,
		tokens:   tokens,
	}
}

// NotifyMissedCall best-effort notifies a user's devices about a call they
// could not receive. Failures are logged and swallowed: push delivery is never
// allowed to fail a signaling operation.
func (s *Service) NotifyMissedCall(ctx context.Context, userID uuid.UUID, callID uuid.UUID, callerName, callType, reason string) {
	if s == nil || s.provider == nil {
		return
	}

	tokens, err := s.tokens.GetTokens(ctx, userID)
	if err != nil {
		logger.Warn("Failed to resolve push tokens for missed call",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	notification := &Notification{
		Title:    "Missed call",
		Body:     callerName + " tried to call you",
		Priority: "high",
		Sound:    "default",
		Category: "missed_call",
		Data: map[string]string{
			"call_id":   callID.String(),
			"call_type": callType,
			"reason":    reason,
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		},
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		logger.Warn("Missed call push failed",
			zap.String("user_id", userID.String()),
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}

	logger.Debug("Missed call push sent",
		zap.String("user_id", userID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
}

// MockProvider is a no-op provider for development and tests
type MockProvider struct {
	Sent []*Notification
}

// Send implements Provider for the mock
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.Sent = append(m.Sent, notification)
	return &SendResult{SuccessCount: len(tokens)}, nil
}
