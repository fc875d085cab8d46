package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Negotiation Relay Metrics
	negotiationRelayedTotal *prometheus.CounterVec
	negotiationDroppedTotal *prometheus.CounterVec

	// Presence Metrics
	presenceOnline       prometheus.Gauge
	presenceEventsTotal  *prometheus.CounterVec
	heartbeatMissedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		websocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of currently registered WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages by event type and direction",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of call invites by call type and outcome",
				ConstLabels: labels,
			},
			[]string{"call_type", "outcome"},
		),
		callsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of call sessions currently in the registry",
				ConstLabels: labels,
			},
		),
		callsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
		callsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of invites rejected or failed, by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		negotiationRelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "negotiation_messages_relayed_total",
				Help:        "Negotiation messages forwarded to a peer, by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		negotiationDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "negotiation_messages_dropped_total",
				Help:        "Negotiation messages dropped without forwarding, by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		presenceOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "presence_online_users",
				Help:        "Number of users currently marked online",
				ConstLabels: labels,
			},
		),
		presenceEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "presence_events_total",
				Help:        "Presence transitions broadcast to subscribers, by status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		heartbeatMissedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "heartbeat_missed_total",
				Help:        "Presence records that expired without an explicit disconnect",
				ConstLabels: labels,
			},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.websocketConnections,
		m.websocketMessagesTotal,
		m.websocketErrorsTotal,
		m.callsTotal,
		m.callsActive,
		m.callsDuration,
		m.callsFailedTotal,
		m.negotiationRelayedTotal,
		m.negotiationDroppedTotal,
		m.presenceOnline,
		m.presenceEventsTotal,
		m.heartbeatMissedTotal,
	)

	return m
}

// GetRegistry returns the private Prometheus registry for the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocketConnected records a new registered connection
func (m *Metrics) WebSocketConnected() {
	m.websocketConnections.Inc()
}

// WebSocketDisconnected records a closed connection
func (m *Metrics) WebSocketDisconnected() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage counts one message; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError counts one transport or decode error
func (m *Metrics) RecordWebSocketError(kind string) {
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCall records a call invite outcome (accepted, declined, timeout, busy, error)
func (m *Metrics) RecordCall(callType, outcome string) {
	m.callsTotal.WithLabelValues(callType, outcome).Inc()
}

// CallStarted increments the active calls gauge
func (m *Metrics) CallStarted() {
	m.callsActive.Inc()
}

// CallEnded decrements the active calls gauge and observes duration
func (m *Metrics) CallEnded(callType string, duration time.Duration) {
	m.callsActive.Dec()
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallFailed counts a rejected or failed invite
func (m *Metrics) RecordCallFailed(reason string) {
	m.callsFailedTotal.WithLabelValues(reason).Inc()
}

// RecordNegotiationRelayed counts a forwarded offer/answer/candidate
func (m *Metrics) RecordNegotiationRelayed(kind string) {
	m.negotiationRelayedTotal.WithLabelValues(kind).Inc()
}

// RecordNegotiationDropped counts a dropped negotiation message
func (m *Metrics) RecordNegotiationDropped(reason string) {
	m.negotiationDroppedTotal.WithLabelValues(reason).Inc()
}

// SetPresenceOnline sets the online users gauge
func (m *Metrics) SetPresenceOnline(count int64) {
	m.presenceOnline.Set(float64(count))
}

// RecordPresenceEvent counts one online/offline broadcast
func (m *Metrics) RecordPresenceEvent(status string) {
	m.presenceEventsTotal.WithLabelValues(status).Inc()
}

// RecordHeartbeatMissed counts a presence expiry without explicit disconnect
func (m *Metrics) RecordHeartbeatMissed() {
	m.heartbeatMissedTotal.Inc()
}
