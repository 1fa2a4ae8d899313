package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Deskstream
type Metrics struct {
	// Socket event counters
	EventsReceivedTotal *prometheus.CounterVec
	EventsDroppedTotal  *prometheus.CounterVec

	// Connection lifecycle
	ConnectsTotal  *prometheus.CounterVec
	ConnectedState *prometheus.GaugeVec
	JoinsTotal     *prometheus.CounterVec

	// Backend REST client
	BackendRequestsTotal *prometheus.CounterVec
	BackendFailuresTotal *prometheus.CounterVec

	// State gauges
	UnreadNotifications prometheus.Gauge
	NotificationsHeld   prometheus.Gauge
	AgentsTracked       prometheus.Gauge

	// Local state API
	StateAPIRequestsTotal          *prometheus.CounterVec
	StateAPIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_events_received_total",
				Help: "Total number of socket events dispatched to reducers",
			},
			[]string{"event"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_events_dropped_total",
				Help: "Total number of socket events dropped before reaching a reducer",
			},
			[]string{"event", "reason"},
		),

		ConnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_connects_total",
				Help: "Total number of established socket connections, including reconnects",
			},
			[]string{"concern"},
		),
		ConnectedState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deskstream_connected",
				Help: "Whether the socket for a concern is currently connected (0 or 1)",
			},
			[]string{"concern"},
		),
		JoinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_room_joins_total",
				Help: "Total number of room join messages emitted",
			},
			[]string{"room"},
		),

		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_backend_requests_total",
				Help: "Total number of REST requests issued to the support backend",
			},
			[]string{"op"},
		),
		BackendFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_backend_failures_total",
				Help: "Total number of failed REST requests to the support backend",
			},
			[]string{"op"},
		),

		UnreadNotifications: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskstream_unread_notifications",
				Help: "Current unread notification counter",
			},
		),
		NotificationsHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskstream_notifications_held",
				Help: "Number of notifications in the local projection",
			},
		),
		AgentsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskstream_agents_tracked",
				Help: "Number of agent status records in the local projection",
			},
		),

		StateAPIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskstream_stateapi_requests_total",
				Help: "Total number of local state API requests",
			},
			[]string{"method", "path", "status"},
		),
		StateAPIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskstream_stateapi_request_duration_seconds",
				Help:    "Local state API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskstream_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskstream_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EventsReceivedTotal,
		m.EventsDroppedTotal,
		m.ConnectsTotal,
		m.ConnectedState,
		m.JoinsTotal,
		m.BackendRequestsTotal,
		m.BackendFailuresTotal,
		m.UnreadNotifications,
		m.NotificationsHeld,
		m.AgentsTracked,
		m.StateAPIRequestsTotal,
		m.StateAPIRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEventReceived increments the received event counter
func IncEventReceived(event string) {
	if m := Global(); m != nil {
		m.EventsReceivedTotal.WithLabelValues(event).Inc()
	}
}

// IncEventDropped increments the dropped event counter
func IncEventDropped(event, reason string) {
	if m := Global(); m != nil {
		m.EventsDroppedTotal.WithLabelValues(event, reason).Inc()
	}
}

// IncConnects increments the connect counter for a concern
func IncConnects(concern string) {
	if m := Global(); m != nil {
		m.ConnectsTotal.WithLabelValues(concern).Inc()
	}
}

// SetConnected records the connected flag for a concern
func SetConnected(concern string, connected bool) {
	if m := Global(); m != nil {
		v := 0.0
		if connected {
			v = 1.0
		}
		m.ConnectedState.WithLabelValues(concern).Set(v)
	}
}

// IncJoinsEmitted increments the room join counter
func IncJoinsEmitted(room string) {
	if m := Global(); m != nil {
		m.JoinsTotal.WithLabelValues(room).Inc()
	}
}

// IncBackendRequest increments the backend request counter
func IncBackendRequest(op string) {
	if m := Global(); m != nil {
		m.BackendRequestsTotal.WithLabelValues(op).Inc()
	}
}

// IncBackendFailure increments the backend failure counter
func IncBackendFailure(op string) {
	if m := Global(); m != nil {
		m.BackendFailuresTotal.WithLabelValues(op).Inc()
	}
}
