package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Store Metrics
	factTransitionsTotal    *prometheus.CounterVec
	walletConnected         *prometheus.GaugeVec
	disconnectRequestsTotal *prometheus.CounterVec
	claimConflictsTotal     *prometheus.CounterVec

	// Bridge Metrics
	bridgeEventsTotal *prometheus.CounterVec
	bridgeErrorsTotal *prometheus.CounterVec

	// Persistence Metrics
	persistDuration   *prometheus.HistogramVec
	persistOperations *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		factTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_fact_transitions_total",
				Help: "Total number of wallet fact transitions by chain, wallet kind and direction",
			},
			[]string{"chain", "wallet_kind", "direction"},
		),
		walletConnected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wallet_connected",
				Help: "1 if the chain currently owns the active wallet fact, 0 otherwise",
			},
			[]string{"chain"},
		),
		disconnectRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_disconnect_requests_total",
				Help: "Total number of disconnect broadcasts by target",
			},
			[]string{"target"},
		),
		claimConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_claim_conflicts_total",
				Help: "Total number of connect claims rejected because another chain held the claim",
			},
			[]string{"chain", "holder"},
		),

		bridgeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_events_total",
				Help: "Total number of native SDK status changes observed by bridges",
			},
			[]string{"chain", "event"},
		),
		bridgeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_errors_total",
				Help: "Total number of SDK-reported failures captured by bridges",
			},
			[]string{"chain", "reason"},
		),

		persistDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "persist_operation_duration_seconds",
				Help:    "Duration of persistence operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "backend"},
		),
		persistOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persist_operations_total",
				Help: "Total number of persistence operations",
			},
			[]string{"operation", "backend", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"stream"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Store metric helpers

// RecordFactTransition records a published fact. direction is "connect" or "disconnect".
func (m *Metrics) RecordFactTransition(chain, walletKind, direction string) {
	if m == nil {
		return
	}
	m.factTransitionsTotal.WithLabelValues(chain, walletKind, direction).Inc()
}

// SetConnectedChain marks chain as the sole owner of the active fact.
// An empty chain clears every gauge.
func (m *Metrics) SetConnectedChain(chains []string, active string) {
	if m == nil {
		return
	}
	for _, c := range chains {
		v := 0.0
		if c == active {
			v = 1
		}
		m.walletConnected.WithLabelValues(c).Set(v)
	}
}

// RecordDisconnectRequest records a disconnect broadcast.
func (m *Metrics) RecordDisconnectRequest(target string) {
	if m == nil {
		return
	}
	m.disconnectRequestsTotal.WithLabelValues(target).Inc()
}

// RecordClaimConflict records a rejected connect claim.
func (m *Metrics) RecordClaimConflict(chain, holder string) {
	if m == nil {
		return
	}
	m.claimConflictsTotal.WithLabelValues(chain, holder).Inc()
}

// Bridge metric helpers

// RecordBridgeEvent records a native status change seen by a bridge.
func (m *Metrics) RecordBridgeEvent(chain, event string) {
	if m == nil {
		return
	}
	m.bridgeEventsTotal.WithLabelValues(chain, event).Inc()
}

// RecordBridgeError records an SDK failure captured into the session.
func (m *Metrics) RecordBridgeError(chain, reason string) {
	if m == nil {
		return
	}
	m.bridgeErrorsTotal.WithLabelValues(chain, reason).Inc()
}

// Persistence metric helpers

// RecordPersist records a persistence operation with duration.
func (m *Metrics) RecordPersist(operation, backend string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.persistDuration.WithLabelValues(operation, backend).Observe(duration)
	m.persistOperations.WithLabelValues(operation, backend, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(stream string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(stream).Add(delta)
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
