package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeInvalid       = "invalid_request"
	OutcomeUnsupported   = "unsupported_model"
	OutcomeNoCredential  = "missing_credential"
	OutcomeUpstreamError = "upstream_error"
	OutcomeTimeout       = "timeout"
	OutcomeStreamError   = "stream_error"
	OutcomeClientGone    = "client_gone"
)

// RelayMetrics exposes counters/histograms for the chat relay.
type RelayMetrics struct {
	requestsTotal    *prometheus.CounterVec
	handshakeLatency *prometheus.HistogramVec
	eventsTotal      *prometheus.CounterVec
	streamDuration   *prometheus.HistogramVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Chat relay requests by model and outcome",
		}, []string{"model", "outcome"}),
		handshakeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "handshake_seconds",
			Help:      "Time from request until the first upstream chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30},
		}, []string{"model", "status"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "stream_events_total",
			Help:      "Stream events forwarded to clients",
		}, []string{"model"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "stream_duration_seconds",
			Help:      "Duration of relayed streams",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"model", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.handshakeLatency, m.eventsTotal, m.streamDuration)
	return m
}

func (m *RelayMetrics) ObserveRequest(model, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(model, outcome).Inc()
}

func (m *RelayMetrics) ObserveHandshake(model string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.handshakeLatency.WithLabelValues(model, status).Observe(seconds)
}

func (m *RelayMetrics) ObserveStream(model, outcome string, events int, seconds float64) {
	if m == nil {
		return
	}
	if events > 0 {
		m.eventsTotal.WithLabelValues(model).Add(float64(events))
	}
	m.streamDuration.WithLabelValues(model, outcome).Observe(seconds)
}
