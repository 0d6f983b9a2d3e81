package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"msg_client/client/chat/domain"
)

// Metrics holds the connection manager's Prometheus collectors. Each
// instance owns its registry so several managers can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// ConnectionState is 1 for the current state and 0 for the others.
	// Labels: state
	ConnectionState *prometheus.GaugeVec

	// Outbound counts socket actions by event and outcome (sent|queued|flushed).
	Outbound *prometheus.CounterVec

	// Inbound counts server events by event and merge outcome.
	Inbound *prometheus.CounterVec

	RateLimited  prometheus.Counter
	QueueEvicted prometheus.Counter
	StateChanges prometheus.Counter
	RESTRequests *prometheus.CounterVec
	QueueLength  prometheus.Gauge
	BucketTokens prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatclient_connection_state",
			Help: "Current connection state (1 for the active state)",
		}, []string{"state"}),
		Outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_outbound_total",
			Help: "Outbound socket actions by event and outcome",
		}, []string{"event", "outcome"}),
		Inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_inbound_total",
			Help: "Inbound socket events by event and merge outcome",
		}, []string{"event", "outcome"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatclient_rate_limited_total",
			Help: "sendMessage calls routed to the queue by the token bucket",
		}),
		QueueEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatclient_queue_evicted_total",
			Help: "Outbound items dropped because the queue was full",
		}),
		StateChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatclient_state_changes_total",
			Help: "Connection state transitions",
		}),
		RESTRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_rest_requests_total",
			Help: "Request/response collaborator calls by operation and status",
		}, []string{"operation", "status"}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatclient_queue_length",
			Help: "Items waiting in the outbound queue",
		}),
		BucketTokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatclient_bucket_tokens",
			Help: "Tokens available in the send rate limiter",
		}),
	}
}

func (m *Metrics) observeState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	m.StateChanges.Inc()
	for _, s := range []domain.ConnectionState{
		domain.StateDisconnected, domain.StateConnecting, domain.StateConnected, domain.StateReconnecting,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) outbound(event, outcome string) {
	if m == nil {
		return
	}
	m.Outbound.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) inbound(event, outcome string) {
	if m == nil {
		return
	}
	m.Inbound.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) rest(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RESTRequests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) levels(queued, tokens int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(queued))
	m.BucketTokens.Set(float64(tokens))
}
