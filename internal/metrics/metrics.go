// ABOUTME: Prometheus metrics for messaging events and HTTP requests
// ABOUTME: Each Metrics owns its own registry so servers and tests never share collectors

// Package metrics provides Prometheus metrics for coven-dm.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_dm"

// Metrics holds the collectors for one server instance.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent         prometheus.Counter
	ConversationsCreated prometheus.Counter
	ConversationsPurged  prometheus.Counter
	PairConflicts        prometheus.Counter
	StateTransitions     *prometheus.CounterVec
	IdempotentReplays    prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of direct messages appended",
		}),
		ConversationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Total number of conversations created on first contact",
		}),
		ConversationsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_purged_total",
			Help:      "Total number of conversations removed after both participants deleted them",
		}),
		PairConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_conflicts_total",
			Help:      "Total number of concurrent first-contact creates that lost to another request",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_state_transitions_total",
			Help:      "Total number of conversation lifecycle transitions",
		}, []string{"from_state", "to_state"}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Total number of sends answered from the idempotency cache",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageSent()         { m.MessagesSent.Inc() }
func (m *Metrics) ConversationCreated() { m.ConversationsCreated.Inc() }
func (m *Metrics) ConversationPurged()  { m.ConversationsPurged.Inc() }
func (m *Metrics) PairConflict()        { m.PairConflicts.Inc() }
func (m *Metrics) IdempotentReplay()    { m.IdempotentReplays.Inc() }

// StateTransition records a conversation lifecycle change.
func (m *Metrics) StateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
