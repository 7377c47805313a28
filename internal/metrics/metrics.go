// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "vertigate"

// Metrics holds the gateway's collectors. A single instance is created at
// startup and shared by the adapter and the HTTP layer.
type Metrics struct {
	// HTTPRequests counts completed HTTP requests by handler and status code.
	HTTPRequests *prometheus.CounterVec

	// SessionsCreated counts upstream sessions created on cache misses.
	SessionsCreated prometheus.Counter
	// SessionsReused counts turns routed into an existing upstream session.
	SessionsReused prometheus.Counter

	// CacheEvictions counts affinity records evicted under capacity pressure.
	CacheEvictions prometheus.Counter

	// UpstreamErrors counts turns terminated by an upstream error.
	UpstreamErrors prometheus.Counter
}

// New creates the gateway collectors and registers them, along with the
// standard process and Go runtime collectors, on reg. entries reports the
// current affinity cache size and is exported as a gauge.
func New(reg *prometheus.Registry, entries func() float64) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"handler", "code"},
		),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sessions_created_total",
			Help:      "Total number of upstream chat sessions created",
		}),
		SessionsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sessions_reused_total",
			Help:      "Total number of turns that reused a cached upstream session",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_cache_evictions_total",
			Help:      "Total number of conversation affinity records evicted",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of turns terminated by an upstream error",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.SessionsCreated,
		m.SessionsReused,
		m.CacheEvictions,
		m.UpstreamErrors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_cache_entries",
			Help:      "Current number of conversation affinity records",
		}, entries),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
