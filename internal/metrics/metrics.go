// Package metrics holds the Prometheus collectors of the proxy and the
// refresh coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Proxy request outcomes.
const (
	OutcomeUnmatched     = "unmatched"
	OutcomeAttached      = "attached"
	OutcomePassthrough   = "passthrough"
	OutcomeRetried       = "retried"
	OutcomeTokenSeeded   = "token_seeded"
	OutcomeStorageFailed = "storage_failed"
	OutcomeError         = "error"
)

// Refresh results.
const (
	ResultSuccess         = "success"
	ResultFailure         = "failure"
	ResultReauthorization = "reauthorization_required"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	ProxyRequests    *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	RefreshCoalesced prometheus.Counter
	RefreshDuration  prometheus.Histogram
	EventsDropped    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenrelay_proxy_requests_total",
			Help: "Total number of requests handled by the interception transport",
		}, []string{"outcome"}),

		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenrelay_refresh_total",
			Help: "Total number of refresh grants sent to token endpoints",
		}, []string{"result"}),

		RefreshCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenrelay_refresh_coalesced_total",
			Help: "Total number of refresh calls whose result was shared with concurrent callers",
		}),

		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenrelay_refresh_duration_seconds",
			Help:    "Refresh grant duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokenrelay_events_dropped_total",
			Help: "Total number of notifications dropped because a subscriber was full",
		}),
	}
}

// ObserveProxyRequest counts one intercepted request.
func (m *Metrics) ObserveProxyRequest(outcome string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records one refresh grant.
func (m *Metrics) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// ObserveCoalesced counts a caller whose refresh result was shared.
func (m *Metrics) ObserveCoalesced() {
	if m == nil {
		return
	}
	m.RefreshCoalesced.Inc()
}

// ObserveEventDropped counts one dropped notification.
func (m *Metrics) ObserveEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
