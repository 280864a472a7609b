package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reftool"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	SyncRuns       *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	HeldEvents     prometheus.Gauge
	APIRequests    *prometheus.CounterVec
	TokenGrants    prometheus.Counter
	UserCacheReads *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Finished match synchronisations by mode and status",
		}, []string{"mode", "status"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Match synchronisation wall time",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"mode"}),
		HeldEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "held_events",
			Help:      "Events currently held for the tracked match",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Upstream API requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		TokenGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_grants_total",
			Help:      "Client-credentials grants performed",
		}),
		UserCacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_cache_reads_total",
			Help:      "User cache lookups by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.SyncRuns,
		m.SyncDuration,
		m.HeldEvents,
		m.APIRequests,
		m.TokenGrants,
		m.UserCacheReads,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSync(mode, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(mode, status).Inc()
	m.SyncDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) SetHeldEvents(n int) {
	if m == nil {
		return
	}
	m.HeldEvents.Set(float64(n))
}

// ObserveAPIRequest records one upstream call; code 0 means a transport failure.
func (m *Metrics) ObserveAPIRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func (m *Metrics) IncTokenGrants() {
	if m == nil {
		return
	}
	m.TokenGrants.Inc()
}

func (m *Metrics) IncUserCache(result string) {
	if m == nil {
		return
	}
	m.UserCacheReads.WithLabelValues(result).Inc()
}
