// Package metrics holds the Prometheus collectors of the presence server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atmosphere"

type Metrics struct {
	registry *prometheus.Registry

	OnlineCount      prometheus.Gauge
	Connections      prometheus.Gauge
	Broadcasts       *prometheus.CounterVec
	RejectedFrames   *prometheus.CounterVec
	LocationUpdates  prometheus.Counter
	LookupFallbacks  *prometheus.CounterVec
	LookupCacheHits  *prometheus.CounterVec
	LookupDurationMs *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OnlineCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_count",
			Help:      "Connections that have reported a location.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open presence sockets, with or without a location.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast frames sent, by event.",
		}, []string{"event"}),
		RejectedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_frames_total",
			Help:      "Client frames rejected, by error code.",
		}, []string{"code"}),
		LocationUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Accepted update_location frames.",
		}),
		LookupFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "fallbacks_total",
			Help:      "Lookups answered with a fallback value, by lookup.",
		}, []string{"lookup"}),
		LookupCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "cache_hits_total",
			Help:      "Lookups served from cache, by lookup.",
		}, []string{"lookup"}),
		LookupDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "duration_ms",
			Help:      "Upstream lookup latency in milliseconds, by lookup.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"lookup"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
