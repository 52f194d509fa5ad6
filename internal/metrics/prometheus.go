// Package metrics exports chat relay metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

// Exporter implements chat.Observer, recording pacer activity as
// Prometheus counters and gauges.
type Exporter struct {
	registry *prometheus.Registry

	blocksEmitted   prometheus.Counter
	groupsCompleted prometheus.Counter
	buffersComplete prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewExporter creates an Exporter with its own registry.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		blocksEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etherialsoul",
			Subsystem: "chat",
			Name:      "blocks_emitted_total",
			Help:      "Total number of response blocks emitted to clients",
		}),
		groupsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etherialsoul",
			Subsystem: "chat",
			Name:      "groups_completed_total",
			Help:      "Total number of block groups drained to completion",
		}),
		buffersComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "etherialsoul",
			Subsystem: "chat",
			Name:      "buffers_completed_total",
			Help:      "Total number of response buffers drained to completion",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "etherialsoul",
			Subsystem: "chat",
			Name:      "active_sessions",
			Help:      "Number of sessions currently held in the session store",
		}),
	}

	registry.MustRegister(e.blocksEmitted, e.groupsCompleted, e.buffersComplete, e.activeSessions)
	return e
}

var _ chat.Observer = (*Exporter)(nil)

func (e *Exporter) BlockEmitted(string)    { e.blocksEmitted.Inc() }
func (e *Exporter) GroupCompleted(string)  { e.groupsCompleted.Inc() }
func (e *Exporter) BufferCompleted(string) { e.buffersComplete.Inc() }

// SetActiveSessions sets the active-session gauge from a server-polled
// count (internal/chat.SessionStore.Count).
func (e *Exporter) SetActiveSessions(n int) {
	e.activeSessions.Set(float64(n))
}

// Handler returns the HTTP handler serving /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
