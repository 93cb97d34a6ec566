// Package metrics exposes devagent's Prometheus collectors, adapted from
// oriys-nova's metrics.PrometheusMetrics: the same
// namespace-plus-registry-plus-typed-collector-fields shape, scaled down to
// the counters/gauges a single-connection device agent can usefully emit
// (SPEC_FULL.md §9.6).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devagent"

// Metrics wraps the Prometheus collectors registered for this process.
type Metrics struct {
	registry *prometheus.Registry

	ReconnectsTotal       prometheus.Counter
	HeartbeatsSentTotal   prometheus.Counter
	RPCCallsTotal         *prometheus.CounterVec
	FotaBytesWritten      prometheus.Counter
	FotaPhase             prometheus.Gauge
	OutboundQueueDrops    prometheus.Counter
}

// New constructs and registers the collector set.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of session reconnects.",
		}),
		HeartbeatsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Total number of HTBM frames sent.",
		}),
		RPCCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Total number of inbound RPC calls dispatched, by method and outcome.",
		}, []string{"method", "outcome"}),
		FotaBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fota_bytes_written",
			Help:      "Cumulative bytes written to flash across all FOTA transfers.",
		}),
		FotaPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fota_phase",
			Help:      "Current FOTA transfer phase (integer encoding of fota.Phase).",
		}),
		OutboundQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_drops_total",
			Help:      "Total number of Send calls that failed because the outbound queue was full.",
		}),
	}

	registry.MustRegister(
		m.ReconnectsTotal,
		m.HeartbeatsSentTotal,
		m.RPCCallsTotal,
		m.FotaBytesWritten,
		m.FotaPhase,
		m.OutboundQueueDrops,
	)

	return m
}

// Registry returns the Prometheus registry for wiring into promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
