// Package metrics exposes the sensor's Prometheus instruments.
package metrics

import (
	"Go2NetSentry/internal/core/model"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "go2netsentry"

// Metrics groups every collector the sensor updates.
type Metrics struct {
	registry *prometheus.Registry

	PacketsProcessed prometheus.Counter
	DecodeErrors     prometheus.Counter
	Verdicts         *prometheus.CounterVec
	Suppressed       prometheus.Counter
	SinkFailures     *prometheus.CounterVec
	Scores           *prometheus.CounterVec
	FlowsEvicted     *prometheus.CounterVec
	ActiveFlows      prometheus.Gauge
	Entropy          prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Total number of packets run through the pipeline",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Packets that decoded only partially",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Filter chain verdicts by reason",
		}, []string{"reason"}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_suppressed_total",
			Help:      "Rejected records not forwarded to sinks under the drop policy",
		}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Sink errors, timeouts and panics by sink",
		}, []string{"sink"}),
		Scores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Classifier results by predicted label",
		}, []string{"label"}),
		FlowsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_evicted_total",
			Help:      "Flows removed from the flow table by cause",
		}, []string{"cause"}),
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_flows",
			Help:      "Flows currently tracked in the flow table",
		}),
		Entropy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_entropy_bits",
			Help:      "Shannon entropy of inspected packets",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
	}

	m.registry.MustRegister(
		m.PacketsProcessed,
		m.DecodeErrors,
		m.Verdicts,
		m.Suppressed,
		m.SinkFailures,
		m.Scores,
		m.FlowsEvicted,
		m.ActiveFlows,
		m.Entropy,
	)
	// Pre-create every reason so dashboards see zeros before the first rejection.
	m.Verdicts.WithLabelValues(model.ReasonNone.String())
	for _, r := range model.Reasons {
		m.Verdicts.WithLabelValues(r.String())
	}
	return m
}

// ObserveRecord updates the per-packet collectors.
func (m *Metrics) ObserveRecord(rec *model.FeatureRecord, verdict model.Verdict) {
	m.PacketsProcessed.Inc()
	m.Entropy.Observe(rec.Entropy)
	m.Verdicts.WithLabelValues(verdict.Reason.String()).Inc()
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
