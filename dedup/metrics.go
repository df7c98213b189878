/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package dedup

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics about request deduplication.
type MetricsCollector interface {
	// IncTotal increments the total number of requests passed through the deduplicator.
	IncTotal()

	// IncDeduplicated increments the number of requests collapsed into an in-flight execution.
	IncDeduplicated()

	// SetPending sets the current number of unsettled entries.
	SetPending(int)

	// AddSwept increments the total number of stale entries removed by the sweep.
	AddSwept(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for request deduplication.
type PrometheusMetrics struct {
	RequestsTotal     prometheus.Counter
	DeduplicatedTotal prometheus.Counter
	PendingAmount     prometheus.Gauge
	SweptTotal        prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_requests_total",
			Help:        "Total number of requests passed through the deduplicator.",
			ConstLabels: opts.ConstLabels,
		}),
		DeduplicatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_deduplicated_total",
			Help:        "Number of requests collapsed into an already in-flight execution.",
			ConstLabels: opts.ConstLabels,
		}),
		PendingAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_pending_amount",
			Help:        "Current number of unsettled in-flight entries.",
			ConstLabels: opts.ConstLabels,
		}),
		SweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dedup_swept_total",
			Help:        "Number of stale pending entries removed by the periodic sweep.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.RequestsTotal, pm.DeduplicatedTotal, pm.PendingAmount, pm.SweptTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.RequestsTotal)
	prometheus.Unregister(pm.DeduplicatedTotal)
	prometheus.Unregister(pm.PendingAmount)
	prometheus.Unregister(pm.SweptTotal)
}

// IncTotal increments the total number of requests passed through the deduplicator.
func (pm *PrometheusMetrics) IncTotal() { pm.RequestsTotal.Inc() }

// IncDeduplicated increments the number of requests collapsed into an in-flight execution.
func (pm *PrometheusMetrics) IncDeduplicated() { pm.DeduplicatedTotal.Inc() }

// SetPending sets the current number of unsettled entries.
func (pm *PrometheusMetrics) SetPending(n int) { pm.PendingAmount.Set(float64(n)) }

// AddSwept increments the total number of stale entries removed by the sweep.
func (pm *PrometheusMetrics) AddSwept(n int) { pm.SweptTotal.Add(float64(n)) }

type disabledMetrics struct{}

func (disabledMetrics) IncTotal()        {}
func (disabledMetrics) IncDeduplicated() {}
func (disabledMetrics) SetPending(int)   {}
func (disabledMetrics) AddSwept(int)     {}
