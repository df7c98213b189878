/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusPerfMonitor is a PerfMonitor that records operation durations and
// failures in Prometheus. It is purely observational.
type PrometheusPerfMonitor struct {
	DurationSeconds *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
}

// PrometheusPerfMonitorOpts represents options for PrometheusPerfMonitor.
type PrometheusPerfMonitorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets overrides the default histogram buckets.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// NewPrometheusPerfMonitor creates a new PrometheusPerfMonitor with default options.
func NewPrometheusPerfMonitor() *PrometheusPerfMonitor {
	return NewPrometheusPerfMonitorWithOpts(PrometheusPerfMonitorOpts{})
}

// NewPrometheusPerfMonitorWithOpts creates a new PrometheusPerfMonitor with the provided options.
func NewPrometheusPerfMonitorWithOpts(opts PrometheusPerfMonitorOpts) *PrometheusPerfMonitor {
	buckets := opts.DurationBuckets
	if buckets == nil {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}
	return &PrometheusPerfMonitor{
		DurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "gate_operation_duration_seconds",
			Help:        "Duration of gated operations.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"operation"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "gate_operation_errors_total",
			Help:        "Total number of failed gated operations.",
			ConstLabels: opts.ConstLabels,
		}, []string{"operation"}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusPerfMonitor) MustRegister() {
	prometheus.MustRegister(pm.DurationSeconds, pm.ErrorsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusPerfMonitor) Unregister() {
	prometheus.Unregister(pm.DurationSeconds)
	prometheus.Unregister(pm.ErrorsTotal)
}

// Measure runs the task, recording its duration and outcome.
// The task's result and error are returned unchanged.
func (pm *PrometheusPerfMonitor) Measure(
	ctx context.Context, operation string, task func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	start := time.Now()
	res, err := task(ctx)
	pm.DurationSeconds.With(prometheus.Labels{"operation": operation}).Observe(time.Since(start).Seconds())
	if err != nil {
		pm.ErrorsTotal.With(prometheus.Labels{"operation": operation}).Inc()
	}
	return res, err
}
