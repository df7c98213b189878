/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "github.com/prometheus/client_golang/prometheus"

// Throttle wait reasons reported to the metrics collector.
const (
	WaitReasonQuota    = "quota"
	WaitReasonBurst    = "burst"
	WaitReasonInterval = "interval"
)

// MetricsCollector represents a collector of metrics about admission control.
type MetricsCollector interface {
	// SetQueueLength sets the current number of queued entries for the resource class.
	SetQueueLength(resource ResourceClass, length int)

	// SetQuotaRemaining sets the currently tracked remaining quota for the resource class.
	SetQuotaRemaining(resource ResourceClass, remaining int)

	// IncDispatched increments the total number of dispatched tasks for the resource class.
	IncDispatched(resource ResourceClass)

	// IncThrottleWaits increments the total number of throttle waits with the given reason.
	IncThrottleWaits(resource ResourceClass, reason string)
}

// PrometheusMetrics represents Prometheus metrics for admission control.
type PrometheusMetrics struct {
	QueueLength        *prometheus.GaugeVec
	QuotaRemaining     *prometheus.GaugeVec
	DispatchedTotal    *prometheus.CounterVec
	ThrottleWaitsTotal *prometheus.CounterVec
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		QueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   opts.Namespace,
				Name:        "admission_queue_length",
				Help:        "Number of entries waiting in the admission queue.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"resource"},
		),
		QuotaRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   opts.Namespace,
				Name:        "admission_quota_remaining",
				Help:        "Tracked remaining quota per resource class.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"resource"},
		),
		DispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "admission_dispatched_total",
				Help:        "Total number of dispatched tasks.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"resource"},
		),
		ThrottleWaitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "admission_throttle_waits_total",
				Help:        "Total number of throttle waits before dispatch.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"resource", "reason"},
		),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.QueueLength,
		pm.QuotaRemaining,
		pm.DispatchedTotal,
		pm.ThrottleWaitsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueueLength)
	prometheus.Unregister(pm.QuotaRemaining)
	prometheus.Unregister(pm.DispatchedTotal)
	prometheus.Unregister(pm.ThrottleWaitsTotal)
}

// SetQueueLength sets the current number of queued entries for the resource class.
func (pm *PrometheusMetrics) SetQueueLength(resource ResourceClass, length int) {
	pm.QueueLength.With(prometheus.Labels{"resource": string(resource)}).Set(float64(length))
}

// SetQuotaRemaining sets the currently tracked remaining quota for the resource class.
func (pm *PrometheusMetrics) SetQuotaRemaining(resource ResourceClass, remaining int) {
	pm.QuotaRemaining.With(prometheus.Labels{"resource": string(resource)}).Set(float64(remaining))
}

// IncDispatched increments the total number of dispatched tasks for the resource class.
func (pm *PrometheusMetrics) IncDispatched(resource ResourceClass) {
	pm.DispatchedTotal.With(prometheus.Labels{"resource": string(resource)}).Inc()
}

// IncThrottleWaits increments the total number of throttle waits with the given reason.
func (pm *PrometheusMetrics) IncThrottleWaits(resource ResourceClass, reason string) {
	pm.ThrottleWaitsTotal.With(prometheus.Labels{"resource": string(resource), "reason": reason}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetQueueLength(ResourceClass, int)    {}
func (disabledMetrics) SetQuotaRemaining(ResourceClass, int) {}
func (disabledMetrics) IncDispatched(ResourceClass)          {}
func (disabledMetrics) IncThrottleWaits(ResourceClass, string) {
}
