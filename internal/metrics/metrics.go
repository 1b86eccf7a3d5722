// Package metrics holds the Prometheus collectors of the access point.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peppol_ap"

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// OutboundSends counts outbound transmissions by sending result
	OutboundSends *prometheus.CounterVec

	// SendDuration is the overall duration of an outbound send
	SendDuration prometheus.Histogram

	// InboundForwards counts inbound messages by forwarding outcome
	InboundForwards *prometheus.CounterVec

	// ReportingItems counts reporting items by status (stored, failed, dropped)
	ReportingItems *prometheus.CounterVec

	// ReportingQueue is the number of items waiting in the reporting queue
	ReportingQueue prometheus.Gauge

	// BreakerState is the downstream circuit breaker state (0=closed, 1=half-open, 2=open)
	BreakerState prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		OutboundSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound AS4 transmissions by sending result.",
		}, []string{"result"}),

		SendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_send_duration_seconds",
			Help:      "Overall duration of outbound sends including directory lookup.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		InboundForwards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_forwards_total",
			Help:      "Inbound messages by downstream forwarding outcome.",
		}, []string{"outcome"}),

		ReportingItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reporting_items_total",
			Help:      "Reporting items by storage status.",
		}, []string{"status"}),

		ReportingQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reporting_queue_length",
			Help:      "Reporting items waiting to be stored.",
		}),

		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downstream_breaker_state",
			Help:      "Downstream circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}
}

// ObserveSend records one outbound send. An empty result is reported as "none".
func (m *Metrics) ObserveSend(result string, d time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "none"
	}
	m.OutboundSends.WithLabelValues(result).Inc()
	m.SendDuration.Observe(d.Seconds())
}

// ObserveForward records one inbound forwarding outcome
func (m *Metrics) ObserveForward(outcome string) {
	if m == nil {
		return
	}
	m.InboundForwards.WithLabelValues(outcome).Inc()
}

// ObserveReporting records one reporting item status
func (m *Metrics) ObserveReporting(status string) {
	if m == nil {
		return
	}
	m.ReportingItems.WithLabelValues(status).Inc()
}

// SetReportingQueue sets the current reporting queue length
func (m *Metrics) SetReportingQueue(n int) {
	if m == nil {
		return
	}
	m.ReportingQueue.Set(float64(n))
}

// SetBreakerState sets the downstream breaker state gauge
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}
