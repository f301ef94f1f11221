package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "argus"

// Metrics is a prometheus.Collector over one orchestrator.
type Metrics struct {
	detections    *prometheus.CounterVec
	diffEvents    prometheus.Counter
	matches       prometheus.Counter
	notifications *prometheus.CounterVec
	retirements   prometheus.Counter
	panics        prometheus.Counter
	documents     prometheus.Gauge
	subscriptions prometheus.Gauge
}

// NewMetrics returns unregistered metrics labelled with the orchestrator
// name.
func NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"orchestrator": name}
	return &Metrics{
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "detections_total",
			Help:        "Detection cycles by outcome (changed, unchanged, similar, failed).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		diffEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "diff_events_total",
			Help:        "Diff events stored.",
			ConstLabels: labels,
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "matches_total",
			Help:        "Confirmed keyword matches.",
			ConstLabels: labels,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "notifications_total",
			Help:        "Notification deliveries by status and outcome.",
			ConstLabels: labels,
		}, []string{"status", "outcome"}),
		retirements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "retirements_total",
			Help:        "Documents retired after repeated fetch failures.",
			ConstLabels: labels,
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "job_panics_total",
			Help:        "Job runs that panicked.",
			ConstLabels: labels,
		}),
		documents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "documents",
			Help:        "Documents with an active detection job.",
			ConstLabels: labels,
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "subscriptions",
			Help:        "Active matching jobs.",
			ConstLabels: labels,
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.detections.Describe(ch)
	m.diffEvents.Describe(ch)
	m.matches.Describe(ch)
	m.notifications.Describe(ch)
	m.retirements.Describe(ch)
	m.panics.Describe(ch)
	m.documents.Describe(ch)
	m.subscriptions.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.detections.Collect(ch)
	m.diffEvents.Collect(ch)
	m.matches.Collect(ch)
	m.notifications.Collect(ch)
	m.retirements.Collect(ch)
	m.panics.Collect(ch)
	m.documents.Collect(ch)
	m.subscriptions.Collect(ch)
}

func (m *Metrics) notified(status string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(status, outcome).Inc()
}
