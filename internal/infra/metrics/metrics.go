// Package metrics implements the application metric interfaces with
// Prometheus collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scanwarden"

// Orchestrator tracks scan lifecycle metrics. It implements both the
// orchestration and dispatcher metric interfaces plus the Kafka broker
// metrics, so one instance serves the whole process.
type Orchestrator struct {
	ScansTriggered *prometheus.CounterVec // labels: scan_type
	ScansTerminal  *prometheus.CounterVec // labels: status
	RunningScans   prometheus.Gauge
	QueuedScans    prometheus.Gauge

	DeliveriesSent   *prometheus.CounterVec // labels: channel
	DeliveriesFailed *prometheus.CounterVec // labels: channel

	MessagesPublished *prometheus.CounterVec // labels: topic
	PublishErrors     *prometheus.CounterVec // labels: topic
}

// New creates an Orchestrator registered on the default Prometheus registry.
func New() *Orchestrator {
	return &Orchestrator{
		ScansTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_triggered_total",
			Help:      "Total number of scans triggered",
		}, []string{"scan_type"}),
		ScansTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_terminal_total",
			Help:      "Total number of scans reaching a terminal status",
		}, []string{"status"}),
		RunningScans: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_scans",
			Help:      "Number of scans currently holding an execution slot",
		}),
		QueuedScans: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_scans",
			Help:      "Number of scans waiting for an execution slot",
		}),
		DeliveriesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_sent_total",
			Help:      "Total number of successful notification deliveries",
		}, []string{"channel"}),
		DeliveriesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of notification deliveries that exhausted retries",
		}, []string{"channel"}),
		MessagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		}, []string{"topic"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
	}
}

// Interface implementation methods.
func (m *Orchestrator) IncScanTriggered(_ context.Context, scanType string) {
	m.ScansTriggered.WithLabelValues(scanType).Inc()
}

func (m *Orchestrator) IncScanTerminal(_ context.Context, status string) {
	m.ScansTerminal.WithLabelValues(status).Inc()
}

func (m *Orchestrator) SetRunningScans(_ context.Context, count int) {
	m.RunningScans.Set(float64(count))
}

func (m *Orchestrator) SetQueuedScans(_ context.Context, count int) {
	m.QueuedScans.Set(float64(count))
}

func (m *Orchestrator) IncDeliverySent(_ context.Context, channel string) {
	m.DeliveriesSent.WithLabelValues(channel).Inc()
}

func (m *Orchestrator) IncDeliveryFailed(_ context.Context, channel string) {
	m.DeliveriesFailed.WithLabelValues(channel).Inc()
}

func (m *Orchestrator) IncMessagePublished(_ context.Context, topic string) {
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

func (m *Orchestrator) IncPublishError(_ context.Context, topic string) {
	m.PublishErrors.WithLabelValues(topic).Inc()
}
