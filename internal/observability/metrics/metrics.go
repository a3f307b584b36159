package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics exposes counters/histograms for webhook, triage,
// notification and scheduled-job flows.
type PipelineMetrics struct {
	webhookTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	triagePath     *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	sweepRows      *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total inbound intake and booking webhooks",
		}, []string{"source", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		triagePath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "triage",
			Name:      "classifications_total",
			Help:      "Triage classifications by path taken and resulting urgency",
		}, []string{"path", "urgency"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by kind and outcome",
		}, []string{"kind", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		sweepRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "rows_total",
			Help:      "Appointment rows handled by reminder and follow-up sweeps",
		}, []string{"sweep", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.triagePath, m.notifications, m.jobRuns, m.jobDuration, m.sweepRows)
	return m
}

func (m *PipelineMetrics) ObserveWebhook(source, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(source, status).Inc()
	m.webhookLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveTriagePath satisfies triage.PathObserver.
func (m *PipelineMetrics) ObserveTriagePath(path, urgency string) {
	if m == nil {
		return
	}
	m.triagePath.WithLabelValues(path, urgency).Inc()
}

// ObserveNotification satisfies notify.DeliveryObserver.
func (m *PipelineMetrics) ObserveNotification(kind, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, status).Inc()
}

func (m *PipelineMetrics) ObserveJob(job, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) ObserveSweep(sweep string, sent, failed, skipped int) {
	if m == nil {
		return
	}
	m.sweepRows.WithLabelValues(sweep, "sent").Add(float64(sent))
	m.sweepRows.WithLabelValues(sweep, "failed").Add(float64(failed))
	m.sweepRows.WithLabelValues(sweep, "skipped").Add(float64(skipped))
}
