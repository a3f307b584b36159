package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveWebhook("intake", "200", 250*time.Millisecond)
	m.ObserveTriagePath("heuristic", "High")
	m.ObserveTriagePath("heuristic", "High")
	m.ObserveNotification("reminder", "sent")
	m.ObserveJob("reminders", "ok", time.Second)
	m.ObserveSweep("reminders", 2, 1, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.triagePath.WithLabelValues("heuristic", "High")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.webhookTotal.WithLabelValues("intake", "200")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.sweepRows.WithLabelValues("reminders", "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.notifications.WithLabelValues("reminder", "sent")))
}

func TestPipelineMetricsDefaultRegistry(t *testing.T) {
	m := NewPipelineMetrics(prometheus.NewRegistry())
	m.ObserveJob("weekly_report", "skipped", 0)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveWebhook("intake", "200", time.Second)
	m.ObserveTriagePath("model", "Low")
	m.ObserveNotification("reminder", "sent")
	m.ObserveJob("reminders", "ok", time.Second)
	m.ObserveSweep("reminders", 1, 0, 0)
}
