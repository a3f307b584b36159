package reports

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/tabular/memstore"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type mockNotifier struct {
	payloads []notify.ReportPayload
	err      error
}

func (m *mockNotifier) SendWeeklyReport(_ context.Context, p notify.ReportPayload) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.payloads = append(m.payloads, p)
	return "report-msg", nil
}

type mockArchiver struct {
	kinds []string
	err   error
}

func (m *mockArchiver) ArchiveReport(_ context.Context, kind string, _, end time.Time, doc any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if _, err := json.Marshal(doc); err != nil {
		return "", err
	}
	m.kinds = append(m.kinds, kind)
	return "reports/" + end.Format("2006-01-02") + ".json", nil
}

type harness struct {
	engine   *Engine
	repo     *records.Repository
	notifier *mockNotifier
	archiver *mockArchiver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := records.NewRepository(memstore.New())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	h := &harness{repo: repo, notifier: &mockNotifier{}, archiver: &mockArchiver{}}
	narrator := triage.NewNarrator(nil, "", 0, logging.Discard())
	h.engine = New(repo, h.notifier, narrator, h.archiver, Config{Location: newYork, ClinicName: "Riverside Clinic"}, logging.Discard())
	h.engine.now = func() time.Time { return day(6, 15) }
	return h
}

func (h *harness) analytics(t *testing.T, eventType records.EventType) []records.AnalyticsEvent {
	t.Helper()
	events, _, err := h.repo.ListAnalytics(context.Background())
	require.NoError(t, err)
	var out []records.AnalyticsEvent
	for _, e := range events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func metricValue(p notify.ReportPayload, name string) string {
	for _, m := range p.Metrics {
		if m.Name == name {
			return m.Value
		}
	}
	return ""
}

func TestWeeklyWindow(t *testing.T) {
	h := newHarness(t)
	w := h.engine.WeeklyWindow()
	assert.True(t, w.Start.Equal(day(0, 0)))
	assert.True(t, w.End.Equal(day(7, 0).Add(-time.Nanosecond)))
	assert.Equal(t, 7, w.Days())
}

func TestGenerateWeekly_EmptyWindow(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.GenerateWeekly(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Statistics.NoShowRate)
	assert.Zero(t, report.Statistics.CompletionRate)
	_, err = json.Marshal(report)
	require.NoError(t, err, "report must not contain NaN")

	require.Len(t, h.notifier.payloads, 1)
	p := h.notifier.payloads[0]
	assert.Equal(t, "Weekly Report", p.Title)
	assert.Equal(t, "0", metricValue(p, "Total Bookings"))
	assert.Equal(t, "0.0%", metricValue(p, "No-Show Rate"))
	assert.Equal(t, "0.0%", metricValue(p, "Completion Rate"))
	assert.NotEmpty(t, p.ExecutiveSummary)

	assert.Equal(t, "report-msg", report.MessageID)
	assert.Equal(t, "reports/2025-06-07.json", report.ArchiveKey)
	assert.Equal(t, []string{KindWeekly}, h.archiver.kinds)
	assert.Len(t, h.analytics(t, records.EventWeeklyReportGenerated), 1)
}

func TestGenerateWeekly_WithData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appts, triageRecs, events := sampleData()
	for _, a := range appts {
		require.NoError(t, h.repo.AppendAppointment(ctx, a))
	}
	for _, r := range triageRecs {
		require.NoError(t, h.repo.AppendTriage(ctx, r))
	}
	for _, e := range events {
		require.NoError(t, h.repo.AppendAnalytics(ctx, e))
	}

	report, err := h.engine.GenerateWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Statistics.TotalBookings)
	assert.Equal(t, 20.0, report.Statistics.NoShowRate)
	assert.Len(t, report.Recommendations, 4)

	p := h.notifier.payloads[0]
	assert.Equal(t, "20.0%", metricValue(p, "No-Show Rate"))
	assert.NotEmpty(t, p.Alerts, "high urgency intakes raise an alert")
}

func TestGenerate_DispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("sendgrid down")

	report, err := h.engine.GenerateWeekly(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Empty(t, h.analytics(t, records.EventWeeklyReportGenerated))
}

func TestGenerate_ArchiveFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.archiver.err = errors.New("AccessDenied")

	report, err := h.engine.GenerateWeekly(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.ArchiveKey)
	assert.Len(t, h.notifier.payloads, 1)
}

func TestGenerateCustom(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.GenerateCustom(context.Background(), day(0, 12), day(2, 8))
	require.NoError(t, err)
	assert.Equal(t, KindCustom, report.Kind)
	assert.Len(t, report.Statistics.DailyBookings, 3)
	assert.True(t, report.Statistics.Window.Start.Equal(day(0, 0)))
	assert.Equal(t, "Custom Report", h.notifier.payloads[0].Title)
}

func TestGenerateCustom_InvalidWindow(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.GenerateCustom(context.Background(), day(3, 0), day(1, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.engine.GenerateCustom(context.Background(), time.Time{}, day(1, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.notifier.payloads)
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.AppendIntake(ctx, records.Intake{FormID: "F1", CreatedAt: day(1, 9), Status: records.IntakeProcessed}))
	require.NoError(t, h.repo.AppendIntake(ctx, records.Intake{FormID: "F2", CreatedAt: day(2, 9), Status: records.IntakeFailed}))
	require.NoError(t, h.repo.AppendAppointment(ctx, records.Appointment{
		ExternalEventID: "up", CreatedAt: day(5, 9), Date: "2025-06-09", Time: "10:00", Status: records.AppointmentScheduled,
	}))
	require.NoError(t, h.repo.AppendAppointment(ctx, records.Appointment{
		ExternalEventID: "past", CreatedAt: day(-10, 9), Date: "2025-05-25", Time: "10:00", Status: records.AppointmentCompleted,
	}))
	require.NoError(t, h.repo.AppendTriage(ctx, records.TriageRecord{FormID: "F1", CreatedAt: day(1, 9), Urgency: records.UrgencyHigh}))

	d, err := h.engine.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.LastSevenDays.TotalBookings)
	assert.Equal(t, 2, d.AllTime.Intakes)
	assert.Equal(t, 2, d.AllTime.Appointments)
	assert.Equal(t, 1, d.AllTime.IntakesByStatus["failed"])
	assert.Equal(t, 1, d.AllTime.AppointmentsByStatus["completed"])
	assert.Equal(t, 1, d.AllTime.TriageByUrgency["High"])
	assert.Equal(t, 0, d.AllTime.TriageByUrgency["Low"])
	assert.Equal(t, 1, d.AllTime.UpcomingAppointments)
	assert.Empty(t, h.notifier.payloads)
}
