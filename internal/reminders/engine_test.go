package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/tabular/memstore"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type mockNotifier struct {
	reminders []notify.AppointmentPayload
	followUps []notify.AppointmentPayload
	failNext  int
	onSend    func()
}

func (m *mockNotifier) SendReminder(_ context.Context, p notify.AppointmentPayload) (string, error) {
	if m.failNext > 0 {
		m.failNext--
		return "", errors.New("transport: 503")
	}
	if m.onSend != nil {
		m.onSend()
	}
	m.reminders = append(m.reminders, p)
	return "rem-" + p.ExternalEventID, nil
}

func (m *mockNotifier) SendFollowUp(_ context.Context, p notify.AppointmentPayload) (string, error) {
	if m.failNext > 0 {
		m.failNext--
		return "", errors.New("transport: 503")
	}
	m.followUps = append(m.followUps, p)
	return "fu-" + p.ExternalEventID, nil
}

type sweepRecorder struct{ sent, failed int }

func (s *sweepRecorder) ObserveSweep(_ string, sent, failed, _ int) {
	s.sent += sent
	s.failed += failed
}

var (
	newYork, _ = time.LoadLocation("America/New_York")
	now        = time.Date(2025, 6, 1, 12, 0, 0, 0, newYork)
)

type harness struct {
	engine   *Engine
	repo     *records.Repository
	notifier *mockNotifier
	observer *sweepRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := records.NewRepository(memstore.New())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	h := &harness{repo: repo, notifier: &mockNotifier{}, observer: &sweepRecorder{}}
	h.engine = New(repo, h.notifier, Config{Location: newYork, HoursBefore: 48}, h.observer, logging.Discard())
	h.engine.now = func() time.Time { return now }
	return h
}

func (h *harness) add(t *testing.T, id string, start time.Time, status records.AppointmentStatus) {
	t.Helper()
	require.NoError(t, h.repo.AppendAppointment(context.Background(), records.Appointment{
		ExternalEventID: id,
		PatientName:     "Patient " + id,
		Email:           id + "@example.com",
		Date:            start.In(newYork).Format("2006-01-02"),
		Time:            start.In(newYork).Format("15:04"),
		Status:          status,
	}))
}

func countEvents(t *testing.T, repo *records.Repository, kind records.EventType, ref string) int {
	t.Helper()
	events, _, err := repo.ListAnalytics(context.Background())
	require.NoError(t, err)
	n := 0
	for _, e := range events {
		if e.EventType == kind && e.Reference == ref {
			n++
		}
	}
	return n
}

func TestReminderSweep_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.add(t, "A", now.Add(24*time.Hour), records.AppointmentScheduled)
	ctx := context.Background()

	first, err := h.engine.ReminderSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	a, err := h.repo.FindAppointment(ctx, "A")
	require.NoError(t, err)
	assert.True(t, a.ReminderSent)

	second, err := h.engine.ReminderSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Sent)

	assert.Len(t, h.notifier.reminders, 1)
	assert.Equal(t, 1, countEvents(t, h.repo, records.EventReminderSent, "A"))
	assert.Equal(t, 1, h.observer.sent)
}

func TestReminderSweep_RetriesAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.add(t, "A", now.Add(24*time.Hour), records.AppointmentScheduled)
	h.notifier.failNext = 1
	ctx := context.Background()

	first, err := h.engine.ReminderSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)
	require.Len(t, first.Results, 1)
	assert.Equal(t, OutcomeFailed, first.Results[0].Outcome)
	assert.NotEmpty(t, first.Results[0].Error)
	assert.Error(t, first.Errors())

	a, err := h.repo.FindAppointment(ctx, "A")
	require.NoError(t, err)
	assert.False(t, a.ReminderSent)

	second, err := h.engine.ReminderSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Sent)
	assert.NoError(t, second.Errors())

	assert.Len(t, h.notifier.reminders, 1)
	assert.Equal(t, 1, countEvents(t, h.repo, records.EventReminderSent, "A"))
}

func TestReminderSweep_Window(t *testing.T) {
	h := newHarness(t)
	h.add(t, "past", now.Add(-time.Hour), records.AppointmentScheduled)
	h.add(t, "edge", now.Add(48*time.Hour), records.AppointmentScheduled)
	h.add(t, "far", now.Add(49*time.Hour), records.AppointmentScheduled)
	h.add(t, "soon", now.Add(2*time.Hour), records.AppointmentScheduled)
	h.add(t, "cancelled", now.Add(2*time.Hour), records.AppointmentCancelled)
	h.add(t, "moved", now.Add(3*time.Hour), records.AppointmentRescheduled)

	res, err := h.engine.ReminderSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	require.Len(t, h.notifier.reminders, 2)
	// insertion order
	assert.Equal(t, "edge", h.notifier.reminders[0].ExternalEventID)
	assert.Equal(t, "soon", h.notifier.reminders[1].ExternalEventID)
}

func TestReminderSweep_UnparseableRowIsFatalAndSkipped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.repo.AppendAppointment(context.Background(), records.Appointment{
		ExternalEventID: "bad", Date: "June 2nd", Time: "9am", Status: records.AppointmentScheduled,
	}))
	h.add(t, "good", now.Add(3*time.Hour), records.AppointmentScheduled)

	res, err := h.engine.ReminderSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Results[0].Err, apperr.ErrFatal)
}

func TestReminderSweep_RereadsRowBeforeSending(t *testing.T) {
	h := newHarness(t)
	h.add(t, "A", now.Add(5*time.Hour), records.AppointmentScheduled)
	h.add(t, "B", now.Add(6*time.Hour), records.AppointmentScheduled)

	// While A is being sent, another worker reminds B.
	h.notifier.onSend = func() {
		h.notifier.onSend = nil
		require.NoError(t, h.repo.MarkReminderSent(context.Background(), "B"))
	}

	res, err := h.engine.ReminderSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, h.notifier.reminders, 1)
}

func TestReminderSweep_IgnoresCancelledCaller(t *testing.T) {
	h := newHarness(t)
	h.add(t, "A", now.Add(5*time.Hour), records.AppointmentScheduled)

	ctx, cancel := context.WithCancel(context.Background())
	h.notifier.onSend = cancel

	res, err := h.engine.ReminderSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	a, err := h.repo.FindAppointment(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, a.ReminderSent)
}

func TestFollowUpSweep(t *testing.T) {
	h := newHarness(t)
	h.add(t, "done", now.Add(-3*time.Hour), records.AppointmentCompleted)
	h.add(t, "old", now.Add(-30*time.Hour), records.AppointmentCompleted)
	h.add(t, "noshow", now.Add(-3*time.Hour), records.AppointmentNoShow)
	h.add(t, "future", now.Add(3*time.Hour), records.AppointmentCompleted)
	ctx := context.Background()

	res, err := h.engine.FollowUpSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, h.notifier.followUps, 1)
	assert.Equal(t, "done", h.notifier.followUps[0].ExternalEventID)

	again, err := h.engine.FollowUpSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Sent)
	assert.Equal(t, 1, countEvents(t, h.repo, records.EventFollowUpSent, "done"))
}
