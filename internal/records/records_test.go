package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
	"github.com/wolfman30/clinic-automation/internal/tabular/memstore"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(memstore.New())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestSchema_ColumnOrderFixed(t *testing.T) {
	defs := Schema()
	require.Len(t, defs, 4)
	assert.Equal(t, TableIntake, defs[0].Name)
	assert.Equal(t, "form_id", defs[0].Columns[0])
	assert.Equal(t, "additional_notes", defs[0].Columns[len(defs[0].Columns)-1])
	assert.Equal(t, []string{
		"external_event_id", "created_at", "patient_name", "email", "phone", "date", "time",
		"visit_type", "status", "calendar_event_id", "reminder_sent", "confirmation_sent",
		"follow_up_sent", "notes",
	}, defs[1].Columns)
}

func TestTriageRecord_KeywordsRoundTripThroughStore(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AppendTriage(ctx, TriageRecord{
		FormID:       "F1",
		CreatedAt:    now,
		Urgency:      UrgencyHigh,
		RiskKeywords: []string{"chest pain", "shortness of breath"},
	}))

	got, err := repo.FindTriage(ctx, "F1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, UrgencyHigh, got.Urgency)
	assert.Equal(t, []string{"chest pain", "shortness of breath"}, got.RiskKeywords)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestAppointmentFlags(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.AppendAppointment(ctx, Appointment{
		ExternalEventID: "evt-1",
		Date:            "2025-06-01",
		Time:            "09:00",
		Status:          AppointmentScheduled,
	}))

	require.NoError(t, repo.MarkReminderSent(ctx, "evt-1"))
	a, err := repo.FindAppointment(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, a.ReminderSent)
	assert.False(t, a.FollowUpSent)

	err = repo.MarkReminderSent(ctx, "nope")
	assert.True(t, IsNotFound(err))
}

func TestListAppointments_ReportsMalformedRows(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Store().Append(ctx, TableAppointments, tabular.Row{"external_event_id": "bad", "created_at": "yesterday"})
	require.NoError(t, err)
	require.NoError(t, repo.AppendAppointment(ctx, Appointment{ExternalEventID: "good", Status: AppointmentScheduled}))

	list, bad, err := repo.ListAppointments(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ExternalEventID)
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], apperr.ErrFatal)
}

func TestParseUrgency(t *testing.T) {
	cases := map[string]Urgency{
		"High":       UrgencyHigh,
		" urgent ":   UrgencyHigh,
		"medium":     UrgencyModerate,
		"LOW":        UrgencyLow,
		"routine":    UrgencyLow,
		"not-a-tier": UrgencyModerate,
	}
	for in, want := range cases {
		got, _ := ParseUrgency(in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseUrgency("banana")
	assert.False(t, ok)
}

func TestParseDateTime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got, err := ParseDateTime("2025-06-01", "09:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 13, got.UTC().Hour())

	got, err = ParseDateTime("2025-06-01", "2:30 PM", loc)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())
	assert.Equal(t, 30, got.Minute())

	_, err = ParseDateTime("06/01/2025", "09:00", loc)
	assert.Error(t, err)
	_, err = ParseDateTime("2025-06-01", "morning", loc)
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(AppointmentScheduled, AppointmentCancelled))
	assert.True(t, CanTransition(AppointmentRescheduled, AppointmentCompleted))
	assert.False(t, CanTransition(AppointmentCancelled, AppointmentScheduled))
	assert.False(t, CanTransition(AppointmentCompleted, AppointmentNoShow))

	assert.True(t, CanTransition(AppointmentRescheduled, AppointmentRescheduled), "repeat reschedule")
	assert.False(t, CanTransition(AppointmentRescheduled, AppointmentScheduled))
	for _, terminal := range []AppointmentStatus{AppointmentCompleted, AppointmentCancelled, AppointmentNoShow} {
		assert.Empty(t, transitions[terminal], terminal)
	}
}

func TestParseBool(t *testing.T) {
	assert.True(t, ParseBool("TRUE"))
	assert.True(t, ParseBool("yes"))
	assert.False(t, ParseBool(""))
	assert.False(t, ParseBool("FALSE"))
}
