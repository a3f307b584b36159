package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/tabular"
)

// Repository provides typed access to the four tables. It holds no row
// state; every call goes to the store.
type Repository struct {
	store tabular.Store
}

// NewRepository wraps a tabular store.
func NewRepository(store tabular.Store) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying tabular store.
func (r *Repository) Store() tabular.Store {
	return r.store
}

// EnsureSchema initializes all tables.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return r.store.EnsureSchema(ctx, Schema())
}

// FindIntake returns the first Intake row with formID.
func (r *Repository) FindIntake(ctx context.Context, formID string) (*Intake, error) {
	rows, err := r.store.Scan(ctx, TableIntake, tabular.Eq(ColFormID, formID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	in, err := IntakeFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// AppendIntake persists a new Intake row.
func (r *Repository) AppendIntake(ctx context.Context, in Intake) error {
	if _, err := r.store.Append(ctx, TableIntake, in.ToRow()); err != nil {
		return fmt.Errorf("records: append intake: %w", err)
	}
	return nil
}

// SetIntakeStatus moves an intake to a new status.
func (r *Repository) SetIntakeStatus(ctx context.Context, formID string, status IntakeStatus) error {
	return r.store.UpdateWhere(ctx, TableIntake, ColFormID, formID, tabular.Row{ColStatus: string(status)})
}

// ListIntakes returns every intake in insertion order, skipping malformed rows.
func (r *Repository) ListIntakes(ctx context.Context) ([]Intake, []error, error) {
	rows, err := r.store.Scan(ctx, TableIntake, nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Intake
	var bad []error
	for _, row := range rows {
		in, err := IntakeFromRow(row)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, in)
	}
	return out, bad, nil
}

// FindTriage returns the triage record for formID, if any.
func (r *Repository) FindTriage(ctx context.Context, formID string) (*TriageRecord, error) {
	rows, err := r.store.Scan(ctx, TableTriage, tabular.Eq(ColFormID, formID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t, err := TriageFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AppendTriage persists a triage record.
func (r *Repository) AppendTriage(ctx context.Context, t TriageRecord) error {
	if _, err := r.store.Append(ctx, TableTriage, t.ToRow()); err != nil {
		return fmt.Errorf("records: append triage: %w", err)
	}
	return nil
}

// ListTriage returns every triage record, skipping malformed rows.
func (r *Repository) ListTriage(ctx context.Context) ([]TriageRecord, []error, error) {
	rows, err := r.store.Scan(ctx, TableTriage, nil)
	if err != nil {
		return nil, nil, err
	}
	var out []TriageRecord
	var bad []error
	for _, row := range rows {
		t, err := TriageFromRow(row)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, t)
	}
	return out, bad, nil
}

// FindAppointment returns the appointment keyed by externalEventID.
func (r *Repository) FindAppointment(ctx context.Context, externalEventID string) (*Appointment, error) {
	rows, err := r.store.Scan(ctx, TableAppointments, tabular.Eq(ColExternalEventID, externalEventID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	a, err := AppointmentFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AppendAppointment persists a new appointment.
func (r *Repository) AppendAppointment(ctx context.Context, a Appointment) error {
	if _, err := r.store.Append(ctx, TableAppointments, a.ToRow()); err != nil {
		return fmt.Errorf("records: append appointment: %w", err)
	}
	return nil
}

// PatchAppointment applies a column patch to the appointment row.
func (r *Repository) PatchAppointment(ctx context.Context, externalEventID string, patch tabular.Row) error {
	return r.store.UpdateWhere(ctx, TableAppointments, ColExternalEventID, externalEventID, patch)
}

// MarkReminderSent flips reminder_sent to TRUE.
func (r *Repository) MarkReminderSent(ctx context.Context, externalEventID string) error {
	return r.PatchAppointment(ctx, externalEventID, tabular.Row{ColReminderSent: FormatBool(true)})
}

// MarkFollowUpSent flips follow_up_sent to TRUE.
func (r *Repository) MarkFollowUpSent(ctx context.Context, externalEventID string) error {
	return r.PatchAppointment(ctx, externalEventID, tabular.Row{ColFollowUpSent: FormatBool(true)})
}

// ListAppointments returns appointments accepted by keep (nil keeps all), in
// insertion order. Rows that fail to map are returned separately.
func (r *Repository) ListAppointments(ctx context.Context, keep func(Appointment) bool) ([]Appointment, []error, error) {
	rows, err := r.store.Scan(ctx, TableAppointments, nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Appointment
	var bad []error
	for _, row := range rows {
		a, err := AppointmentFromRow(row)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		if keep == nil || keep(a) {
			out = append(out, a)
		}
	}
	return out, bad, nil
}

// AppendAnalytics appends an analytics event.
func (r *Repository) AppendAnalytics(ctx context.Context, e AnalyticsEvent) error {
	if _, err := r.store.Append(ctx, TableAnalytics, e.ToRow()); err != nil {
		return fmt.Errorf("records: append analytics: %w", err)
	}
	return nil
}

// ListAnalytics returns analytics events, skipping malformed rows.
func (r *Repository) ListAnalytics(ctx context.Context) ([]AnalyticsEvent, []error, error) {
	rows, err := r.store.Scan(ctx, TableAnalytics, nil)
	if err != nil {
		return nil, nil, err
	}
	var out []AnalyticsEvent
	var bad []error
	for _, row := range rows {
		e, err := AnalyticsFromRow(row)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, e)
	}
	return out, bad, nil
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
