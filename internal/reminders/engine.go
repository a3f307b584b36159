// Package reminders sends appointment reminders and post-visit follow-ups
// from periodic sweeps over the Appointments table.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/reminders")

// Sweep names.
const (
	SweepReminders = "reminders"
	SweepFollowUps = "follow_ups"
)

// Row outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Notifier is the subset of notify.Notifier the sweeps use.
type Notifier interface {
	SendReminder(ctx context.Context, p notify.AppointmentPayload) (string, error)
	SendFollowUp(ctx context.Context, p notify.AppointmentPayload) (string, error)
}

// SweepObserver records sweep totals, typically in metrics.
type SweepObserver interface {
	ObserveSweep(sweep string, sent, failed, skipped int)
}

// RowResult is the outcome for one appointment.
type RowResult struct {
	ExternalEventID string `json:"externalEventId"`
	Outcome         string `json:"outcome"`
	MessageID       string `json:"messageId,omitempty"`
	Error           string `json:"error,omitempty"`
	Err             error  `json:"-"`
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Sweep   string      `json:"sweep"`
	Sent    int         `json:"sent"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Results []RowResult `json:"results"`
}

func (r *SweepResult) add(row RowResult) {
	switch row.Outcome {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	if row.Err != nil {
		row.Error = row.Err.Error()
	}
	r.Results = append(r.Results, row)
}

// Config tunes the sweeps.
type Config struct {
	Location       *time.Location
	HoursBefore    int
	RowTimeout     time.Duration
	FollowUpWindow time.Duration
}

// Engine runs reminder and follow-up sweeps.
type Engine struct {
	repo     *records.Repository
	notifier Notifier
	cfg      Config
	logger   *logging.Logger
	observer SweepObserver
	now      func() time.Time
}

// New creates a sweep engine. observer may be nil.
func New(repo *records.Repository, notifier Notifier, cfg Config, observer SweepObserver, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HoursBefore <= 0 {
		cfg.HoursBefore = 48
	}
	if cfg.RowTimeout <= 0 {
		cfg.RowTimeout = 30 * time.Second
	}
	if cfg.FollowUpWindow <= 0 {
		cfg.FollowUpWindow = 24 * time.Hour
	}
	return &Engine{repo: repo, notifier: notifier, cfg: cfg, logger: logger, observer: observer, now: time.Now}
}

type candidate struct {
	appt  records.Appointment
	start time.Time
	err   error
}

// ReminderSweep sends one reminder per scheduled appointment starting within
// the reminder window. The reminder_sent flag is authoritative: a row is
// re-read immediately before sending and skipped once the flag is set.
func (e *Engine) ReminderSweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "reminders.ReminderSweep")
	defer span.End()

	now := e.now()
	window := time.Duration(e.cfg.HoursBefore) * time.Hour
	due, err := e.candidates(ctx, func(a records.Appointment) bool {
		return a.Status == records.AppointmentScheduled && !a.ReminderSent
	}, func(start time.Time) bool {
		until := start.Sub(now)
		return until > 0 && until <= window
	})
	if err != nil {
		return SweepResult{Sweep: SweepReminders}, err
	}

	result := SweepResult{Sweep: SweepReminders}
	for _, c := range due {
		result.add(e.remindOne(ctx, c))
	}
	span.SetAttributes(attribute.Int("reminders.sent", result.Sent), attribute.Int("reminders.failed", result.Failed))
	e.finish(result)
	return result, nil
}

// FollowUpSweep sends one follow-up per completed appointment that started
// within the follow-up window.
func (e *Engine) FollowUpSweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "reminders.FollowUpSweep")
	defer span.End()

	now := e.now()
	due, err := e.candidates(ctx, func(a records.Appointment) bool {
		return a.Status == records.AppointmentCompleted && !a.FollowUpSent
	}, func(start time.Time) bool {
		return !start.After(now) && now.Sub(start) <= e.cfg.FollowUpWindow
	})
	if err != nil {
		return SweepResult{Sweep: SweepFollowUps}, err
	}

	result := SweepResult{Sweep: SweepFollowUps}
	for _, c := range due {
		result.add(e.followUpOne(ctx, c))
	}
	span.SetAttributes(attribute.Int("followups.sent", result.Sent), attribute.Int("followups.failed", result.Failed))
	e.finish(result)
	return result, nil
}

// candidates scans appointments in insertion order. Rows whose date or time
// cannot be parsed are kept with err set so the sweep reports them.
func (e *Engine) candidates(ctx context.Context, keep func(records.Appointment) bool, inWindow func(time.Time) bool) ([]candidate, error) {
	list, bad, err := e.repo.ListAppointments(ctx, keep)
	if err != nil {
		return nil, fmt.Errorf("reminders: list appointments: %w", err)
	}
	for _, b := range bad {
		e.logger.Warn("reminders: skipping malformed appointment row", "error", b)
	}

	var out []candidate
	for _, a := range list {
		start, err := a.Start(e.cfg.Location)
		if err != nil {
			out = append(out, candidate{appt: a, err: fmt.Errorf("reminders: %s: %w: %w", a.ExternalEventID, apperr.ErrFatal, err)})
			continue
		}
		if inWindow(start) {
			out = append(out, candidate{appt: a, start: start})
		}
	}
	return out, nil
}

func (e *Engine) remindOne(ctx context.Context, c candidate) RowResult {
	row := RowResult{ExternalEventID: c.appt.ExternalEventID}
	if c.err != nil {
		row.Outcome, row.Err = OutcomeFailed, c.err
		return row
	}

	// Each row completes even if the sweep's caller goes away.
	rowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RowTimeout)
	defer cancel()
	log := e.logger.With("external_event_id", c.appt.ExternalEventID)

	fresh, err := e.repo.FindAppointment(rowCtx, c.appt.ExternalEventID)
	if err != nil {
		row.Outcome, row.Err = OutcomeFailed, err
		return row
	}
	if fresh == nil || fresh.ReminderSent || fresh.Status != records.AppointmentScheduled {
		row.Outcome = OutcomeSkipped
		return row
	}

	id, err := e.notifier.SendReminder(rowCtx, payload(*fresh))
	if err != nil {
		log.Warn("reminders: send failed; will retry next sweep", "error", err)
		row.Outcome, row.Err = OutcomeFailed, err
		return row
	}
	row.Outcome, row.MessageID = OutcomeSent, id

	if err := e.repo.MarkReminderSent(rowCtx, fresh.ExternalEventID); err != nil {
		log.Error("reminders: reminder sent but flag update failed", "error", err)
		row.Err = fmt.Errorf("flag update: %w", err)
		return row
	}
	e.analytics(rowCtx, records.EventReminderSent, *fresh, id, log)
	log.Info("reminders: reminder sent", "date", fresh.Date, "time", fresh.Time)
	return row
}

func (e *Engine) followUpOne(ctx context.Context, c candidate) RowResult {
	row := RowResult{ExternalEventID: c.appt.ExternalEventID}
	if c.err != nil {
		row.Outcome, row.Err = OutcomeFailed, c.err
		return row
	}

	rowCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RowTimeout)
	defer cancel()
	log := e.logger.With("external_event_id", c.appt.ExternalEventID)

	fresh, err := e.repo.FindAppointment(rowCtx, c.appt.ExternalEventID)
	if err != nil {
		row.Outcome, row.Err = OutcomeFailed, err
		return row
	}
	if fresh == nil || fresh.FollowUpSent || fresh.Status != records.AppointmentCompleted {
		row.Outcome = OutcomeSkipped
		return row
	}

	id, err := e.notifier.SendFollowUp(rowCtx, payload(*fresh))
	if err != nil {
		log.Warn("reminders: follow-up failed; will retry next sweep", "error", err)
		row.Outcome, row.Err = OutcomeFailed, err
		return row
	}
	row.Outcome, row.MessageID = OutcomeSent, id

	if err := e.repo.MarkFollowUpSent(rowCtx, fresh.ExternalEventID); err != nil {
		log.Error("reminders: follow-up sent but flag update failed", "error", err)
		row.Err = fmt.Errorf("flag update: %w", err)
		return row
	}
	e.analytics(rowCtx, records.EventFollowUpSent, *fresh, id, log)
	return row
}

func (e *Engine) analytics(ctx context.Context, kind records.EventType, a records.Appointment, messageID string, log *logging.Logger) {
	err := e.repo.AppendAnalytics(ctx, records.AnalyticsEvent{
		Timestamp:       e.now().UTC(),
		EventType:       kind,
		PatientName:     a.PatientName,
		AppointmentDate: a.Date,
		AppointmentTime: a.Time,
		Reference:       a.ExternalEventID,
		Details:         "message_id=" + messageID,
	})
	if err != nil {
		log.Warn("reminders: analytics append failed", "event_type", kind, "error", err)
	}
}

func (e *Engine) finish(r SweepResult) {
	if e.observer != nil {
		e.observer.ObserveSweep(r.Sweep, r.Sent, r.Failed, r.Skipped)
	}
	if r.Sent+r.Failed+r.Skipped == 0 {
		e.logger.Debug("reminders: sweep found nothing due", "sweep", r.Sweep)
		return
	}
	e.logger.Info("reminders: sweep complete", "sweep", r.Sweep, "sent", r.Sent, "failed", r.Failed, "skipped", r.Skipped)
}

func payload(a records.Appointment) notify.AppointmentPayload {
	return notify.AppointmentPayload{
		ExternalEventID: a.ExternalEventID,
		PatientName:     a.PatientName,
		Email:           a.Email,
		Date:            a.Date,
		Time:            a.Time,
		VisitType:       a.VisitType,
	}
}

// Errors returns the per-row errors of a sweep joined, or nil.
func (r SweepResult) Errors() error {
	var errs []error
	for _, row := range r.Results {
		if row.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", row.ExternalEventID, row.Err))
		}
	}
	return errors.Join(errs...)
}
