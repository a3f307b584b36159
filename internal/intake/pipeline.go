// Package intake runs a patient intake submission through validation,
// persistence, triage, notifications, calendar and analytics.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/calendar"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/intake")

// Duplicate handling policies.
const (
	PolicyIdempotent = "idempotent"
	PolicyReject     = "reject"
)

// Step names reported in StepError.
const (
	StepPersistTriage = "persist_triage"
	StepStaffAlert    = "staff_alert"
	StepConfirmation  = "patient_confirmation"
	StepCalendar      = "calendar"
	StepAnalytics     = "analytics"
	StepStatus        = "status_update"
)

// ErrorAlertKind is the admin alert sent when an intake cannot be processed.
const ErrorAlertKind = "intake_form_processing_error"

// pathStored marks a triage record reused from an earlier attempt.
const pathStored triage.Path = "stored"

// StepError is a soft failure in a non-critical step.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string { return e.Step + ": " + e.Err.Error() }

// Result is the outcome of one pipeline run.
type Result struct {
	FormID     string
	Urgency    records.Urgency
	TriagePath triage.Path
	Degraded   bool
	// Duplicate is set when the form id had already been fully processed.
	Duplicate  bool
	Attempts   int
	SoftErrors []StepError
}

// Classifier produces a triage outcome. It never fails.
type Classifier interface {
	Classify(ctx context.Context, in records.Intake) triage.Outcome
}

// Notifier is the subset of notify.Notifier the pipeline uses.
type Notifier interface {
	SendTriageAlert(ctx context.Context, p notify.TriageAlertPayload) (string, error)
	SendConfirmation(ctx context.Context, p notify.ConfirmationPayload) (string, error)
	SendErrorAlert(ctx context.Context, p notify.ErrorPayload) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	Location        *time.Location
	ClinicAddress   string
	DuplicatePolicy string
	IOTimeout       time.Duration
	Budget          time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Pipeline handles intake submissions.
type Pipeline struct {
	repo       *records.Repository
	classifier Classifier
	notifier   Notifier
	calendar   calendar.Creator
	cfg        Config
	logger     *logging.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New builds a pipeline. cal may be nil when no calendar is configured.
func New(repo *records.Repository, classifier Classifier, notifier Notifier, cal calendar.Creator, cfg Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = PolicyIdempotent
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 15 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Pipeline{
		repo:       repo,
		classifier: classifier,
		notifier:   notifier,
		calendar:   cal,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Handle runs one attempt of the pipeline. Failures to persist the intake or
// to finish within the budget are returned; every later step is soft.
func (p *Pipeline) Handle(ctx context.Context, sub Submission) (*Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	sub = sub.Normalize()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()
	ctx, span := tracer.Start(ctx, "intake.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("intake.form_id", sub.FormID))

	log := p.logger.With("form_id", sub.FormID)
	res := &Result{FormID: sub.FormID}
	in := sub.ToIntake(p.now().UTC())

	// Step 2: persist intake, guarded by a pre-check on formId.
	existing, err := p.findIntake(ctx, sub.FormID)
	if err != nil {
		return nil, p.deadline(ctx, err)
	}
	if existing != nil {
		if p.cfg.DuplicatePolicy == PolicyReject {
			return nil, fmt.Errorf("intake: form %q already submitted: %w", sub.FormID, apperr.ErrDuplicate)
		}
		if existing.Status == records.IntakeProcessed {
			return p.replayed(ctx, res, log)
		}
		log.Info("intake row exists from an earlier attempt; resuming", "status", existing.Status)
		in = *existing
		// A failed row re-enters the pipeline as new so it only ever moves
		// new -> processed or new -> failed.
		if existing.Status == records.IntakeFailed {
			ioCtx, ioCancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
			err := p.repo.SetIntakeStatus(ioCtx, sub.FormID, records.IntakeNew)
			ioCancel()
			if err != nil {
				return nil, p.deadline(ctx, err)
			}
			in.Status = records.IntakeNew
		}
	} else if err := p.appendIntake(ctx, in); err != nil {
		return nil, p.deadline(ctx, err)
	}

	// Steps 3 and 4: classify and persist triage, guarded the same way.
	outcome, err := p.triage(ctx, in, res)
	if err != nil {
		p.markFailed(ctx, sub.FormID, log)
		return nil, err
	}
	res.Urgency = outcome.Record.Urgency
	res.TriagePath = outcome.Path
	res.Degraded = outcome.Degraded
	if outcome.Err != nil {
		log.Warn("triage degraded", "path", outcome.Path, "error", outcome.Err)
	}
	if err := p.checkBudget(ctx); err != nil {
		p.markFailed(ctx, sub.FormID, log)
		return nil, err
	}

	appt := appointmentDetails(in)

	// Step 5: staff alert.
	ioCtx, ioCancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	_, err = p.notifier.SendTriageAlert(ioCtx, notify.TriageAlertPayload{
		Record:      outcome.Record,
		Email:       in.Email,
		Phone:       in.Phone,
		DOB:         in.DOB,
		Appointment: appt,
		Degraded:    outcome.Degraded,
	})
	ioCancel()
	if err != nil {
		res.soft(StepStaffAlert, err, log)
	}

	// Step 6: patient confirmation.
	ioCtx, ioCancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
	_, err = p.notifier.SendConfirmation(ioCtx, notify.ConfirmationPayload{
		FormID:      in.FormID,
		PatientName: in.PatientName,
		Email:       in.Email,
		Urgency:     outcome.Record.Urgency,
		Appointment: appt,
	})
	ioCancel()
	if err != nil {
		res.soft(StepConfirmation, err, log)
	}

	// Step 7: calendar entry when a slot was requested.
	if p.calendar != nil && in.HasAppointment() {
		if err := p.createCalendarEntry(ctx, in); err != nil {
			res.soft(StepCalendar, err, log)
		}
	}

	if err := p.checkBudget(ctx); err != nil {
		p.markFailed(ctx, sub.FormID, log)
		return nil, err
	}

	// Step 8: analytics.
	ioCtx, ioCancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.AppendAnalytics(ioCtx, records.AnalyticsEvent{
		Timestamp:       p.now().UTC(),
		EventType:       records.EventIntakeProcessed,
		PatientName:     in.PatientName,
		Urgency:         string(outcome.Record.Urgency),
		AppointmentDate: in.AppointmentDate,
		AppointmentTime: in.AppointmentTime,
		Reference:       in.FormID,
		Details:         "triage_path=" + string(outcome.Path),
	})
	ioCancel()
	if err != nil {
		res.soft(StepAnalytics, err, log)
	}

	ioCtx, ioCancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.SetIntakeStatus(ioCtx, in.FormID, records.IntakeProcessed)
	ioCancel()
	if err != nil {
		res.soft(StepStatus, err, log)
	}

	log.Info("intake processed",
		"urgency", res.Urgency, "triage_path", res.TriagePath, "soft_errors", len(res.SoftErrors))
	return res, nil
}

// RetryFailed replays Handle with exponential backoff while the failure is
// retryable. Every attempt and backoff share one Budget; a retry whose delay
// would outlast the remaining budget is skipped. On terminal failure an admin
// alert is sent before returning.
func (p *Pipeline) RetryFailed(ctx context.Context, sub Submission) (*Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	sub = sub.Normalize()

	budgetCtx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	var lastErr error
	delay := p.cfg.RetryBaseDelay
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		res, err := p.Handle(budgetCtx, sub)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		if !apperr.Retryable(err) || attempt == p.cfg.MaxRetries {
			break
		}
		if deadline, ok := budgetCtx.Deadline(); ok && time.Until(deadline) < delay {
			p.logger.Warn("intake budget too short for another attempt",
				"form_id", sub.FormID, "attempt", attempt, "delay", delay, "error", err)
			lastErr = fmt.Errorf("intake: retry budget exhausted: %w: %w", apperr.ErrUnavailable, lastErr)
			break
		}
		p.logger.Warn("intake attempt failed; retrying",
			"form_id", sub.FormID, "attempt", attempt, "delay", delay, "error", err)
		if serr := p.sleep(budgetCtx, delay); serr != nil {
			lastErr = fmt.Errorf("intake: retry interrupted: %w: %w", apperr.ErrUnavailable, lastErr)
			break
		}
		delay *= 2
	}

	if !errors.Is(lastErr, apperr.ErrValidation) && !errors.Is(lastErr, apperr.ErrDuplicate) {
		p.alert(ctx, sub, lastErr)
	}
	return nil, lastErr
}

func (p *Pipeline) triage(ctx context.Context, in records.Intake, res *Result) (triage.Outcome, error) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	prior, err := p.repo.FindTriage(ioCtx, in.FormID)
	cancel()
	if err != nil {
		return triage.Outcome{}, p.deadline(ctx, err)
	}
	if prior != nil {
		return triage.Outcome{Record: *prior, Path: pathStored}, nil
	}

	outcome := p.classifier.Classify(ctx, in)

	ioCtx, cancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.AppendTriage(ioCtx, outcome.Record)
	cancel()
	if err != nil {
		res.soft(StepPersistTriage, err, p.logger.With("form_id", in.FormID))
	}
	return outcome, nil
}

func (p *Pipeline) replayed(ctx context.Context, res *Result, log *logging.Logger) (*Result, error) {
	res.Duplicate = true
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	prior, err := p.repo.FindTriage(ioCtx, res.FormID)
	cancel()
	if err != nil {
		return nil, p.deadline(ctx, err)
	}
	if prior != nil {
		res.Urgency = prior.Urgency
		res.TriagePath = pathStored
	}
	log.Info("duplicate intake ignored", "urgency", res.Urgency)
	return res, nil
}

func (p *Pipeline) createCalendarEntry(ctx context.Context, in records.Intake) error {
	start, err := records.ParseDateTime(in.AppointmentDate, in.AppointmentTime, p.cfg.Location)
	if err != nil {
		return fmt.Errorf("intake: appointment time: %w: %w", apperr.ErrFatal, err)
	}
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	_, err = p.calendar.CreateEvent(ioCtx, calendar.AppointmentEntry(
		p.cfg.ClinicAddress, in.PatientName, in.VisitType, in.Email, in.Phone, in.FormID, start))
	return err
}

func (p *Pipeline) findIntake(ctx context.Context, formID string) (*records.Intake, error) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	return p.repo.FindIntake(ioCtx, formID)
}

func (p *Pipeline) appendIntake(ctx context.Context, in records.Intake) error {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	return p.repo.AppendIntake(ioCtx, in)
}

// markFailed records a terminal failure on the intake row, best effort.
func (p *Pipeline) markFailed(ctx context.Context, formID string, log *logging.Logger) {
	ioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.IOTimeout)
	defer cancel()
	if err := p.repo.SetIntakeStatus(ioCtx, formID, records.IntakeFailed); err != nil {
		log.Warn("failed to mark intake as failed", "error", err)
	}
}

func (p *Pipeline) alert(ctx context.Context, sub Submission, cause error) {
	ioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.IOTimeout)
	defer cancel()
	_, err := p.notifier.SendErrorAlert(ioCtx, notify.ErrorPayload{
		Kind:       ErrorAlertKind,
		Reference:  sub.FormID,
		Err:        cause,
		OccurredAt: p.now(),
		Details: map[string]string{
			"patient":   sub.PatientName,
			"retryable": strconv.FormatBool(apperr.Retryable(cause)),
		},
	})
	if err != nil {
		p.logger.Error("failed to send intake error alert", "form_id", sub.FormID, "error", err)
	}
}

// checkBudget converts an exhausted budget into ErrUnavailable.
func (p *Pipeline) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("intake: budget exceeded: %w: %w", apperr.ErrUnavailable, err)
	}
	return nil
}

func (p *Pipeline) deadline(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, apperr.ErrUnavailable) {
		return fmt.Errorf("intake: budget exceeded: %w: %w", apperr.ErrUnavailable, err)
	}
	return err
}

func (r *Result) soft(step string, err error, log *logging.Logger) {
	log.Warn("intake step failed", "step", step, "error", err)
	r.SoftErrors = append(r.SoftErrors, StepError{Step: step, Err: err})
}

func appointmentDetails(in records.Intake) *notify.AppointmentDetails {
	if !in.HasAppointment() {
		return nil
	}
	return &notify.AppointmentDetails{Date: in.AppointmentDate, Time: in.AppointmentTime, VisitType: in.VisitType}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
