// Package booking applies calendar-booking webhooks to the Appointments table.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/calendar"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/tabular"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/booking")

// DefaultVisitType is used when the event type cannot be resolved.
const DefaultVisitType = "General Consultation"

// Outcome statuses reported to the webhook caller.
const (
	StatusBooked      = "booked"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
	StatusDuplicate   = "duplicate"
	StatusNotFound    = "not_found"
	StatusSkipped     = "skipped"
)

// Step names reported in StepError.
const (
	StepConfirmation = "booking_confirmation"
	StepCalendar     = "calendar"
	StepAnalytics    = "analytics"
)

// StepError is a soft failure in a non-critical step.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string { return e.Step + ": " + e.Err.Error() }

// Result is the outcome of one booking event.
type Result struct {
	ExternalEventID string
	Status          string
	VisitType       string
	SoftErrors      []StepError
}

// Notifier is the subset of notify.Notifier used here.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, p notify.AppointmentPayload) (string, error)
	SendErrorAlert(ctx context.Context, p notify.ErrorPayload) (string, error)
}

// ErrorAlertKind names the admin alert for a failed booking event.
const ErrorAlertKind = "booking_processing_error"

// Config tunes the pipeline.
type Config struct {
	Location      *time.Location
	ClinicAddress string
	IOTimeout     time.Duration
}

// Pipeline handles booking webhooks.
type Pipeline struct {
	repo      *records.Repository
	notifier  Notifier
	calendar  calendar.Creator
	resolver  EventTypeResolver
	processed events.ProcessedStore
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time
}

// New builds a booking pipeline. cal, resolver and processed may be nil.
func New(repo *records.Repository, notifier Notifier, cal calendar.Creator, resolver EventTypeResolver, processed events.ProcessedStore, cfg Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 15 * time.Second
	}
	return &Pipeline{
		repo:      repo,
		notifier:  notifier,
		calendar:  cal,
		resolver:  resolver,
		processed: processed,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle applies one booking event.
func (p *Pipeline) Handle(ctx context.Context, ev Event) (res *Result, err error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	kind := ev.kind()
	id := strings.TrimSpace(ev.Payload.ExternalEventID)
	ev.Payload.ExternalEventID = id

	ctx, span := tracer.Start(ctx, "booking.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("booking.event", string(kind)), attribute.String("booking.external_event_id", id))
	log := p.logger.With("external_event_id", id, "event", kind)

	defer func() {
		if err != nil {
			p.alert(ctx, ev, err, log)
		}
	}()

	key := dedupeKey(kind, ev.Payload)
	if p.processed != nil {
		fresh, derr := p.processed.MarkProcessed(ctx, key)
		switch {
		case derr != nil:
			log.Warn("dedupe store unavailable; relying on store pre-check", "error", derr)
		case !fresh:
			log.Info("duplicate booking delivery ignored")
			return &Result{ExternalEventID: id, Status: StatusDuplicate}, nil
		default:
			defer func() {
				if err != nil {
					if rerr := p.processed.Release(context.WithoutCancel(ctx), key); rerr != nil {
						log.Warn("failed to release dedupe key", "error", rerr)
					}
				}
			}()
		}
	}

	switch kind {
	case KindCreated:
		return p.created(ctx, ev.Payload, log)
	case KindCancelled:
		return p.transition(ctx, ev.Payload, records.AppointmentCancelled, log)
	default:
		return p.transition(ctx, ev.Payload, records.AppointmentRescheduled, log)
	}
}

// dedupeKey identifies one delivery. A reschedule carries its target start
// time so that moving the same appointment twice is not a redelivery.
func dedupeKey(kind Kind, pl Payload) string {
	key := events.Key("booking", string(kind), pl.ExternalEventID)
	if kind != KindRescheduled {
		return key
	}
	if _, _, start, ok := pl.slot(time.UTC); ok {
		return key + ":" + start.Format(time.RFC3339)
	}
	return key + ":" + strings.TrimSpace(pl.Event.StartTime)
}

func (p *Pipeline) created(ctx context.Context, pl Payload, log *logging.Logger) (*Result, error) {
	res := &Result{ExternalEventID: pl.ExternalEventID}

	existing, err := p.findAppointment(ctx, pl.ExternalEventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info("appointment already recorded")
		res.Status = StatusDuplicate
		res.VisitType = existing.VisitType
		return res, nil
	}

	res.VisitType = p.visitType(ctx, pl, log)
	date, clock, start, hasSlot := pl.slot(p.cfg.Location)

	appt := records.Appointment{
		ExternalEventID: pl.ExternalEventID,
		CreatedAt:       p.now().UTC(),
		PatientName:     strings.TrimSpace(pl.Name),
		Email:           strings.TrimSpace(pl.Email),
		Phone:           strings.TrimSpace(pl.Phone),
		Date:            date,
		Time:            clock,
		VisitType:       res.VisitType,
		Status:          records.AppointmentScheduled,
		Notes:           pl.notes(),
	}
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.AppendAppointment(ioCtx, appt)
	cancel()
	if err != nil {
		return nil, err
	}

	if appt.Email != "" && p.notifier != nil {
		ioCtx, cancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
		_, err = p.notifier.SendBookingConfirmation(ioCtx, notify.AppointmentPayload{
			ExternalEventID: appt.ExternalEventID,
			PatientName:     appt.PatientName,
			Email:           appt.Email,
			Date:            appt.Date,
			Time:            appt.Time,
			VisitType:       appt.VisitType,
		})
		cancel()
		if err != nil {
			res.soft(StepConfirmation, err, log)
		} else {
			p.patch(ctx, appt.ExternalEventID, tabular.Row{records.ColConfirmationSent: records.FormatBool(true)}, log)
		}
	}

	if p.calendar != nil && hasSlot {
		ioCtx, cancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
		entry := calendar.AppointmentEntry(p.cfg.ClinicAddress, appt.PatientName, appt.VisitType, appt.Email, appt.Phone, appt.ExternalEventID, start)
		if end, err := time.Parse(time.RFC3339, strings.TrimSpace(pl.Event.EndTime)); err == nil && end.After(start) {
			entry.End = end.In(p.cfg.Location)
		}
		calID, err := p.calendar.CreateEvent(ioCtx, entry)
		cancel()
		if err != nil {
			res.soft(StepCalendar, err, log)
		} else {
			p.patch(ctx, appt.ExternalEventID, tabular.Row{records.ColCalendarEventID: calID}, log)
		}
	}

	ioCtx, cancel = context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.AppendAnalytics(ioCtx, records.AnalyticsEvent{
		Timestamp:       p.now().UTC(),
		EventType:       records.EventAppointmentBooked,
		PatientName:     appt.PatientName,
		AppointmentDate: appt.Date,
		AppointmentTime: appt.Time,
		Reference:       appt.ExternalEventID,
		Details:         "visit_type=" + appt.VisitType,
	})
	cancel()
	if err != nil {
		res.soft(StepAnalytics, err, log)
	}

	res.Status = StatusBooked
	log.Info("appointment booked", "visit_type", res.VisitType, "date", appt.Date, "time", appt.Time)
	return res, nil
}

// transition moves an existing appointment along the status DAG. A missing
// row or an invalid edge is logged and reported, never an error.
func (p *Pipeline) transition(ctx context.Context, pl Payload, to records.AppointmentStatus, log *logging.Logger) (*Result, error) {
	res := &Result{ExternalEventID: pl.ExternalEventID}

	current, err := p.findAppointment(ctx, pl.ExternalEventID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		log.Warn("booking update for unknown appointment")
		res.Status = StatusNotFound
		return res, nil
	}
	res.VisitType = current.VisitType
	if !records.CanTransition(current.Status, to) {
		log.Warn("invalid appointment status transition; skipping", "from", current.Status, "to", to)
		res.Status = StatusSkipped
		return res, nil
	}

	patch := tabular.Row{records.ColStatus: string(to)}
	if to == records.AppointmentRescheduled {
		if date, clock, _, ok := pl.slot(p.cfg.Location); ok {
			patch[records.ColDate] = date
			patch[records.ColTime] = clock
		}
	}

	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	err = p.repo.PatchAppointment(ioCtx, pl.ExternalEventID, patch)
	cancel()
	if err != nil {
		if records.IsNotFound(err) {
			log.Warn("appointment disappeared before update")
			res.Status = StatusNotFound
			return res, nil
		}
		return nil, err
	}

	if to == records.AppointmentCancelled {
		res.Status = StatusCancelled
	} else {
		res.Status = StatusRescheduled
	}
	log.Info("appointment updated", "from", current.Status, "to", to)
	return res, nil
}

func (p *Pipeline) alert(ctx context.Context, ev Event, cause error, log *logging.Logger) {
	ioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.IOTimeout)
	defer cancel()
	_, err := p.notifier.SendErrorAlert(ioCtx, notify.ErrorPayload{
		Kind:       ErrorAlertKind,
		Reference:  ev.Payload.ExternalEventID,
		Err:        cause,
		OccurredAt: p.now(),
		Details: map[string]string{
			"event":   string(ev.kind()),
			"patient": ev.Payload.Name,
		},
	})
	if err != nil {
		log.Error("failed to send booking error alert", "error", err)
	}
}

func (p *Pipeline) visitType(ctx context.Context, pl Payload, log *logging.Logger) string {
	if p.resolver != nil && strings.TrimSpace(pl.Event.URI) != "" {
		ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
		name, err := p.resolver.ResolveVisitType(ioCtx, pl.Event.URI)
		cancel()
		if err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
		if err != nil {
			log.Warn("visit type lookup failed; using fallback", "uri", pl.Event.URI, "error", err)
		}
	}
	if name := strings.TrimSpace(pl.Event.Name); name != "" {
		return name
	}
	return DefaultVisitType
}

func (p *Pipeline) findAppointment(ctx context.Context, id string) (*records.Appointment, error) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	return p.repo.FindAppointment(ioCtx, id)
}

func (p *Pipeline) patch(ctx context.Context, id string, patch tabular.Row, log *logging.Logger) {
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	if err := p.repo.PatchAppointment(ioCtx, id, patch); err != nil {
		log.Warn("failed to update appointment flags", "error", err)
	}
}

// CustomReminder is an ad-hoc reminder requested by staff.
type CustomReminder struct {
	ExternalEventID string    `json:"externalEventId"`
	SendAt          time.Time `json:"sendAt"`
	Message         string    `json:"message"`
}

// ScheduleCustomReminder records a custom reminder request against an
// existing appointment as a custom_reminder_scheduled analytics event.
func (p *Pipeline) ScheduleCustomReminder(ctx context.Context, r CustomReminder) error {
	fields := map[string]string{}
	if strings.TrimSpace(r.ExternalEventID) == "" {
		fields["externalEventId"] = "is required"
	}
	if r.SendAt.IsZero() {
		fields["sendAt"] = "is required"
	} else if !r.SendAt.After(p.now()) {
		fields["sendAt"] = "must be in the future"
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(fields)
	}

	appt, err := p.findAppointment(ctx, r.ExternalEventID)
	if err != nil {
		return err
	}
	if appt == nil {
		return fmt.Errorf("booking: appointment %q: %w", r.ExternalEventID, apperr.ErrNotFound)
	}

	at := r.SendAt.In(p.cfg.Location)
	ioCtx, cancel := context.WithTimeout(ctx, p.cfg.IOTimeout)
	defer cancel()
	return p.repo.AppendAnalytics(ioCtx, records.AnalyticsEvent{
		Timestamp:       p.now().UTC(),
		EventType:       records.EventCustomReminderScheduled,
		PatientName:     appt.PatientName,
		AppointmentDate: at.Format("2006-01-02"),
		AppointmentTime: at.Format("15:04"),
		Reference:       appt.ExternalEventID,
		Details:         strings.TrimSpace(r.Message),
	})
}

func (r *Result) soft(step string, err error, log *logging.Logger) {
	log.Warn("booking step failed", "step", step, "error", err)
	r.SoftErrors = append(r.SoftErrors, StepError{Step: step, Err: err})
}
