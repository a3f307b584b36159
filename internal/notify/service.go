// Package notify renders clinic notifications and routes them to email and
// chat transports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// DeliveryObserver receives one callback per delivery attempt.
type DeliveryObserver interface {
	ObserveNotification(kind, status string)
}

// Options configures a Notifier.
type Options struct {
	// Email delivers patient mail and staff mail. Required.
	Email Transport
	// Chat, when set, receives a copy of every staff-facing message.
	Chat        Transport
	Clinic      config.ClinicIdentity
	StaffEmails []string
	AdminEmail  string
	Logger      *logging.Logger
	Observer    DeliveryObserver
}

// Notifier renders and dispatches every outbound message. It never retries.
type Notifier struct {
	email    Transport
	chat     Transport
	clinic   config.ClinicIdentity
	staff    []string
	admin    string
	logger   *logging.Logger
	observer DeliveryObserver
}

// New creates a Notifier. A nil Email transport falls back to the stub.
func New(opts Options) *Notifier {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Email == nil {
		opts.Email = NewStubTransport(opts.Logger)
	}
	var staff []string
	for _, addr := range opts.StaffEmails {
		if addr = strings.TrimSpace(addr); addr != "" {
			staff = append(staff, addr)
		}
	}
	return &Notifier{
		email:    opts.Email,
		chat:     opts.Chat,
		clinic:   opts.Clinic,
		staff:    staff,
		admin:    strings.TrimSpace(opts.AdminEmail),
		logger:   opts.Logger,
		observer: opts.Observer,
	}
}

// Clinic returns the identity rendered into messages.
func (n *Notifier) Clinic() config.ClinicIdentity {
	return n.clinic
}

// SendConfirmation acknowledges an intake to the patient.
func (n *Notifier) SendConfirmation(ctx context.Context, p ConfirmationPayload) (string, error) {
	return n.sendPatient(ctx, RenderConfirmation(n.clinic, p))
}

// SendBookingConfirmation acknowledges a new booking to the patient.
func (n *Notifier) SendBookingConfirmation(ctx context.Context, p AppointmentPayload) (string, error) {
	return n.sendPatient(ctx, RenderBookingConfirmation(n.clinic, p))
}

// SendReminder sends the pre-visit reminder.
func (n *Notifier) SendReminder(ctx context.Context, p AppointmentPayload) (string, error) {
	return n.sendPatient(ctx, RenderReminder(n.clinic, p))
}

// SendFollowUp sends the post-visit follow-up.
func (n *Notifier) SendFollowUp(ctx context.Context, p AppointmentPayload) (string, error) {
	return n.sendPatient(ctx, RenderFollowUp(n.clinic, p))
}

// SendTriageAlert notifies staff of a triaged intake.
func (n *Notifier) SendTriageAlert(ctx context.Context, p TriageAlertPayload) (string, error) {
	return n.sendStaff(ctx, RenderTriageAlert(n.clinic, p), n.staff)
}

// SendWeeklyReport sends an analytics report to staff.
func (n *Notifier) SendWeeklyReport(ctx context.Context, p ReportPayload) (string, error) {
	return n.sendStaff(ctx, RenderWeeklyReport(n.clinic, p), n.staff)
}

// SendErrorAlert notifies the admin of a pipeline failure. Falls back to
// staff recipients when no admin address is configured.
func (n *Notifier) SendErrorAlert(ctx context.Context, p ErrorPayload) (string, error) {
	recipients := n.staff
	if n.admin != "" {
		recipients = []string{n.admin}
	}
	return n.sendStaff(ctx, RenderErrorAlert(n.clinic, p), recipients)
}

func (n *Notifier) sendPatient(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		n.observe(msg.Kind, "skipped")
		return "", fmt.Errorf("notify: %s: patient has no email address: %w", msg.Kind, apperr.ErrFatal)
	}
	id, err := n.email.Deliver(ctx, msg)
	if err != nil {
		n.observe(msg.Kind, "failed")
		n.logger.Warn("patient notification failed", "kind", msg.Kind, "error", err)
		return "", fmt.Errorf("notify: %s: %w: %w", msg.Kind, apperr.ErrTransport, err)
	}
	n.observe(msg.Kind, "sent")
	return id, nil
}

// sendStaff delivers to each recipient and the chat channel. It succeeds when
// at least one delivery succeeded; partial failures are logged.
func (n *Notifier) sendStaff(ctx context.Context, msg Message, recipients []string) (string, error) {
	if len(recipients) == 0 && n.chat == nil {
		n.logger.Warn("no staff recipients configured; dropping notification", "kind", msg.Kind)
		n.observe(msg.Kind, "skipped")
		return "", nil
	}

	var firstID string
	var errs []error
	for _, to := range recipients {
		m := msg
		m.To = to
		id, err := n.email.Deliver(ctx, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("email %s: %w", to, err))
			continue
		}
		if firstID == "" {
			firstID = id
		}
	}
	if n.chat != nil {
		id, err := n.chat.Deliver(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("chat: %w", err))
		} else if firstID == "" {
			firstID = id
		}
	}

	if len(errs) == 0 {
		n.observe(msg.Kind, "sent")
		return firstID, nil
	}
	joined := errors.Join(errs...)
	if firstID != "" {
		n.observe(msg.Kind, "partial")
		n.logger.Warn("notification partially delivered", "kind", msg.Kind, "failed", len(errs), "error", joined)
		return firstID, nil
	}
	n.observe(msg.Kind, "failed")
	n.logger.Error("notification failed", "kind", msg.Kind, "failed", len(errs), "error", joined)
	return "", fmt.Errorf("notify: %s: %d delivery(ies) failed: %w: %w", msg.Kind, len(errs), apperr.ErrTransport, joined)
}

func (n *Notifier) observe(kind Kind, status string) {
	if n.observer != nil {
		n.observer.ObserveNotification(string(kind), status)
	}
}
