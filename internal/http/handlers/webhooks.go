package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-automation/internal/booking"
	"github.com/wolfman30/clinic-automation/internal/intake"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// IntakeProcessor runs the intake pipeline with retries.
type IntakeProcessor interface {
	RetryFailed(ctx context.Context, sub intake.Submission) (*intake.Result, error)
}

// BookingProcessor applies booking events.
type BookingProcessor interface {
	Handle(ctx context.Context, ev booking.Event) (*booking.Result, error)
}

// WebhookObserver records webhook outcomes, typically in metrics.
type WebhookObserver interface {
	ObserveWebhook(source, status string, elapsed time.Duration)
}

// WebhookHandler serves POST /webhook/intake and POST /webhook/booking.
type WebhookHandler struct {
	intake   IntakeProcessor
	booking  BookingProcessor
	observer WebhookObserver
	logger   *logging.Logger
}

// NewWebhookHandler creates the webhook handler. observer may be nil.
func NewWebhookHandler(intake IntakeProcessor, booking BookingProcessor, observer WebhookObserver, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{intake: intake, booking: booking, observer: observer, logger: logger}
}

// IntakeResponse is returned for a processed intake form.
type IntakeResponse struct {
	Success      bool   `json:"success"`
	FormID       string `json:"formId"`
	UrgencyLevel string `json:"urgencyLevel"`
	TriagePath   string `json:"triagePath,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	Warnings     int    `json:"warnings,omitempty"`
}

// Intake handles POST /webhook/intake.
func (h *WebhookHandler) Intake(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { h.observe("intake", status, start) }()

	var sub intake.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		status = writeError(w, h.logger, err)
		return
	}
	res, err := h.intake.RetryFailed(r.Context(), sub)
	if err != nil {
		status = writeError(w, h.logger, err)
		return
	}
	writeJSON(w, status, IntakeResponse{
		Success:      true,
		FormID:       res.FormID,
		UrgencyLevel: string(res.Urgency),
		TriagePath:   string(res.TriagePath),
		Degraded:     res.Degraded,
		Duplicate:    res.Duplicate,
		Warnings:     len(res.SoftErrors),
	})
}

// BookingResponse is returned for an applied booking event.
type BookingResponse struct {
	Success         bool   `json:"success"`
	ExternalEventID string `json:"externalEventId"`
	Status          string `json:"status"`
	VisitType       string `json:"visitType,omitempty"`
	Warnings        int    `json:"warnings,omitempty"`
}

// Booking handles POST /webhook/booking.
func (h *WebhookHandler) Booking(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() { h.observe("booking", status, start) }()

	var ev booking.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		status = writeError(w, h.logger, err)
		return
	}
	res, err := h.booking.Handle(r.Context(), ev)
	if err != nil {
		status = writeError(w, h.logger, err)
		return
	}
	writeJSON(w, status, BookingResponse{
		Success:         true,
		ExternalEventID: res.ExternalEventID,
		Status:          res.Status,
		VisitType:       res.VisitType,
		Warnings:        len(res.SoftErrors),
	})
}

func (h *WebhookHandler) observe(source string, status int, start time.Time) {
	if h.observer != nil {
		h.observer.ObserveWebhook(source, statusLabel(status), time.Since(start))
	}
}
