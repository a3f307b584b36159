package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/booking"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/reports"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Job names shared with the scheduler registration.
const (
	JobReminders    = "reminders"
	JobFollowUps    = "follow_ups"
	JobWeeklyReport = "weekly_report"
)

// JobTrigger runs a registered job synchronously.
type JobTrigger interface {
	Trigger(ctx context.Context, name string) (any, error)
}

// CustomReporter generates a report over an arbitrary window.
type CustomReporter interface {
	GenerateCustom(ctx context.Context, start, end time.Time) (*reports.Report, error)
}

// ReminderScheduler records custom reminder requests.
type ReminderScheduler interface {
	ScheduleCustomReminder(ctx context.Context, r booking.CustomReminder) error
}

// TriggerHandler serves the manual /trigger endpoints.
type TriggerHandler struct {
	jobs      JobTrigger
	reports   CustomReporter
	reminders ReminderScheduler
	location  *time.Location
	logger    *logging.Logger
}

// NewTriggerHandler creates the trigger handler.
func NewTriggerHandler(jobs JobTrigger, reports CustomReporter, reminders ReminderScheduler, loc *time.Location, logger *logging.Logger) *TriggerHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TriggerHandler{jobs: jobs, reports: reports, reminders: reminders, location: loc, logger: logger}
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Job     string `json:"job"`
	Result  any    `json:"result"`
}

// Reminders handles POST /trigger/reminders.
func (h *TriggerHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, JobReminders)
}

// FollowUps handles POST /trigger/follow-ups.
func (h *TriggerHandler) FollowUps(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, JobFollowUps)
}

// WeeklyReport handles POST /trigger/weekly-report.
func (h *TriggerHandler) WeeklyReport(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, JobWeeklyReport)
}

func (h *TriggerHandler) run(w http.ResponseWriter, r *http.Request, job string) {
	result, err := h.jobs.Trigger(r.Context(), job)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Success: true, Job: job, Result: result})
}

// CustomReport handles POST /trigger/custom-report?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *TriggerHandler) CustomReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := map[string]string{}
	start, err := time.ParseInLocation(records.DateLayout, strings.TrimSpace(q.Get("start")), h.location)
	if err != nil {
		fields["start"] = "must be YYYY-MM-DD"
	}
	end, err := time.ParseInLocation(records.DateLayout, strings.TrimSpace(q.Get("end")), h.location)
	if err != nil {
		fields["end"] = "must be YYYY-MM-DD"
	}
	if len(fields) > 0 {
		writeError(w, h.logger, apperr.NewValidationError(fields))
		return
	}

	report, err := h.reports.GenerateCustom(r.Context(), start, end)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Success: true, Job: "custom_report", Result: report})
}

// CustomReminder handles POST /trigger/custom-reminder.
func (h *TriggerHandler) CustomReminder(w http.ResponseWriter, r *http.Request) {
	var req booking.CustomReminder
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.reminders.ScheduleCustomReminder(r.Context(), req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":         true,
		"externalEventId": req.ExternalEventID,
		"sendAt":          req.SendAt,
	})
}
