package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/booking"
	"github.com/wolfman30/clinic-automation/internal/intake"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/reports"
	"github.com/wolfman30/clinic-automation/internal/scheduler"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type fakeIntake struct {
	got []intake.Submission
	res *intake.Result
	err error
}

func (f *fakeIntake) RetryFailed(_ context.Context, sub intake.Submission) (*intake.Result, error) {
	f.got = append(f.got, sub)
	return f.res, f.err
}

type fakeBooking struct {
	got []booking.Event
	res *booking.Result
	err error
}

func (f *fakeBooking) Handle(_ context.Context, ev booking.Event) (*booking.Result, error) {
	f.got = append(f.got, ev)
	return f.res, f.err
}

type webhookRecorder struct{ labels []string }

func (o *webhookRecorder) ObserveWebhook(source, status string, _ time.Duration) {
	o.labels = append(o.labels, source+":"+status)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIntakeWebhook_Success(t *testing.T) {
	in := &fakeIntake{res: &intake.Result{FormID: "F1", Urgency: records.UrgencyHigh, TriagePath: triage.PathHeuristic, Degraded: true}}
	obs := &webhookRecorder{}
	h := NewWebhookHandler(in, nil, obs, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/webhook/intake", strings.NewReader(`{"formId":"F1","patientName":"Jane Doe","email":"j@x.com","dob":"1990-01-01"}`))
	rec := httptest.NewRecorder()
	h.Intake(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "F1", body["formId"])
	assert.Equal(t, "High", body["urgencyLevel"])
	assert.Equal(t, "heuristic", body["triagePath"])
	require.Len(t, in.got, 1)
	assert.Equal(t, "Jane Doe", in.got[0].PatientName)
	assert.Equal(t, []string{"intake:ok"}, obs.labels)
}

func TestIntakeWebhook_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		want    int
		message string
	}{
		{"validation", apperr.NewValidationError(map[string]string{"email": "invalid email"}), http.StatusBadRequest, "validation failed"},
		{"duplicate", fmt.Errorf("intake: %w", apperr.ErrDuplicate), http.StatusConflict, "duplicate"},
		{"store down", fmt.Errorf("records: append intake: %w", apperr.ErrStoreUnavailable), http.StatusServiceUnavailable, "service temporarily unavailable"},
		{"fatal", fmt.Errorf("bad row: %w", apperr.ErrFatal), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebhookHandler(&fakeIntake{err: tc.err}, nil, nil, logging.Discard())
			rec := httptest.NewRecorder()
			h.Intake(rec, httptest.NewRequest(http.MethodPost, "/webhook/intake", strings.NewReader(`{}`)))

			assert.Equal(t, tc.want, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			errBody := body["error"].(map[string]any)
			assert.Contains(t, errBody["message"], tc.message)
		})
	}
}

func TestIntakeWebhook_ValidationDetails(t *testing.T) {
	h := NewWebhookHandler(&fakeIntake{err: apperr.NewValidationError(map[string]string{"email": "invalid email"})}, nil, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Intake(rec, httptest.NewRequest(http.MethodPost, "/webhook/intake", strings.NewReader(`{"email":"not-an-email"}`)))

	body := decodeBody(t, rec)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "invalid email", details["email"])
}

func TestIntakeWebhook_MalformedJSON(t *testing.T) {
	in := &fakeIntake{}
	h := NewWebhookHandler(in, nil, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Intake(rec, httptest.NewRequest(http.MethodPost, "/webhook/intake", strings.NewReader(`{"formId":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, in.got)
}

func TestBookingWebhook(t *testing.T) {
	b := &fakeBooking{res: &booking.Result{ExternalEventID: "evt-1", Status: booking.StatusBooked, VisitType: "Annual Physical"}}
	h := NewWebhookHandler(nil, b, nil, logging.Discard())

	payload := `{"event":"created","payload":{"externalEventId":"evt-1","name":"Jane","email":"j@x.com","event":{"uri":"https://api.calendly.com/scheduled_events/1","start_time":"2025-06-03T14:00:00Z"}}}`
	rec := httptest.NewRecorder()
	h.Booking(rec, httptest.NewRequest(http.MethodPost, "/webhook/booking", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "booked", body["status"])
	assert.Equal(t, "evt-1", body["externalEventId"])
	require.Len(t, b.got, 1)
	assert.Equal(t, booking.KindCreated, b.got[0].Event)
	assert.Equal(t, "2025-06-03T14:00:00Z", b.got[0].Payload.Event.StartTime)
}

type fakeJobs struct {
	ran []string
	err error
}

func (f *fakeJobs) Trigger(_ context.Context, name string) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ran = append(f.ran, name)
	return map[string]int{"sent": 1}, nil
}

func (f *fakeJobs) Entries() []scheduler.EntryInfo {
	return []scheduler.EntryInfo{{Name: JobReminders, Spec: "@hourly"}}
}

type fakeReports struct {
	start, end time.Time
}

func (f *fakeReports) GenerateCustom(_ context.Context, start, end time.Time) (*reports.Report, error) {
	if start.After(end) {
		return nil, apperr.NewValidationError(map[string]string{"window": "start must not be after end"})
	}
	f.start, f.end = start, end
	return &reports.Report{Kind: reports.KindCustom}, nil
}

func (f *fakeReports) Dashboard(context.Context) (*reports.Dashboard, error) {
	return &reports.Dashboard{LastSevenDays: reports.Statistics{TotalBookings: 3}}, nil
}

type fakeReminders struct {
	got []booking.CustomReminder
	err error
}

func (f *fakeReminders) ScheduleCustomReminder(_ context.Context, r booking.CustomReminder) error {
	f.got = append(f.got, r)
	return f.err
}

func TestTriggers_RunJobs(t *testing.T) {
	jobs := &fakeJobs{}
	h := NewTriggerHandler(jobs, nil, nil, nil, logging.Discard())

	for _, fn := range []http.HandlerFunc{h.Reminders, h.FollowUps, h.WeeklyReport} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, []string{JobReminders, JobFollowUps, JobWeeklyReport}, jobs.ran)
}

func TestTriggers_AlreadyRunning(t *testing.T) {
	h := NewTriggerHandler(&fakeJobs{err: scheduler.ErrAlreadyRunning}, nil, nil, nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Reminders(rec, httptest.NewRequest(http.MethodPost, "/trigger/reminders", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestTriggers_CustomReport(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	rep := &fakeReports{}
	h := NewTriggerHandler(nil, rep, nil, newYork, logging.Discard())

	rec := httptest.NewRecorder()
	h.CustomReport(rec, httptest.NewRequest(http.MethodPost, "/trigger/custom-report?start=2025-06-01&end=2025-06-14", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, newYork, rep.start.Location())
	assert.Equal(t, 14, rep.end.Day())

	rec = httptest.NewRecorder()
	h.CustomReport(rec, httptest.NewRequest(http.MethodPost, "/trigger/custom-report?start=June&end=2025-06-14", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "YYYY-MM-DD")

	rec = httptest.NewRecorder()
	h.CustomReport(rec, httptest.NewRequest(http.MethodPost, "/trigger/custom-report?start=2025-06-14&end=2025-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggers_CustomReminder(t *testing.T) {
	rem := &fakeReminders{}
	h := NewTriggerHandler(nil, nil, rem, nil, logging.Discard())

	rec := httptest.NewRecorder()
	h.CustomReminder(rec, httptest.NewRequest(http.MethodPost, "/trigger/custom-reminder",
		strings.NewReader(`{"externalEventId":"evt-1","sendAt":"2025-06-02T09:00:00Z","message":"Bring your insurance card"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, rem.got, 1)
	assert.Equal(t, "Bring your insurance card", rem.got[0].Message)

	rem.err = fmt.Errorf("booking: %w", apperr.ErrNotFound)
	rec = httptest.NewRecorder()
	h.CustomReminder(rec, httptest.NewRequest(http.MethodPost, "/trigger/custom-reminder", strings.NewReader(`{"externalEventId":"nope"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard(t *testing.T) {
	h := NewDashboardHandler(&fakeReports{}, &fakeJobs{}, logging.Discard())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(3), body["lastSevenDays"].(map[string]any)["totalBookings"])
	assert.Len(t, body["jobs"], 1)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler("sheets", func(context.Context) error { return errors.New("quota exceeded") })
	h.started = time.Now().Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), float64(90))
	store := body["store"].(map[string]any)
	assert.Equal(t, "sheets", store["backend"])
	assert.Equal(t, "unavailable", store["status"])
}
