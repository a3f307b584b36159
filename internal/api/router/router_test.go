package router

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/booking"
	"github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-automation/internal/http/middleware"
	"github.com/wolfman30/clinic-automation/internal/intake"
	"github.com/wolfman30/clinic-automation/internal/llm"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/reminders"
	"github.com/wolfman30/clinic-automation/internal/reports"
	"github.com/wolfman30/clinic-automation/internal/scheduler"
	"github.com/wolfman30/clinic-automation/internal/tabular/memstore"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

const lowUrgencyJSON = `{"summary":"Routine annual physical.","urgencyLevel":"Low","riskKeywords":[],"recommendations":"Standard slot","followUpNotes":"None"}`

// scriptedModel answers well-formed JSON except for chest pain complaints,
// where it returns prose.
type scriptedModel struct{}

func (scriptedModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "chest pain") {
			return llm.Response{Text: "Unable to comply."}, nil
		}
	}
	return llm.Response{Text: lowUrgencyJSON}, nil
}

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) deliver(_ context.Context, msg notify.Message) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return "msg-" + string(msg.Kind), nil
}

func (o *outbox) kinds() []notify.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []notify.Kind
	for _, m := range o.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func (o *outbox) find(kind notify.Kind) *notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.msgs {
		if o.msgs[i].Kind == kind {
			return &o.msgs[i]
		}
	}
	return nil
}

type stack struct {
	handler http.Handler
	store   *memstore.Store
	repo    *records.Repository
	outbox  *outbox
}

type options struct {
	adminSecret   string
	webhookSecret string
}

func newStack(t *testing.T, opts options) *stack {
	t.Helper()
	logger := logging.Discard()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store := memstore.New()
	repo := records.NewRepository(store)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	box := &outbox{}
	notifier := notify.New(notify.Options{
		Email:       notify.TransportFunc(box.deliver),
		Clinic:      config.ClinicIdentity{Name: "Riverside Clinic", Phone: "555-0100", Address: "12 River Rd"},
		StaffEmails: []string{"staff@clinic.test"},
		Logger:      logger,
	})

	classifier := triage.NewClassifier(scriptedModel{}, triage.WithLogger(logger))
	intakePipeline := intake.New(repo, classifier, notifier, nil, intake.Config{Location: loc, MaxRetries: 1}, logger)
	bookingPipeline := booking.New(repo, notifier, nil, nil, events.NewMemoryProcessedStore(0), booking.Config{Location: loc}, logger)
	sweeps := reminders.New(repo, notifier, reminders.Config{Location: loc}, nil, logger)
	reportEngine := reports.New(repo, notifier, triage.NewNarrator(nil, "", 0, logger), nil,
		reports.Config{Location: loc, ClinicName: "Riverside Clinic"}, logger)

	jobs := scheduler.New(scheduler.Config{Location: loc}, nil, nil, nil, logger)
	require.NoError(t, jobs.Register(scheduler.Job{Name: handlers.JobReminders, Run: func(ctx context.Context) (any, error) {
		return sweeps.ReminderSweep(ctx)
	}}))
	require.NoError(t, jobs.Register(scheduler.Job{Name: handlers.JobFollowUps, Run: func(ctx context.Context) (any, error) {
		return sweeps.FollowUpSweep(ctx)
	}}))
	require.NoError(t, jobs.Register(scheduler.Job{Name: handlers.JobWeeklyReport, Run: func(ctx context.Context) (any, error) {
		return reportEngine.GenerateWeekly(ctx)
	}}))

	h := New(&Config{
		Logger:          logger,
		Webhooks:        handlers.NewWebhookHandler(intakePipeline, bookingPipeline, nil, logger),
		Triggers:        handlers.NewTriggerHandler(jobs, reportEngine, bookingPipeline, loc, logger),
		Dashboard:       handlers.NewDashboardHandler(reportEngine, jobs, logger),
		Health:          handlers.NewHealthHandler("memory", nil),
		AdminAuthSecret: opts.adminSecret,
		WebhookSecret:   opts.webhookSecret,
	})
	return &stack{handler: h, store: store, repo: repo, outbox: box}
}

func (s *stack) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

const janeDoe = `{"formId":"F1","patientName":"Jane Doe","email":"j@x.com","dob":"1990-01-01","reasonForVisit":"%s","appointmentDate":"2025-06-01","appointmentTime":"09:00"}`

func intakeBody(reason string) string {
	return strings.Replace(janeDoe, "%s", reason, 1)
}

func TestHealth(t *testing.T) {
	s := newStack(t, options{})
	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestIntake_HappyPath(t *testing.T) {
	s := newStack(t, options{})

	rec, body := s.do(t, http.MethodPost, "/webhook/intake", intakeBody("annual physical"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "F1", body["formId"])
	assert.Equal(t, "Low", body["urgencyLevel"])

	assert.Equal(t, 1, s.store.Len(records.TableIntake))
	tr, err := s.repo.FindTriage(context.Background(), "F1")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, records.UrgencyLow, tr.Urgency)

	confirmation := s.outbox.find(notify.KindConfirmation)
	require.NotNil(t, confirmation)
	assert.Equal(t, "j@x.com", confirmation.To)
	alert := s.outbox.find(notify.KindTriageAlert)
	require.NotNil(t, alert)
	assert.Equal(t, "staff@clinic.test", alert.To)

	evts, _, err := s.repo.ListAnalytics(context.Background())
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, records.EventIntakeProcessed, evts[0].EventType)

	// Resubmitting the same form is idempotent.
	rec, body = s.do(t, http.MethodPost, "/webhook/intake", intakeBody("annual physical"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, 1, s.store.Len(records.TableIntake))
	assert.Equal(t, 1, s.store.Len(records.TableTriage))
}

func TestIntake_HighUrgencyFallback(t *testing.T) {
	s := newStack(t, options{})

	rec, body := s.do(t, http.MethodPost, "/webhook/intake", intakeBody("severe chest pain and shortness of breath"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "High", body["urgencyLevel"])

	tr, err := s.repo.FindTriage(context.Background(), "F1")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Contains(t, tr.RiskKeywords, "chest pain")
	assert.Contains(t, tr.RiskKeywords, "shortness of breath")

	alert := s.outbox.find(notify.KindTriageAlert)
	require.NotNil(t, alert)
	assert.Equal(t, notify.SeverityCritical, alert.Severity)
}

func TestIntake_ValidationFailure(t *testing.T) {
	s := newStack(t, options{})

	body := strings.Replace(intakeBody("annual physical"), "j@x.com", "not-an-email", 1)
	rec, decoded := s.do(t, http.MethodPost, "/webhook/intake", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decoded["success"])
	details := decoded["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "email")

	for _, table := range []string{records.TableIntake, records.TableTriage, records.TableAnalytics} {
		assert.Zero(t, s.store.Len(table), table)
	}
	assert.Empty(t, s.outbox.kinds())
}

func TestBookingThenReminderTrigger(t *testing.T) {
	s := newStack(t, options{})
	start := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	payload := `{"event":"created","payload":{"externalEventId":"evt-1","name":"Jane Doe","email":"j@x.com","created_at":"` +
		time.Now().UTC().Format(time.RFC3339) + `","event":{"uri":"u","name":"Annual Physical","start_time":"` + start + `"}}}`

	rec, body := s.do(t, http.MethodPost, "/webhook/booking", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "booked", body["status"])

	for i := 0; i < 2; i++ {
		rec, _ = s.do(t, http.MethodPost, "/trigger/reminders", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	reminderCount := 0
	for _, k := range s.outbox.kinds() {
		if k == notify.KindReminder {
			reminderCount++
		}
	}
	assert.Equal(t, 1, reminderCount)
}

func TestWeeklyReport_EmptyWindow(t *testing.T) {
	s := newStack(t, options{})

	rec, body := s.do(t, http.MethodPost, "/trigger/weekly-report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := body["result"].(map[string]any)
	stats := result["statistics"].(map[string]any)
	assert.Equal(t, float64(0), stats["noShowRate"])
	assert.Equal(t, float64(0), stats["completionRate"])
	assert.NotContains(t, rec.Body.String(), "NaN")

	report := s.outbox.find(notify.KindWeeklyReport)
	require.NotNil(t, report)
	assert.Contains(t, report.Text, "No-Show Rate")
	assert.Contains(t, report.Text, "0.0%")
}

func TestDashboard(t *testing.T) {
	s := newStack(t, options{})
	rec, body := s.do(t, http.MethodGet, "/dashboard", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "lastSevenDays")
	assert.Contains(t, body, "allTime")
	assert.Len(t, body["jobs"], 3)
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	s := newStack(t, options{adminSecret: "admin-secret"})

	rec, _ := s.do(t, http.MethodGet, "/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("admin-secret"))
	require.NoError(t, err)

	rec, _ = s.do(t, http.MethodGet, "/dashboard", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")
}

func TestWebhookSignatureEnforced(t *testing.T) {
	s := newStack(t, options{webhookSecret: "whsec"})
	body := intakeBody("annual physical")

	rec, _ := s.do(t, http.MethodPost, "/webhook/intake", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, s.store.Len(records.TableIntake))

	sig := "sha256=" + hex.EncodeToString(httpmiddleware.Sign("whsec", []byte(body)))
	rec, _ = s.do(t, http.MethodPost, "/webhook/intake", body, map[string]string{httpmiddleware.SignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
