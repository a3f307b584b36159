// Package reports computes operational statistics over the clinic tables and
// dispatches weekly and custom-window reports to staff.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/reports")

// Report kinds.
const (
	KindWeekly = "weekly"
	KindCustom = "custom"
)

// Notifier is the subset of notify.Notifier the engine uses.
type Notifier interface {
	SendWeeklyReport(ctx context.Context, p notify.ReportPayload) (string, error)
}

// Narrator writes the report narrative. It must not fail.
type Narrator interface {
	Narrate(ctx context.Context, in triage.NarrativeInput) triage.NarrativeReport
}

// Archiver stores the generated report document.
type Archiver interface {
	ArchiveReport(ctx context.Context, kind string, start, end time.Time, doc any) (string, error)
}

// Report is the full output of one generation run.
type Report struct {
	Kind            string                 `json:"kind"`
	GeneratedAt     time.Time              `json:"generatedAt"`
	Statistics      Statistics             `json:"statistics"`
	Trends          []Trend                `json:"trends"`
	Recommendations []string               `json:"recommendations"`
	Narrative       triage.NarrativeReport `json:"narrative"`
	MessageID       string                 `json:"messageId,omitempty"`
	ArchiveKey      string                 `json:"archiveKey,omitempty"`
}

// Config tunes the engine.
type Config struct {
	Location   *time.Location
	ClinicName string
	IOTimeout  time.Duration
}

// Engine generates reports and the dashboard view.
type Engine struct {
	repo     *records.Repository
	notifier Notifier
	narrator Narrator
	archiver Archiver
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a report engine. archiver may be nil.
func New(repo *records.Repository, notifier Notifier, narrator Narrator, archiver Archiver, cfg Config, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 15 * time.Second
	}
	return &Engine{
		repo:     repo,
		notifier: notifier,
		narrator: narrator,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WeeklyWindow returns the seven days ending at the end of the current day
// in the clinic timezone.
func (e *Engine) WeeklyWindow() Window {
	today := startOfDay(e.now().In(e.cfg.Location))
	return Window{Start: today.AddDate(0, 0, -6), End: endOfDay(today)}
}

// GenerateWeekly builds and dispatches the weekly report.
func (e *Engine) GenerateWeekly(ctx context.Context) (*Report, error) {
	return e.generate(ctx, KindWeekly, e.WeeklyWindow())
}

// GenerateCustom builds and dispatches a report for whole days start..end
// in the clinic timezone.
func (e *Engine) GenerateCustom(ctx context.Context, start, end time.Time) (*Report, error) {
	if start.IsZero() || end.IsZero() {
		return nil, apperr.NewValidationError(map[string]string{"window": "start and end are required"})
	}
	s := startOfDay(start.In(e.cfg.Location))
	en := endOfDay(startOfDay(end.In(e.cfg.Location)))
	if s.After(en) {
		return nil, apperr.NewValidationError(map[string]string{"window": "start must not be after end"})
	}
	return e.generate(ctx, KindCustom, Window{Start: s, End: en})
}

func (e *Engine) generate(ctx context.Context, kind string, w Window) (*Report, error) {
	ctx, span := tracer.Start(ctx, "reports.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("report.kind", kind))

	appts, triageRecs, events, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	stats := CalculateStatistics(w, appts, triageRecs, events)
	trends := IdentifyTrends(stats)
	recs := GenerateRecommendations(stats, trends)

	narrative := e.narrator.Narrate(ctx, triage.NarrativeInput{
		ClinicName:      e.cfg.ClinicName,
		WindowStart:     w.Start,
		WindowEnd:       w.End,
		Metrics:         narrativeMetrics(stats),
		Trends:          trendDescriptions(trends),
		Recommendations: recs,
		HighRiskCount:   stats.HighUrgency,
	})

	report := &Report{
		Kind:            kind,
		GeneratedAt:     e.now().UTC(),
		Statistics:      stats,
		Trends:          trends,
		Recommendations: recs,
		Narrative:       narrative,
	}

	if e.archiver != nil {
		actx, cancel := context.WithTimeout(ctx, e.cfg.IOTimeout)
		key, aerr := e.archiver.ArchiveReport(actx, kind, w.Start, w.End, report)
		cancel()
		if aerr != nil {
			e.logger.Warn("report archive failed", "kind", kind, "error", aerr)
		} else {
			report.ArchiveKey = key
		}
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.IOTimeout)
	msgID, err := e.notifier.SendWeeklyReport(sctx, payloadFor(kind, report))
	cancel()
	if err != nil {
		return report, fmt.Errorf("reports: dispatch %s report: %w", kind, err)
	}
	report.MessageID = msgID

	e.recordAnalytics(ctx, kind, report)
	e.logger.Info("report generated",
		"kind", kind,
		"window_start", w.Start.Format(records.DateLayout),
		"window_end", w.End.Format(records.DateLayout),
		"total_bookings", stats.TotalBookings,
		"narrative_path", narrative.Path,
	)
	return report, nil
}

func (e *Engine) load(ctx context.Context) ([]records.Appointment, []records.TriageRecord, []records.AnalyticsEvent, error) {
	ioCtx, cancel := context.WithTimeout(ctx, e.cfg.IOTimeout)
	defer cancel()

	appts, bad, err := e.repo.ListAppointments(ioCtx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reports: scan appointments: %w", err)
	}
	e.logBad(records.TableAppointments, bad)

	triageRecs, bad, err := e.repo.ListTriage(ioCtx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reports: scan triage: %w", err)
	}
	e.logBad(records.TableTriage, bad)

	events, bad, err := e.repo.ListAnalytics(ioCtx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reports: scan analytics: %w", err)
	}
	e.logBad(records.TableAnalytics, bad)
	return appts, triageRecs, events, nil
}

func (e *Engine) logBad(table string, bad []error) {
	for _, err := range bad {
		e.logger.Warn("skipping malformed row", "table", table, "error", err)
	}
}

// recordAnalytics never fails the report.
func (e *Engine) recordAnalytics(ctx context.Context, kind string, r *Report) {
	details, _ := json.Marshal(map[string]any{
		"kind":          kind,
		"totalBookings": r.Statistics.TotalBookings,
		"noShowRate":    r.Statistics.NoShowRate,
		"totalTriage":   r.Statistics.TotalTriage,
		"archiveKey":    r.ArchiveKey,
	})
	ioCtx, cancel := context.WithTimeout(ctx, e.cfg.IOTimeout)
	defer cancel()
	err := e.repo.AppendAnalytics(ioCtx, records.AnalyticsEvent{
		Timestamp: e.now().UTC(),
		EventType: records.EventWeeklyReportGenerated,
		Reference: r.MessageID,
		Details:   string(details),
	})
	if err != nil {
		e.logger.Warn("failed to record report analytics", "kind", kind, "error", err)
	}
}

func payloadFor(kind string, r *Report) notify.ReportPayload {
	title := "Weekly Report"
	if kind == KindCustom {
		title = "Custom Report"
	}
	metrics := make([]notify.Metric, 0, 8)
	for _, m := range narrativeMetrics(r.Statistics) {
		metrics = append(metrics, notify.Metric{Name: m.Name, Value: m.Value})
	}
	trends := r.Narrative.Trends
	if len(trends) == 0 {
		trends = trendDescriptions(r.Trends)
	}
	recs := r.Narrative.Recommendations
	if len(recs) == 0 {
		recs = r.Recommendations
	}
	return notify.ReportPayload{
		Title:            title,
		PeriodStart:      r.Statistics.Window.Start,
		PeriodEnd:        r.Statistics.Window.End,
		ExecutiveSummary: r.Narrative.ExecutiveSummary,
		Metrics:          metrics,
		Trends:           trends,
		Recommendations:  recs,
		Alerts:           r.Narrative.Alerts,
		NextWeekFocus:    r.Narrative.NextWeekFocus,
	}
}

func narrativeMetrics(s Statistics) []triage.Metric {
	return []triage.Metric{
		{Name: "Total Bookings", Value: strconv.Itoa(s.TotalBookings)},
		{Name: "Completed", Value: strconv.Itoa(s.CompletedAppointments)},
		{Name: "No-Show Rate", Value: pct(s.NoShowRate)},
		{Name: "Completion Rate", Value: pct(s.CompletionRate)},
		{Name: "Cancellation Rate", Value: pct(s.CancellationRate)},
		{Name: "High-Risk Intakes", Value: fmt.Sprintf("%d of %d (%s)", s.HighUrgency, s.TotalTriage, pct(s.HighRiskPercentage))},
		{Name: "Reminders Sent", Value: strconv.Itoa(s.RemindersSent)},
		{Name: "Avg Daily Bookings", Value: strconv.FormatFloat(s.AverageDailyBookings, 'f', 1, 64)},
	}
}

func trendDescriptions(trends []Trend) []string {
	out := make([]string, 0, len(trends))
	for _, t := range trends {
		out = append(out, t.Direction+": "+t.Description)
	}
	return out
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}
