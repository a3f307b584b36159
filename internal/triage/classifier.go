// Package triage turns free-text intake forms into structured triage records
// using a language model, with deterministic fallbacks when the model is
// unavailable or returns malformed output.
package triage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/llm"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var tracer = otel.Tracer("github.com/wolfman30/clinic-automation/internal/triage")

// Path records which parse stage produced a triage record.
type Path string

const (
	PathModel     Path = "model"
	PathSalvaged  Path = "salvaged"
	PathHeuristic Path = "heuristic"
	PathTerminal  Path = "terminal"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 800
	defaultTimeout     = 30 * time.Second

	terminalSummary         = "manual review recommended"
	terminalRecommendations = "Review patient information manually"
)

// Outcome is the classifier result. Record is always populated.
type Outcome struct {
	Record   records.TriageRecord
	Path     Path
	Degraded bool
	// Err is a soft signal wrapping apperr.ErrClassifierDegraded when a
	// fallback fired. It never means Record is unusable.
	Err error
}

// PathObserver receives the path taken for each classification.
type PathObserver interface {
	ObserveTriagePath(path string, urgency string)
}

// Classifier implements the triage operation.
type Classifier struct {
	client   llm.Client
	model    string
	timeout  time.Duration
	logger   *logging.Logger
	observer PathObserver
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel sets the model id passed in each request.
func WithModel(model string) Option { return func(c *Classifier) { c.model = model } }

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(c *Classifier) { c.logger = l } }

// WithObserver records classification paths, typically in metrics.
func WithObserver(o PathObserver) Option { return func(c *Classifier) { c.observer = o } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Classifier) { c.now = now } }

// NewClassifier builds a classifier. client may be nil, in which case every
// intake goes straight to the keyword fallback.
func NewClassifier(client llm.Client, opts ...Option) *Classifier {
	c := &Classifier{
		client:  client,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c
}

// Classify never fails. It tries the model, then salvage, then keywords,
// then a fixed manual-review record.
func (c *Classifier) Classify(ctx context.Context, in records.Intake) (out Outcome) {
	ctx, span := tracer.Start(ctx, "triage.Classify")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("triage classifier panicked", "form_id", in.FormID, "panic", fmt.Sprint(r))
			out = c.terminal(in, fmt.Errorf("panic: %v", r))
		}
		out.Record.FormID = in.FormID
		out.Record.PatientName = in.PatientName
		out.Record.ReasonForVisit = in.ReasonForVisit
		out.Record.CreatedAt = c.now().UTC()
		span.SetAttributes(
			attribute.String("triage.path", string(out.Path)),
			attribute.String("triage.urgency", string(out.Record.Urgency)),
		)
		if c.observer != nil {
			c.observer.ObserveTriagePath(string(out.Path), string(out.Record.Urgency))
		}
	}()

	scan := scanKeywords(in)

	text, err := c.complete(ctx, in)
	if err != nil {
		c.logger.Warn("triage model call failed, using keyword fallback", "form_id", in.FormID, "error", err)
		return c.fallback(in, scan, err)
	}

	fields, complete := decodeFields(text)
	if fields == nil {
		c.logger.Warn("triage model returned no JSON, using keyword fallback", "form_id", in.FormID)
		return c.fallback(in, scan, fmt.Errorf("unparseable model output"))
	}

	rec := records.TriageRecord{ProcessedBy: llm.NameOf(c.client)}
	summary, hasSummary := fieldString(fields, "summary")
	rawUrgency, hasUrgency := fieldString(fields, "urgencyLevel", "urgency", "urgency_level")
	urgency, known := records.ParseUrgency(rawUrgency)
	keywords, hasKeywords := fieldList(fields, "riskKeywords", "risk_keywords")
	recs, hasRecs := fieldString(fields, "recommendations")
	notes, hasNotes := fieldString(fields, "followUpNotes", "follow_up_notes")

	// The model path needs every field; a parsed reply missing any of them is
	// salvaged like a truncated one.
	if complete && hasSummary && hasUrgency && hasKeywords && hasRecs && hasNotes {
		rec.Summary = summary
		rec.Urgency = urgency
		rec.RiskKeywords = keywords
		rec.Recommendations = recs
		rec.FollowUpNotes = notes
		return Outcome{Record: rec, Path: PathModel}
	}

	// Salvage: keep what the model produced, fill the rest from keywords.
	rec.Summary = summary
	if !hasSummary {
		rec.Summary = heuristicSummary(in)
	}
	rec.Urgency = urgency
	if !hasUrgency || !known {
		rec.Urgency = scan.Urgency
	}
	rec.RiskKeywords = keywords
	if !hasKeywords {
		rec.RiskKeywords = scan.Keywords
	}
	rec.Recommendations = recs
	if !hasRecs {
		rec.Recommendations = heuristicRecommendations(rec.Urgency)
	}
	rec.FollowUpNotes = notes
	if !hasNotes {
		rec.FollowUpNotes = heuristicFollowUp(scan)
	}
	rec.ProcessedBy += "+salvage"
	c.logger.Info("triage model output salvaged", "form_id", in.FormID, "urgency", rec.Urgency)
	return Outcome{
		Record:   rec,
		Path:     PathSalvaged,
		Degraded: true,
		Err:      fmt.Errorf("triage: salvaged partial model output: %w", apperr.ErrClassifierDegraded),
	}
}

func (c *Classifier) complete(ctx context.Context, in records.Intake) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("no model configured: %w", apperr.ErrModel)
	}
	prompt, err := buildPrompt(in)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      []string{systemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Classifier) fallback(in records.Intake, scan keywordScan, cause error) Outcome {
	if scan.Empty {
		return c.terminal(in, cause)
	}
	return Outcome{
		Record: records.TriageRecord{
			Summary:         heuristicSummary(in),
			Urgency:         scan.Urgency,
			RiskKeywords:    scan.Keywords,
			Recommendations: heuristicRecommendations(scan.Urgency),
			FollowUpNotes:   heuristicFollowUp(scan),
			ProcessedBy:     "keyword-fallback",
		},
		Path:     PathHeuristic,
		Degraded: true,
		Err:      fmt.Errorf("triage: keyword fallback (%v): %w", cause, apperr.ErrClassifierDegraded),
	}
}

func (c *Classifier) terminal(in records.Intake, cause error) Outcome {
	c.logger.Warn("triage falling back to manual review", "form_id", in.FormID, "cause", cause)
	return Outcome{
		Record: records.TriageRecord{
			Summary:         terminalSummary,
			Urgency:         records.UrgencyModerate,
			RiskKeywords:    []string{},
			Recommendations: terminalRecommendations,
			FollowUpNotes:   "Automated triage unavailable.",
			ProcessedBy:     "manual-review",
		},
		Path:     PathTerminal,
		Degraded: true,
		Err:      fmt.Errorf("triage: manual review (%v): %w", cause, apperr.ErrClassifierDegraded),
	}
}
