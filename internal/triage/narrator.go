package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/llm"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Metric is one labelled figure handed to the narrator.
type Metric struct {
	Name  string
	Value string
}

// NarrativeInput is the report data the narrative is written from.
type NarrativeInput struct {
	ClinicName      string
	WindowStart     time.Time
	WindowEnd       time.Time
	Metrics         []Metric
	Trends          []string
	Recommendations []string
	HighRiskCount   int
}

// NarrativeReport is the model-written (or fallback) weekly report text.
type NarrativeReport struct {
	ExecutiveSummary string   `json:"executiveSummary"`
	KeyMetrics       []string `json:"keyMetrics"`
	Trends           []string `json:"trends"`
	Recommendations  []string `json:"recommendations"`
	Alerts           []string `json:"alerts"`
	NextWeekFocus    string   `json:"nextWeekFocus"`
	Path             Path     `json:"path"`
}

// Narrator writes report narratives with the same model client and the same
// parse-then-fallback policy as the classifier.
type Narrator struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewNarrator builds a narrator. client may be nil.
func NewNarrator(client llm.Client, model string, timeout time.Duration, logger *logging.Logger) *Narrator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Narrator{client: client, model: model, timeout: timeout, logger: logger}
}

const narrativeSystemPrompt = `You write concise weekly operations reports for a clinic manager. Use only the figures provided. Respond with ONLY a JSON object:
{
  "executiveSummary": "2-3 sentences",
  "keyMetrics": ["metric: value with one short interpretation"],
  "trends": ["observed trend"],
  "recommendations": ["actionable recommendation"],
  "alerts": ["anything needing immediate attention, empty if none"],
  "nextWeekFocus": "one sentence"
}`

// Narrate never fails; it falls back to a deterministic report.
func (n *Narrator) Narrate(ctx context.Context, in NarrativeInput) NarrativeReport {
	ctx, span := tracer.Start(ctx, "triage.Narrate")
	defer span.End()

	fallback := fallbackNarrative(in)
	if n.client == nil {
		return fallback
	}

	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	resp, err := n.client.Complete(callCtx, llm.Request{
		Model:       n.model,
		System:      []string{narrativeSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: narrativePrompt(in)}},
		MaxTokens:   1200,
		Temperature: 0.3,
	})
	if err != nil {
		n.logger.Warn("narrative model call failed, using fallback", "error", err)
		return fallback
	}

	fields, complete := decodeFields(resp.Text)
	if fields == nil {
		n.logger.Warn("narrative model returned no JSON, using fallback")
		return fallback
	}

	out := NarrativeReport{Path: PathModel}
	if !complete {
		out.Path = PathSalvaged
	}
	var ok bool
	if out.ExecutiveSummary, ok = fieldString(fields, "executiveSummary"); !ok {
		out.ExecutiveSummary = fallback.ExecutiveSummary
		out.Path = PathSalvaged
	}
	if out.KeyMetrics, ok = fieldList(fields, "keyMetrics"); !ok {
		out.KeyMetrics = fallback.KeyMetrics
		out.Path = PathSalvaged
	}
	if out.Trends, ok = fieldList(fields, "trends"); !ok {
		out.Trends = fallback.Trends
	}
	if out.Recommendations, ok = fieldList(fields, "recommendations"); !ok {
		out.Recommendations = fallback.Recommendations
	}
	if out.Alerts, ok = fieldList(fields, "alerts"); !ok {
		out.Alerts = fallback.Alerts
	}
	if out.NextWeekFocus, ok = fieldString(fields, "nextWeekFocus"); !ok {
		out.NextWeekFocus = fallback.NextWeekFocus
	}
	return out
}

func narrativePrompt(in NarrativeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clinic: %s\nPeriod: %s to %s\n\nMetrics:\n", in.ClinicName,
		in.WindowStart.Format("2006-01-02"), in.WindowEnd.Format("2006-01-02"))
	for _, m := range in.Metrics {
		fmt.Fprintf(&b, "- %s: %s\n", m.Name, m.Value)
	}
	b.WriteString("\nTrends:\n")
	for _, t := range in.Trends {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\nRule-based recommendations:\n")
	for _, r := range in.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

func fallbackNarrative(in NarrativeInput) NarrativeReport {
	metrics := make([]string, 0, len(in.Metrics))
	for _, m := range in.Metrics {
		metrics = append(metrics, m.Name+": "+m.Value)
	}
	var alerts []string
	if in.HighRiskCount > 0 {
		alerts = append(alerts, fmt.Sprintf("%d high-urgency intake(s) this period; confirm each was followed up.", in.HighRiskCount))
	}
	focus := "Maintain current operations."
	if len(in.Recommendations) > 0 {
		focus = in.Recommendations[0]
	}
	return NarrativeReport{
		ExecutiveSummary: fmt.Sprintf("Operational summary for %s covering %s to %s.",
			in.ClinicName, in.WindowStart.Format("Jan 2"), in.WindowEnd.Format("Jan 2, 2006")),
		KeyMetrics:      metrics,
		Trends:          append([]string(nil), in.Trends...),
		Recommendations: append([]string(nil), in.Recommendations...),
		Alerts:          alerts,
		NextWeekFocus:   focus,
		Path:            PathHeuristic,
	}
}
