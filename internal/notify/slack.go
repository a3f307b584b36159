package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxSlackSection = 2900
	maxSlackFields  = 10
	slackTimeout    = 10 * time.Second
)

// SlackTransport posts messages to a Slack incoming webhook. Slack does not
// return a message id, so a uuid is generated for correlation.
type SlackTransport struct {
	webhookURL string
	client     *http.Client
}

// NewSlackTransport returns nil when webhookURL is empty.
func NewSlackTransport(webhookURL string, client *http.Client) *SlackTransport {
	if webhookURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: slackTimeout}
	}
	return &SlackTransport{webhookURL: webhookURL, client: client}
}

// Deliver posts msg as Block Kit blocks.
func (s *SlackTransport) Deliver(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(buildSlackPayload(msg))
	if err != nil {
		return "", fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return "slack-" + uuid.NewString(), nil
}

func buildSlackPayload(msg Message) map[string]any {
	title := msg.Title
	if title == "" {
		title = msg.Subject
	}
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": truncate(fmt.Sprintf("%s %s", severityEmoji(msg.Severity), title), 150),
			},
		},
	}

	if len(msg.Fields) > 0 {
		fields := make([]map[string]any, 0, len(msg.Fields))
		for i, f := range msg.Fields {
			if i == maxSlackFields {
				break
			}
			fields = append(fields, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s:* %s", f.Label, f.Value),
			})
		}
		blocks = append(blocks, map[string]any{"type": "divider"}, map[string]any{
			"type":   "section",
			"fields": fields,
		})
	}

	for _, sec := range msg.Sections {
		if strings.TrimSpace(sec.Value) == "" {
			continue
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n%s", sec.Label, truncate(sec.Value, maxSlackSection)),
			},
		})
	}

	if len(msg.Fields) == 0 && len(msg.Sections) == 0 && msg.Text != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": truncate(msg.Text, maxSlackSection)},
		})
	}

	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("%s | %s", msg.Kind, msg.Severity)},
		},
	})

	return map[string]any{
		"text":   title,
		"blocks": blocks,
	}
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "✅"
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

var _ Transport = (*SlackTransport)(nil)
