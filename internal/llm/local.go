package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/clinic-automation/internal/apperr"
)

// LocalClient talks to a self-hosted Ollama server over its chat endpoint.
type LocalClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// LocalOption configures a LocalClient.
type LocalOption func(*LocalClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *LocalClient) { l.http = c }
}

// WithAPIKey sends a bearer token, for servers behind an auth proxy.
func WithAPIKey(key string) LocalOption {
	return func(l *LocalClient) { l.apiKey = strings.TrimSpace(key) }
}

// NewLocalClient builds a client for endpoint (e.g. http://localhost:11434).
func NewLocalClient(endpoint, model string, opts ...LocalOption) *LocalClient {
	c := &LocalClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		model:    strings.TrimSpace(model),
		http:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LocalClient) Name() string { return "local:" + c.model }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int32  `json:"prompt_eval_count"`
	EvalCount       int32  `json:"eval_count"`
	Error           string `json:"error"`
}

// Complete posts a non-streaming chat request.
func (c *LocalClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.model
	if strings.TrimSpace(req.Model) != "" {
		model = req.Model
	}

	messages := make([]Message, 0, len(req.System)+len(req.Messages))
	for _, s := range req.System {
		if strings.TrimSpace(s) != "" {
			messages = append(messages, Message{Role: RoleSystem, Content: s})
		}
	}
	messages = append(messages, req.Messages...)

	options := map[string]any{}
	if req.Temperature >= 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.TopP > 0 {
		options["top_p"] = req.TopP
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Format:   "json",
		Options:  options,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal local request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build local request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: local request: %w: %w", apperr.ErrModel, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("llm: read local response: %w: %w", apperr.ErrModel, err)
	}
	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("llm: local model returned %d: %s: %w", resp.StatusCode, truncate(string(raw), 200), apperr.ErrModel)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("llm: decode local response: %w: %w", apperr.ErrModel, err)
	}
	if out.Error != "" {
		return Response{}, fmt.Errorf("llm: local model error %q: %w", out.Error, apperr.ErrModel)
	}

	return Response{
		Text:       strings.TrimSpace(out.Message.Content),
		StopReason: out.DoneReason,
		Usage: TokenUsage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
