// Package llm exposes a single text-completion capability with interchangeable
// backends (local Ollama, Bedrock, Gemini) selected at construction time.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client turns a prompt into text.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Named is implemented by clients that can report which backend served them.
type Named interface {
	Name() string
}

// NameOf returns the backend name of c, or "llm" when unknown.
func NameOf(c Client) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return "llm"
}
