package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type stubConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = in
	return s.out, s.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(15)},
	}
}

func TestBedrockClient_Complete(t *testing.T) {
	api := &stubConverse{out: textOutput("  {\"summary\":\"ok\"}  ")}
	c := NewBedrockClient(api, "anthropic.claude-3-haiku")

	resp, err := c.Complete(context.Background(), Request{
		System:      []string{"be terse"},
		Messages:    []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, resp.Text)
	assert.Equal(t, int32(15), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 1)
	assert.Equal(t, float32(0.2), aws.ToFloat32(api.input.InferenceConfig.Temperature))
}

func TestBedrockClient_ErrorsWrapModel(t *testing.T) {
	c := NewBedrockClient(&stubConverse{err: errors.New("throttled")}, "m")
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, apperr.ErrModel)

	c = NewBedrockClient(&stubConverse{out: &bedrockruntime.ConverseOutput{}}, "m")
	_, err = c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, apperr.ErrModel)
}

type scriptedClient struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *scriptedClient) Name() string { return s.name }

func (s *scriptedClient) Complete(context.Context, Request) (Response, error) {
	s.calls++
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Text: s.text}, nil
}

func TestFallbackClient(t *testing.T) {
	primary := &scriptedClient{name: "local", err: errors.New("down")}
	fallback := &scriptedClient{name: "bedrock", text: "from fallback"}
	c := NewFallbackClient(primary, fallback, logging.Discard())

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "local+bedrock", c.Name())
}

func TestFallbackClient_NoFallback(t *testing.T) {
	primary := &scriptedClient{name: "local", err: errors.New("down")}
	c := NewFallbackClient(primary, nil, logging.Discard())

	_, err := c.Complete(context.Background(), Request{})
	assert.EqualError(t, err, "down")
	assert.Equal(t, "local", c.Name())
}

func TestLocalClient_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" {\"urgencyLevel\":\"Low\"} "},"done_reason":"stop","prompt_eval_count":12,"eval_count":8}`))
	}))
	defer srv.Close()

	c := NewLocalClient(srv.URL+"/", "llama3.1", WithAPIKey("k"))
	resp, err := c.Complete(context.Background(), Request{
		System:      []string{"sys"},
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.2,
		MaxTokens:   800,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"urgencyLevel":"Low"}`, resp.Text)
	assert.Equal(t, int32(20), resp.Usage.TotalTokens)
	assert.Equal(t, "llama3.1", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.EqualValues(t, 800, got.Options["num_predict"])
}

func TestLocalClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewLocalClient(srv.URL, "missing").Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, apperr.ErrModel)
}
