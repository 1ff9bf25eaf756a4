package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/poiesic/contentpulse/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claudeConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithGeneratorProvider(ai.ProviderAnthropic),
		ai.WithGeneratorModel("claude-sonnet-4-5"),
		ai.WithGeneratorAPIKey("sk-ant-test"),
		ai.WithRequestTimeout(5*time.Second),
	)
}

func messageServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func message(stopReason string, blocks ...map[string]any) map[string]any {
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-sonnet-4-5",
		"content":       blocks,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         map[string]int{"input_tokens": 10, "output_tokens": 5},
	}
}

func TestGenerator_Generate(t *testing.T) {
	server := messageServer(t, http.StatusOK, message("end_turn",
		map[string]any{"type": "text", "text": `{"topic":`},
		map[string]any{"type": "text", "text": `"x"}`},
	))

	gen, err := NewGenerator(claudeConfig(), option.WithBaseURL(server.URL))
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), "system", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"topic":"x"}`, out)
}

func TestGenerator_Refusal(t *testing.T) {
	server := messageServer(t, http.StatusOK, message("refusal"))

	gen, err := NewGenerator(claudeConfig(), option.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "system", "prompt")
	assert.ErrorIs(t, err, ai.ErrSafetyRejected)
}

func TestGenerator_RateLimited(t *testing.T) {
	server := messageServer(t, http.StatusTooManyRequests, map[string]any{
		"type":  "error",
		"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
	})

	gen, err := NewGenerator(claudeConfig(), option.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "system", "prompt")
	assert.ErrorIs(t, err, ai.ErrRateLimited)
}

func TestNewGenerator_WrongProvider(t *testing.T) {
	_, err := NewGenerator(ai.DefaultConfig())
	assert.Error(t, err)
}
