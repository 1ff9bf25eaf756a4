package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/contentpulse/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.Error(t, err)
}

func TestConstructors(t *testing.T) {
	_, err := NewEmbedder(nil, ai.DefaultConfig())
	assert.Error(t, err)

	_, err = NewGenerator(nil, ai.DefaultConfig())
	assert.Error(t, err)
}

func TestResponseText(t *testing.T) {
	textCandidate := func(parts ...string) *genai.Candidate {
		content := &genai.Content{Role: genai.RoleModel}
		for _, p := range parts {
			content.Parts = append(content.Parts, &genai.Part{Text: p})
		}
		return &genai.Candidate{Content: content, FinishReason: genai.FinishReasonStop}
	}

	t.Run("joins parts of first candidate", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{textCandidate(`{"topic":`, `"x"}`), textCandidate("ignored")},
		}
		out, err := responseText(resp)
		require.NoError(t, err)
		assert.Equal(t, `{"topic":"x"}`, out)
	})

	t.Run("skips empty candidates", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{textCandidate(), textCandidate("second")},
		}
		out, err := responseText(resp)
		require.NoError(t, err)
		assert.Equal(t, "second", out)
	})

	t.Run("safety block", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		_, err := responseText(resp)
		assert.ErrorIs(t, err, ai.ErrSafetyRejected)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := responseText(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, ai.ErrEmptyResponse)

		_, err = responseText(nil)
		assert.ErrorIs(t, err, ai.ErrEmptyResponse)
	})
}

func TestQuotaErrorsAreRateLimited(t *testing.T) {
	err := ai.Classify(errors.New("Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED"))
	assert.ErrorIs(t, err, ai.ErrRateLimited)
}
