package synthesis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/ai/mock"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/retry"
	"github.com/poiesic/contentpulse/storage"
	"github.com/poiesic/contentpulse/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func setupStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := badger.NewMemoryStore(3)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedCandidates stores n embedded items and returns them ranked best first.
func seedCandidates(t *testing.T, store storage.ItemStore, n int) []core.ScoredItem {
	t.Helper()
	candidates := make([]core.ScoredItem, n)
	for i := range n {
		item := &core.ContentItem{
			Identity:    fmt.Sprintf("news:item-%d", i),
			Source:      core.SourceNews,
			Title:       fmt.Sprintf("Headline %d", i),
			Text:        strings.Repeat(fmt.Sprintf("word%d ", i), 40),
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Hour),
			Embedding:   []float32{1, float32(i), 0},
		}
		_, err := store.Upsert(context.Background(), item)
		require.NoError(t, err)
		candidates[i] = core.ScoredItem{Item: item, Score: 1 - float32(i)/10}
	}
	return candidates
}

func newSynthesizer(t *testing.T, store storage.SuggestionStore, gen ai.Generator, opts ...Option) *Synthesizer {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	s, err := NewSynthesizer(store, gen, opts...)
	require.NoError(t, err)
	return s
}

func TestNewSynthesizer_Validation(t *testing.T) {
	store := setupStore(t)

	_, err := NewSynthesizer(nil, mock.NewMockGenerator())
	assert.ErrorIs(t, err, ErrSuggestionStoreRequired)

	_, err = NewSynthesizer(store, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)

	_, err = NewSynthesizer(store, mock.NewMockGenerator(), WithPromptBudget(10))
	assert.Error(t, err)

	_, err = NewSynthesizer(store, mock.NewMockGenerator(), WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestSynthesize_StoresSuggestion(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 3)
	gen := mock.NewMockGenerator()
	now := time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)
	s := newSynthesizer(t, store, gen, WithClock(func() time.Time { return now }))

	suggestion, err := s.Synthesize(context.Background(), candidates, "technology news")
	require.NoError(t, err)

	assert.NotEmpty(t, suggestion.ID)
	assert.Equal(t, now, suggestion.GeneratedAt)
	assert.Equal(t, "technology", suggestion.Label)
	assert.Equal(t, "technology news", suggestion.ContextHint)
	assert.Equal(t, []string{"news:item-0", "news:item-1", "news:item-2"}, suggestion.SourceItemIDs)
	assert.Equal(t, 1, gen.CallCount())

	prompt := gen.Prompts()[0]
	assert.Contains(t, prompt, "EXAMPLE OUTPUT")
	assert.Contains(t, prompt, "CONTEXT: technology news")
	assert.Contains(t, prompt, `"entertainment"`)
	assert.Contains(t, prompt, "1. Headline 0")

	recent, err := store.RecentSuggestions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, suggestion.Topic, recent[0].Topic)
}

func TestSynthesize_BudgetDropsLowestRanked(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 6)
	gen := mock.NewMockGenerator()

	full, err := buildPrompt(candidates, "", DefaultPromptBudget, 200)
	require.NoError(t, err)
	require.Len(t, full.included, 6)
	budget := len(systemPrompt) + len(full.user) - 150

	s := newSynthesizer(t, store, gen, WithPromptBudget(budget), WithSnippetChars(200))
	suggestion, err := s.Synthesize(context.Background(), candidates, "")
	require.NoError(t, err)

	assert.Less(t, len(suggestion.SourceItemIDs), 6)
	for i, id := range suggestion.SourceItemIDs {
		assert.Equal(t, candidates[i].Item.Identity, id, "kept candidates must be the best ranked")
	}
	prompt := gen.Prompts()[0]
	assert.LessOrEqual(t, len(systemPrompt)+len(prompt), budget)
	assert.NotContains(t, prompt, "Headline 5")
}

func TestSynthesize_RetriesMalformedOnce(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 2)
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(_ context.Context, _, prompt string) (string, error) {
		if strings.Contains(prompt, strictInstruction) {
			return mock.DefaultResponse, nil
		}
		return "Here are some thoughts about chips.", nil
	}
	s := newSynthesizer(t, store, gen)

	suggestion, err := s.Synthesize(context.Background(), candidates, "")
	require.NoError(t, err)
	assert.NotEmpty(t, suggestion.Topic)
	assert.Equal(t, 2, gen.CallCount())
}

func TestSynthesize_MalformedTwiceStoresNothing(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 2)
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(context.Context, string, string) (string, error) {
		return `{"topic": "", "keywords": []}`, nil
	}
	s := newSynthesizer(t, store, gen)

	_, err := s.Synthesize(context.Background(), candidates, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Equal(t, 2, gen.CallCount())

	recent, err := store.RecentSuggestions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestSynthesize_TransientRetried(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 1)
	gen := mock.NewMockGenerator()
	calls := 0
	gen.GenerateFunc = func(context.Context, string, string) (string, error) {
		calls++
		if calls == 1 {
			return "", ai.ErrTimeout
		}
		return mock.DefaultResponse, nil
	}
	s := newSynthesizer(t, store, gen)

	_, err := s.Synthesize(context.Background(), candidates, "")
	require.NoError(t, err)
	assert.Equal(t, 2, gen.CallCount())
}

func TestSynthesize_SafetyRejectionIsPermanent(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 1)
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(context.Context, string, string) (string, error) {
		return "", ai.ErrSafetyRejected
	}
	s := newSynthesizer(t, store, gen)

	_, err := s.Synthesize(context.Background(), candidates, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPermanentExternal)
	assert.Equal(t, 1, gen.CallCount())
}

func TestSynthesize_EvidenceMustBeEmbedded(t *testing.T) {
	store := setupStore(t)
	candidates := seedCandidates(t, store, 2)

	// The text changes after retrieval, which clears the embedding.
	_, err := store.Upsert(context.Background(), &core.ContentItem{
		Identity: "news:item-1",
		Text:     "a rewritten body that no longer matches the vector",
	})
	require.NoError(t, err)

	s := newSynthesizer(t, store, mock.NewMockGenerator())
	_, err = s.Synthesize(context.Background(), candidates, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnembeddedEvidence)
}

func TestSynthesize_NoCandidates(t *testing.T) {
	gen := mock.NewMockGenerator()
	s := newSynthesizer(t, setupStore(t), gen)

	_, err := s.Synthesize(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Zero(t, gen.CallCount())
}

func TestSnippet(t *testing.T) {
	item := &core.ContentItem{
		Source:   core.SourceSocial,
		Title:    "Will AI replace programmers?",
		Text:     "As someone   working in ML\nfor eight years, no chance at all.",
		Metadata: map[string]string{"subreddit": "programming"},
	}
	got := snippet(item, 30)
	assert.Equal(t, "Will AI replace programmers?\nAs someone working in ML for...\n(discussion in r/programming)", got)
}
