package contentpulse

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/ai/mock"
	"github.com/poiesic/contentpulse/config"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/ingestion"
	"github.com/poiesic/contentpulse/storage"
	"github.com/poiesic/contentpulse/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

type staticAdapter struct {
	name   string
	source core.Source
}

func (a *staticAdapter) Name() string        { return a.name }
func (a *staticAdapter) Source() core.Source { return a.source }

func (a *staticAdapter) Fetch(_ context.Context, cfg ingestion.SourceConfig) iter.Seq2[ingestion.RawItem, error] {
	return func(yield func(ingestion.RawItem, error) bool) {
		for i := range 3 {
			item := ingestion.RawItem{
				URL:         fmt.Sprintf("https://%s.example.com/%s/%d", a.name, cfg.Name, i),
				Title:       fmt.Sprintf("%s story %d", cfg.Category, i),
				Text:        fmt.Sprintf("A longer %s report about %s number %d.", a.name, cfg.Category, i),
				PublishedAt: time.Now().Add(-time.Duration(i) * time.Hour),
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AI.Dimensions = testDims
	cfg.Pipeline.SettleDelay = 0
	cfg.Pipeline.MinSimilarity = -1
	cfg.Pipeline.BatchSize = 2
	cfg.Topics = []config.TopicConfig{{
		Name:       "technology",
		Label:      "technology",
		FeedURLs:   []string{"https://news.example.com/technology.xml"},
		Subreddits: []string{"technology"},
	}}
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *mock.MockProvider) {
	t.Helper()
	store, err := badger.NewMemoryStore(testDims)
	require.NoError(t, err)

	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(testDims), mock.NewMockGenerator())
	engine, err := NewEngine(context.Background(), cfg,
		WithStore(store),
		WithProvider(provider),
		WithAdapters(
			&staticAdapter{name: "news", source: core.SourceNews},
			&staticAdapter{name: "reddit", source: core.SourceSocial},
		))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine, provider
}

func TestEngine_RunCycle(t *testing.T) {
	engine, provider := newTestEngine(t, testConfig())
	ctx := context.Background()

	run, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	for _, report := range run.Stages {
		assert.Equal(t, core.OutcomeSuccess, report.Outcome, "stage %s: %s", report.Stage, report.Error)
	}

	embedded, err := engine.Store().Find(ctx, storage.ItemFilter{Status: core.StatusEmbedded}, 0)
	require.NoError(t, err)
	assert.Len(t, embedded, 6)

	suggestions, err := engine.Store().RecentSuggestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "technology", suggestions[0].Label)
	assert.Equal(t, 1, provider.GetMockGenerator().CallCount())

	runs, err := engine.Store().RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestEngine_SingleStages(t *testing.T) {
	engine, provider := newTestEngine(t, testConfig())
	ctx := context.Background()

	run, err := engine.Ingest(ctx)
	require.NoError(t, err)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, 6, run.Stages[0].ItemsProcessed)
	assert.Equal(t, 0, provider.GetMockEmbedder().CallCount())

	run, err = engine.Suggest(ctx)
	require.NoError(t, err)
	require.Len(t, run.Stages, 2)
	assert.Equal(t, core.OutcomeSkipped, run.Stages[1].Outcome, "nothing is embedded yet")

	run, err = engine.Embed(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSuccess, run.Stages[0].Outcome)

	run, err = engine.Suggest(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSuccess, run.Stages[1].Outcome)

	run, err = engine.Cleanup(ctx)
	require.NoError(t, err)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, core.StageCleanup, run.Stages[0].Stage)
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.BatchSize = 0

	_, err := NewEngine(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
	assert.Error(t, err)
}

func TestEngine_CloseReleasesProvider(t *testing.T) {
	store, err := badger.NewMemoryStore(testDims)
	require.NoError(t, err)
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(testDims), mock.NewMockGenerator())

	engine, err := NewEngine(context.Background(), testConfig(), WithStore(store), WithProvider(provider))
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	assert.True(t, provider.Closed())
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewProvider_Validation(t *testing.T) {
	cfg := ai.NewConfig(ai.WithEmbeddingProvider("acme"))
	_, err := NewProvider(context.Background(), cfg)
	assert.Error(t, err)

	cfg = ai.NewConfig(ai.WithGeneratorProvider(ai.ProviderAnthropic))
	_, err = NewProvider(context.Background(), cfg)
	assert.Error(t, err, "anthropic needs an API key")
}

func TestNewProvider_OpenAI(t *testing.T) {
	provider, err := NewProvider(context.Background(), ai.DefaultConfig())
	require.NoError(t, err)
	defer provider.Close()

	assert.NotNil(t, provider.Embedder())
	assert.NotNil(t, provider.Generator())
}

func TestGeminiClients_PerKey(t *testing.T) {
	clients := newGeminiClients(context.Background())

	embedClient, err := clients.get("embedding-key")
	require.NoError(t, err)
	generateClient, err := clients.get("generation-key")
	require.NoError(t, err)
	again, err := clients.get("embedding-key")
	require.NoError(t, err)

	assert.NotSame(t, embedClient, generateClient)
	assert.Same(t, embedClient, again)

	_, err = clients.get("")
	assert.Error(t, err)
}

func TestEngine_Search(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	_, err := engine.Ingest(ctx)
	require.NoError(t, err)
	_, err = engine.Embed(ctx)
	require.NoError(t, err)

	hits, err := engine.Search(ctx, "technology story", 2)
	require.NoError(t, err)
	require.Len(t, hits, 4, "two hits from each source")
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	_, err = engine.Search(ctx, "  ", 2)
	assert.Error(t, err)
}
