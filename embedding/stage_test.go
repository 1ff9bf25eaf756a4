package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
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

const dims = 4

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func setupStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := badger.NewMemoryStore(dims)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store storage.ItemStore, source core.Source, n int) []string {
	t.Helper()
	ids := make([]string, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		ids[i] = fmt.Sprintf("%s:item-%d", source, i)
		_, err := store.Upsert(context.Background(), &core.ContentItem{
			Identity:    ids[i],
			Source:      source,
			Title:       fmt.Sprintf("Headline %d", i),
			Text:        fmt.Sprintf("A reasonably long body for item number %d.", i),
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	return ids
}

func newStage(t *testing.T, store storage.ItemStore, embedder ai.Embedder, opts ...Option) *Stage {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastRetry)}, opts...)
	stage, err := NewStage(store, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(stage.Release)
	return stage
}

func TestNewStage_Validation(t *testing.T) {
	_, err := NewStage(nil, mock.NewMockEmbedder(dims))
	assert.ErrorIs(t, err, ErrItemStoreRequired)

	_, err = NewStage(setupStore(t), nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewStage(setupStore(t), mock.NewMockEmbedder(dims), WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)

	stage := newStage(t, setupStore(t), mock.NewMockEmbedder(dims))
	_, err = stage.Run(context.Background(), core.SourceNews, 0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestRun_ThreeItemsBatchSizeTwo(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallelism %d", parallelism), func(t *testing.T) {
			store := setupStore(t)
			ctx := context.Background()
			ids := seed(t, store, core.SourceNews, 3)
			embedder := mock.NewMockEmbedder(dims)

			stage := newStage(t, store, embedder, WithParallelism(parallelism))
			result, err := stage.Run(ctx, core.SourceNews, 2)
			require.NoError(t, err)

			assert.Equal(t, 2, embedder.CallCount())
			assert.Equal(t, Result{Attempted: 3, Succeeded: 3}, result)
			for _, id := range ids {
				item, err := store.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, core.StatusEmbedded, item.Status)
				assert.Len(t, item.Embedding, dims)
			}

			again, err := stage.Run(ctx, core.SourceNews, 2)
			require.NoError(t, err)
			assert.Equal(t, Result{}, again, "nothing left to embed")
			assert.Equal(t, 2, embedder.CallCount())
		})
	}
}

func TestRun_RateLimitedTwiceThenSuccess(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	ids := seed(t, store, core.SourceNews, 1)

	var attempts atomic.Int32
	embedder := mock.NewMockEmbedder(dims)
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if attempts.Add(1) <= 2 {
			return nil, ai.ErrRateLimited
		}
		return [][]float32{mock.GenerateDeterministicVector(texts[0], dims)}, nil
	}

	stage := newStage(t, store, embedder)
	result, err := stage.Run(ctx, core.SourceNews, 5)
	require.NoError(t, err)

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, result.Succeeded)

	item, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusEmbedded, item.Status)

	count, err := store.Count(ctx, core.SourceNews)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "no duplicate writes")
}

func TestRun_PermanentErrorFailsBatchAndRequeues(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	ids := seed(t, store, core.SourceSocial, 2)

	embedder := mock.NewMockEmbedder(dims)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, ai.ErrAuthentication
	}

	stage := newStage(t, store, embedder)
	result, err := stage.Run(ctx, core.SourceSocial, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, embedder.CallCount(), "permanent errors are not retried")

	item, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusEmbeddingFailed, item.Status)

	// Failed items stay out of later runs until they are requeued.
	embedder.Reset()
	result, err = stage.Run(ctx, core.SourceSocial, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, embedder.CallCount())

	requeued, err := stage.Requeue(ctx, core.SourceSocial)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	result, err = stage.Run(ctx, core.SourceSocial, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
}

func TestRun_CountMismatchFailsBatch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seed(t, store, core.SourceNews, 2)

	embedder := mock.NewMockEmbedder(dims)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0, 0}}, nil
	}

	stage := newStage(t, store, embedder)
	result, err := stage.Run(ctx, core.SourceNews, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
}

func TestRun_WrongLengthVectorFailsOnlyThatItem(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	ids := seed(t, store, core.SourceNews, 2)

	embedder := mock.NewMockEmbedder(dims)
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0, 0}
		}
		out[0] = []float32{1, 0}
		return out, nil
	}

	stage := newStage(t, store, embedder)
	result, err := stage.Run(ctx, core.SourceNews, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	first, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusEmbeddingFailed, first.Status)
	assert.Empty(t, first.Embedding)

	second, err := store.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, core.StatusEmbedded, second.Status)
}

func TestRun_ShortTextIsFailedWithoutCall(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	_, err := store.Upsert(ctx, &core.ContentItem{Identity: "news:short", Source: core.SourceNews, Text: "tiny", PublishedAt: time.Now()})
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder(dims)
	stage := newStage(t, store, embedder)
	result, err := stage.Run(ctx, core.SourceNews, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, embedder.CallCount())
	assert.Equal(t, 1, result.Failed)

	item, err := store.Get(ctx, "news:short")
	require.NoError(t, err)
	assert.Equal(t, core.StatusEmbeddingFailed, item.Status)
}

func TestRun_OnlyRequestedSource(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seed(t, store, core.SourceNews, 2)
	socialIDs := seed(t, store, core.SourceSocial, 2)

	stage := newStage(t, store, mock.NewMockEmbedder(dims))
	_, err := stage.Run(ctx, core.SourceNews, 10)
	require.NoError(t, err)

	item, err := store.Get(ctx, socialIDs[0])
	require.NoError(t, err)
	assert.Equal(t, core.StatusIngested, item.Status)
}

func TestRun_StoreUnavailable(t *testing.T) {
	store, err := badger.NewMemoryStore(dims)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	stage := newStage(t, store, mock.NewMockEmbedder(dims))
	_, err = stage.Run(context.Background(), core.SourceNews, 2)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestRun_CanceledContext(t *testing.T) {
	store := setupStore(t)
	seed(t, store, core.SourceNews, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embedder := mock.NewMockEmbedder(dims)
	stage := newStage(t, store, embedder)
	_, err := stage.Run(ctx, core.SourceNews, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestText(t *testing.T) {
	item := &core.ContentItem{Title: "Title", Text: "Body text"}
	assert.Equal(t, "Title\n\nBody text", Text(item, 100))

	assert.Equal(t, "Body", Text(&core.ContentItem{Text: " Body "}, 100))
	assert.Equal(t, "Only title", Text(&core.ContentItem{Title: "Only title"}, 100))

	long := &core.ContentItem{Text: strings.Repeat("word ", 100)}
	out := Text(long, 23)
	assert.Equal(t, "word word word word...", out)
	assert.LessOrEqual(t, len([]rune(out)), 23)

	unbroken := &core.ContentItem{Text: strings.Repeat("x", 50)}
	assert.Equal(t, strings.Repeat("x", 17)+"...", Text(unbroken, 20))
}
