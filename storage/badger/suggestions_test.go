package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEmbedded(t *testing.T, store storage.Store, identity string) {
	t.Helper()
	item := newItem(identity, core.SourceNews, time.Now().Add(-time.Hour))
	item.Embedding = []float32{1, 0, 0}
	_, err := store.Upsert(context.Background(), item)
	require.NoError(t, err)
}

func newSuggestion(evidence ...string) *core.Suggestion {
	return &core.Suggestion{
		Topic:         "Chip export controls",
		Keywords:      []string{"chips", "exports", "policy", "trade"},
		Rationale:     "Several outlets and threads discuss the new rules",
		Label:         "technology",
		SourceItemIDs: evidence,
	}
}

func TestSaveSuggestion(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedEmbedded(t, store, "news:a")
	seedEmbedded(t, store, "news:b")

	suggestion := newSuggestion("news:a", "news:b")
	require.NoError(t, store.SaveSuggestion(ctx, suggestion))
	assert.NotEmpty(t, suggestion.ID)
	assert.False(t, suggestion.GeneratedAt.IsZero())

	recent, err := store.RecentSuggestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, suggestion.Topic, recent[0].Topic)
	assert.Equal(t, []string{"news:a", "news:b"}, recent[0].SourceItemIDs)
}

func TestSaveSuggestion_RejectsUnembeddedEvidence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedEmbedded(t, store, "news:a")
	_, err := store.Upsert(ctx, newItem("news:pending", core.SourceNews, time.Now()))
	require.NoError(t, err)

	err = store.SaveSuggestion(ctx, newSuggestion("news:a", "news:pending"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnembeddedEvidence)
	assert.ErrorIs(t, err, core.ErrDataIntegrity)

	err = store.SaveSuggestion(ctx, newSuggestion("news:missing"))
	assert.ErrorIs(t, err, storage.ErrUnembeddedEvidence)

	recent, err := store.RecentSuggestions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "rejected suggestions must not be visible")
}

func TestSaveSuggestion_Invalid(t *testing.T) {
	store := setupStore(t)

	err := store.SaveSuggestion(context.Background(), &core.Suggestion{Topic: "x"})
	assert.ErrorIs(t, err, core.ErrInvalidSuggestion)
}

func TestSuggestionRetention(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedEmbedded(t, store, "news:a")
	now := time.Now().UTC()

	for i := range 5 {
		s := newSuggestion("news:a")
		s.Topic = fmt.Sprintf("topic %d", i)
		s.GeneratedAt = now.Add(-time.Duration(i) * 24 * time.Hour)
		require.NoError(t, store.SaveSuggestion(ctx, s))
	}

	deleted, err := store.DeleteSuggestionsOlderThan(ctx, now.Add(-3*24*time.Hour-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = store.TrimSuggestions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	recent, err := store.RecentSuggestions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "topic 0", recent[0].Topic)
	assert.Equal(t, "topic 1", recent[1].Topic)
}

func TestRuns(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		run := &core.PipelineRun{
			ID:        fmt.Sprintf("run-%d", i),
			Trigger:   core.TriggerSchedule,
			StartedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
			Stages: []core.StageReport{
				{Stage: core.StageScraping, Outcome: core.OutcomeSuccess, ItemsProcessed: i},
			},
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	runs, err := store.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-0", runs[0].ID)
	require.Len(t, runs[0].Stages, 1)
	assert.Equal(t, core.OutcomeSuccess, runs[0].Stages[0].Outcome)

	deleted, err := store.DeleteRunsOlderThan(ctx, now.Add(-36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.Error(t, store.SaveRun(ctx, &core.PipelineRun{}))
}
