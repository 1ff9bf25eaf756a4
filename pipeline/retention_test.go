package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	err      error
	archived map[core.Source][]string
}

func (f *fakeArchiver) Archive(_ context.Context, source core.Source, items []*core.ContentItem) error {
	if f.err != nil {
		return f.err
	}
	if f.archived == nil {
		f.archived = make(map[core.Source][]string)
	}
	for _, item := range items {
		f.archived[source] = append(f.archived[source], item.Identity)
	}
	return nil
}

// seedAges stores one news item per age, in days before now.
func seedAges(t *testing.T, store storage.ItemStore, now time.Time, days ...int) {
	t.Helper()
	for _, d := range days {
		_, err := store.Upsert(context.Background(), &core.ContentItem{
			Identity:    fmt.Sprintf("news:%dd", d),
			Source:      core.SourceNews,
			Text:        "body",
			PublishedAt: now.Add(-time.Duration(d) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestCleanup_EnforcesRetention(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 6, 20, 4, 0, 0, 0, time.UTC)
	seedAges(t, f.store, now, 1, 2, 3, 4, 5, 20, 30)

	archiver := &fakeArchiver{}
	o := f.orchestrator(t,
		WithClock(func() time.Time { return now }),
		WithArchiver(archiver),
		WithRetention(RetentionPolicy{
			Items:       Retention{MaxAge: 14 * 24 * time.Hour, MaxItems: 3},
			Suggestions: Retention{MaxItems: 10},
		}))

	run, err := o.RunCycle(context.Background(), core.TriggerManual)
	require.NoError(t, err)

	report := run.Report(core.StageCleanup)
	require.NotNil(t, report)
	assert.Equal(t, core.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 4, report.ItemsProcessed)

	count, err := f.store.Count(context.Background(), core.SourceNews)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	remaining, err := f.store.Find(context.Background(), storage.ItemFilter{Source: core.SourceNews}, 0)
	require.NoError(t, err)
	for _, item := range remaining {
		assert.False(t, item.PublishedAt.Before(now.Add(-14*24*time.Hour)))
	}
	assert.ElementsMatch(t, []string{"news:4d", "news:5d", "news:20d", "news:30d"}, archiver.archived[core.SourceNews])
}

func TestCleanup_ArchiveFailureStillAppliesBounds(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 6, 20, 4, 0, 0, 0, time.UTC)
	seedAges(t, f.store, now, 1, 30)

	o := f.orchestrator(t,
		WithClock(func() time.Time { return now }),
		WithArchiver(&fakeArchiver{err: errors.New("bucket unreachable")}),
		WithStageRetries(0))

	run, err := o.RunCycle(context.Background(), core.TriggerManual)
	require.NoError(t, err)

	report := run.Report(core.StageCleanup)
	assert.Equal(t, core.OutcomePartial, report.Outcome)
	assert.Equal(t, 1, report.ItemsFailed)
	assert.Contains(t, report.Error, "bucket unreachable")

	count, err := f.store.Count(context.Background(), core.SourceNews)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the 30 day old item is past the 14 day bound")
}
