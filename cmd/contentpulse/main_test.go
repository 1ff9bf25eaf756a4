package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStore writes one embedded item, one suggestion and one run into a
// fresh database directory.
func seedStore(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	store, err := badger.OpenStore(dir, 1024)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Upsert(ctx, &core.ContentItem{
		Identity:    "news:a",
		Source:      core.SourceNews,
		Title:       "Chip rules",
		Text:        "New export rules for chips were announced today.",
		PublishedAt: time.Now().Add(-time.Hour),
		Embedding:   make([]float32, 1024),
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveSuggestion(ctx, &core.Suggestion{
		Topic:         "What chip export rules mean for buyers",
		Keywords:      []string{"chips", "exports"},
		Rationale:     "Widely covered this week",
		Label:         "technology",
		SourceItemIDs: []string{"news:a"},
	}))

	now := time.Now().UTC()
	require.NoError(t, store.SaveRun(ctx, &core.PipelineRun{
		ID:         "run-1",
		Trigger:    core.TriggerSchedule,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Stages: []core.StageReport{
			{Stage: core.StageScraping, Outcome: core.OutcomeSuccess, ItemsProcessed: 1, Attempts: 1},
		},
	}))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"contentpulse", "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	return out.String(), err
}

func TestSuggestionsCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := run(t, "--db", dir, "suggestions")
	require.NoError(t, err)
	assert.Contains(t, out, "What chip export rules mean for buyers")
	assert.Contains(t, out, "technology")

	out, err = run(t, "--db", dir, "suggestions", "--json")
	require.NoError(t, err)
	var suggestions []*core.Suggestion
	require.NoError(t, json.Unmarshal([]byte(out), &suggestions))
	require.Len(t, suggestions, 1)
	assert.Equal(t, []string{"news:a"}, suggestions[0].SourceItemIDs)
}

func TestRunsCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := run(t, "--db", dir, "runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "scraping:success")
}

func TestListCommands_EmptyStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")

	out, err := run(t, "--db", dir, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No pipeline runs recorded.")

	out, err = run(t, "--db", dir, "suggestions")
	require.NoError(t, err)
	assert.Contains(t, out, "No suggestions yet.")
}

func TestInvalidFlags(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "runs")
	assert.Error(t, err)

	_, err = run(t, "--log-format", "xml", "runs")
	assert.Error(t, err)

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "runs")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		assert.NoError(t, setupLogger(level, "text"), level)
	}
	assert.NoError(t, setupLogger("info", "json"))
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestPrintRun(t *testing.T) {
	started := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)
	run := &core.PipelineRun{
		ID:         "abc",
		Trigger:    core.TriggerManual,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Stages: []core.StageReport{
			{Stage: core.StageScraping, Outcome: core.OutcomePartial, ItemsProcessed: 4, ItemsFailed: 1, Attempts: 2, Error: "rss/technology: source unavailable"},
			{Stage: core.StageCleanup, Outcome: core.OutcomeSuccess, Attempts: 1},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printRun(&out, run, false))
	assert.Contains(t, out.String(), "Run abc (manual, finished in 1m30s)")
	assert.Contains(t, out.String(), "partial")
	assert.Contains(t, out.String(), "source unavailable")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	_, err := run(t, "--db", filepath.Join(t.TempDir(), "db"), "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}
