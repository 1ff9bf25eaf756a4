package storage

import (
	"context"
	"time"

	"github.com/poiesic/contentpulse/core"
)

// ItemFilter narrows a Find query. Zero-valued fields do not filter.
type ItemFilter struct {
	Source          core.Source
	Status          core.ItemStatus
	PublishedBefore time.Time
	PublishedAfter  time.Time
}

// ItemStore provides operations for managing content items.
// Implementations must be thread-safe and support concurrent access.
type ItemStore interface {
	// Upsert stores item keyed by its identity and returns the identity.
	// Storing identical fields twice leaves the stored item untouched.
	// Fields the caller leaves at their zero value keep their stored values.
	// Returns ErrDimensionMismatch if the embedding has the wrong length.
	Upsert(ctx context.Context, item *core.ContentItem) (string, error)

	// Get retrieves a single item by identity.
	// Returns ErrNotFound if the item doesn't exist.
	Get(ctx context.Context, identity string) (*core.ContentItem, error)

	// Find returns up to limit items matching filter, newest first.
	// A limit <= 0 returns every match.
	Find(ctx context.Context, filter ItemFilter, limit int) ([]*core.ContentItem, error)

	// FindMissingEmbedding returns up to limit items of source that have no
	// embedding and are waiting for one, oldest first.
	FindMissingEmbedding(ctx context.Context, source core.Source, limit int) ([]*core.ContentItem, error)

	// RequeueFailed moves items of source out of EmbeddingFailed so the
	// next embedding run picks them up again.
	RequeueFailed(ctx context.Context, source core.Source) (int, error)

	// VectorSearch returns up to k embedded items of source ordered by
	// descending cosine similarity to query, ties broken by newer
	// PublishedAt.
	VectorSearch(ctx context.Context, query []float32, source core.Source, k int) ([]core.ScoredItem, error)

	// DeleteOlderThan removes items of source published before cutoff.
	DeleteOlderThan(ctx context.Context, source core.Source, cutoff time.Time) (int, error)

	// TrimToCount removes the oldest items of source until at most max remain.
	TrimToCount(ctx context.Context, source core.Source, max int) (int, error)

	// Count returns the number of stored items of source.
	Count(ctx context.Context, source core.Source) (int, error)

	// Dimensions returns the embedding length the store enforces.
	Dimensions() int

	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
}

// SuggestionStore provides operations for managing suggestions.
type SuggestionStore interface {
	// SaveSuggestion validates and persists a suggestion in one transaction.
	// Every referenced item must exist and be embedded at write time.
	SaveSuggestion(ctx context.Context, suggestion *core.Suggestion) error

	// RecentSuggestions returns up to limit suggestions, newest first.
	RecentSuggestions(ctx context.Context, limit int) ([]*core.Suggestion, error)

	// DeleteSuggestionsOlderThan removes suggestions generated before cutoff.
	DeleteSuggestionsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// TrimSuggestions removes the oldest suggestions until at most max remain.
	TrimSuggestions(ctx context.Context, max int) (int, error)
}

// RunStore persists pipeline run records for observability.
type RunStore interface {
	SaveRun(ctx context.Context, run *core.PipelineRun) error
	RecentRuns(ctx context.Context, limit int) ([]*core.PipelineRun, error)
	DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Store combines every persistence contract of the pipeline.
type Store interface {
	ItemStore
	SuggestionStore
	RunStore
	Close() error
}
