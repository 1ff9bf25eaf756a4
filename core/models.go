package core

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// HashContent returns the hex encoded 128 bit BLAKE2b digest of text.
func HashContent(text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// IdentityFor derives the stable dedupe key for an item of the given source.
// The key is the source name joined with a digest of key, so the same key
// always maps to the same identity within a source collection.
func IdentityFor(source Source, key string) string {
	return string(source) + ":" + HashContent(key)
}

// Source identifies the collection a content item belongs to.
type Source string

const (
	SourceNews   Source = "news"
	SourceSocial Source = "social"
)

// Sources lists every known source in pipeline order.
var Sources = []Source{SourceNews, SourceSocial}

// ItemStatus tracks where a content item is in the embedding lifecycle.
type ItemStatus int

const (
	// StatusIngested is assigned when an adapter stores or changes an item.
	StatusIngested ItemStatus = iota + 1
	// StatusEmbeddingPending marks items claimed by a running embedding batch.
	StatusEmbeddingPending
	// StatusEmbedded marks items with a complete vector.
	StatusEmbedded
	// StatusEmbeddingFailed is terminal for the current cycle. The next
	// embedding run requeues the item.
	StatusEmbeddingFailed
)

func (s ItemStatus) String() string {
	switch s {
	case StatusIngested:
		return "ingested"
	case StatusEmbeddingPending:
		return "embedding_pending"
	case StatusEmbedded:
		return "embedded"
	case StatusEmbeddingFailed:
		return "embedding_failed"
	default:
		return "unknown"
	}
}

// ContentItem is one ingested article or social post.
type ContentItem struct {
	Identity    string
	Source      Source
	Title       string
	URL         string
	Text        string
	PublishedAt time.Time
	Embedding   []float32 // Set by the embedding stage; absent until then
	Status      ItemStatus
	Metadata    map[string]string // Source specific fields, passed through untouched
	InsertedAt  time.Time         // When the item was first stored
	UpdatedAt   time.Time         // When the stored item last changed
}

// HasEmbedding reports whether the item carries a vector.
func (c *ContentItem) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ScoredItem pairs an item with its similarity to a query vector.
type ScoredItem struct {
	Item  *ContentItem
	Score float32
}

// Suggestion is a synthesized topic recommendation backed by stored items.
type Suggestion struct {
	ID            string
	GeneratedAt   time.Time
	Topic         string
	Keywords      []string
	Rationale     string
	Label         string
	ContextHint   string
	SourceItemIDs []string // Identities of the items included as evidence
}

// Stage names one step of a pipeline cycle.
type Stage string

const (
	StageScraping     Stage = "scraping"
	StageEmbedding    Stage = "embedding"
	StageRetrieving   Stage = "retrieving"
	StageSynthesizing Stage = "synthesizing"
	StageCleanup      Stage = "cleanup"
)

// CycleStages lists the stages of a cycle in execution order.
var CycleStages = []Stage{StageScraping, StageEmbedding, StageRetrieving, StageSynthesizing, StageCleanup}

// Outcome summarizes how a stage ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Trigger records what started a cycle.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// StageReport is the outcome of one stage within a cycle.
type StageReport struct {
	Stage          Stage
	Outcome        Outcome
	ItemsProcessed int
	ItemsFailed    int
	Attempts       int
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// PipelineRun is the observability record of one orchestrator cycle.
type PipelineRun struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageReport
	Aborted    bool
}

// Report returns the latest report recorded for stage, or nil.
func (r *PipelineRun) Report(stage Stage) *StageReport {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Stage == stage {
			return &r.Stages[i]
		}
	}
	return nil
}
