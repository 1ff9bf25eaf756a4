package pipeline

import (
	"context"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/embedding"
	"github.com/poiesic/contentpulse/ingestion"
)

// Ingester runs the Scraping stage.
type Ingester interface {
	Run(ctx context.Context) (ingestion.IngestResult, error)
}

// Embedder runs the Embedding stage for one source.
type Embedder interface {
	Requeue(ctx context.Context, source core.Source) (int, error)
	Run(ctx context.Context, source core.Source, batchSize int) (embedding.Result, error)
}

// Retriever builds the candidate set of one topic.
type Retriever interface {
	RetrieveForQueries(ctx context.Context, queries []string, sources []core.Source, perSourceLimit int) ([]core.ScoredItem, error)
}

// Synthesizer turns one candidate set into a stored suggestion.
type Synthesizer interface {
	Synthesize(ctx context.Context, candidates []core.ScoredItem, contextHint string) (*core.Suggestion, error)
}

// Stages bundles the workers of a cycle.
type Stages struct {
	Ingest     Ingester
	Embed      Embedder
	Retrieve   Retriever
	Synthesize Synthesizer
}

// RunRecorder receives every finished pipeline run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *core.PipelineRun) error
}

// Locker guards cycles across processes. TryLock returns ErrLocked when
// another holder owns key. The returned function releases the lock.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// candidateSet is the retrieval output for one topic.
type candidateSet struct {
	topic      Topic
	candidates []core.ScoredItem
}

// stageResult is what a stage attempt reports back to the orchestrator.
type stageResult struct {
	processed int
	failed    int
	skipped   bool
}
