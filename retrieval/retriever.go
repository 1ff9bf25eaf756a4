package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/retry"
	"github.com/poiesic/contentpulse/storage"
)

const (
	// DefaultPerSourceLimit is how many hits each source contributes.
	DefaultPerSourceLimit = 5

	// DefaultMaxCandidates caps the merged candidate set.
	DefaultMaxCandidates = 10
)

// Retriever builds candidate sets from the item store.
type Retriever struct {
	store         storage.ItemStore
	embedder      ai.Embedder
	minSimilarity float32
	maxCandidates int
	monitor       Monitor
	retry         retry.Policy
	callTimeout   time.Duration
	logger        *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithMinSimilarity drops hits scoring below min. Default is 0.
func WithMinSimilarity(min float32) Option {
	return func(r *Retriever) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("min similarity %v outside [-1, 1]", min)
		}
		r.minSimilarity = min
		return nil
	}
}

// WithMaxCandidates caps the merged result. Default is DefaultMaxCandidates.
func WithMaxCandidates(n int) Option {
	return func(r *Retriever) error {
		if n < 1 {
			return errors.New("max candidates must be positive")
		}
		r.maxCandidates = n
		return nil
	}
}

// WithMonitor installs a monitor that observes every retrieval.
func WithMonitor(m Monitor) Option {
	return func(r *Retriever) error {
		if m == nil {
			m = &noopMonitor{}
		}
		r.monitor = m
		return nil
	}
}

// WithRetryPolicy sets the backoff applied to transient embedder failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Retriever) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		r.retry = p
		return nil
	}
}

// WithCallTimeout bounds the query embedding call. Default is 60 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Retriever) error {
		if d <= 0 {
			return errors.New("call timeout must be positive")
		}
		r.callTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(store storage.ItemStore, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if store == nil {
		return nil, ErrItemStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		store:         store,
		embedder:      embedder,
		maxCandidates: DefaultMaxCandidates,
		monitor:       &noopMonitor{},
		retry:         retry.DefaultPolicy,
		callTimeout:   60 * time.Second,
		logger:        slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retrieval")

	return r, nil
}

// RetrieveCandidates searches each source for items similar to query and
// merges the hits into one ranking. Each source contributes at most
// perSourceLimit hits. An item appears once, with its best score.
func (r *Retriever) RetrieveCandidates(ctx context.Context, query []float32, sources []core.Source, perSourceLimit int) ([]core.ScoredItem, error) {
	if len(query) == 0 {
		return nil, ErrEmptyQuery
	}
	return r.retrieve(ctx, [][]float32{query}, sources, perSourceLimit)
}

// RetrieveForQueries embeds every query in a single embedder call and merges
// the hits of all of them with the same rules as RetrieveCandidates.
func (r *Retriever) RetrieveForQueries(ctx context.Context, queries []string, sources []core.Source, perSourceLimit int) ([]core.ScoredItem, error) {
	texts := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			texts = append(texts, q)
		}
	}
	if len(texts) == 0 {
		return nil, ErrEmptyQuery
	}

	var vectors [][]float32
	err := retry.Do(ctx, r.retry.WithLogger(r.logger), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		out, err := r.embedder.EmbedTexts(callCtx, texts)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		r.logger.Error("error generating query embeddings", "queries", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d queries, got %d vectors",
			core.ErrDataIntegrity, len(texts), len(vectors))
	}
	r.monitor.AfterQueryEmbedding(len(vectors))

	return r.retrieve(ctx, vectors, sources, perSourceLimit)
}

func (r *Retriever) retrieve(ctx context.Context, queries [][]float32, sources []core.Source, perSourceLimit int) ([]core.ScoredItem, error) {
	if perSourceLimit <= 0 {
		perSourceLimit = DefaultPerSourceLimit
	}
	r.monitor.Start(sources, perSourceLimit)

	best := make(map[string]core.ScoredItem)
	for _, source := range sources {
		var sourceHits []core.ScoredItem
		for _, query := range queries {
			hits, err := r.store.VectorSearch(ctx, query, source, perSourceLimit)
			if err != nil {
				r.logger.Error("error searching source", "source", source, "err", err)
				return nil, fmt.Errorf("searching %s: %w", source, err)
			}
			sourceHits = append(sourceHits, hits...)
		}
		r.monitor.AfterSourceSearch(source, sourceHits)

		for _, hit := range sourceHits {
			if hit.Score < r.minSimilarity {
				r.monitor.BelowThreshold(hit)
				continue
			}
			if prev, ok := best[hit.Item.Identity]; ok && prev.Score >= hit.Score {
				continue
			}
			best[hit.Item.Identity] = hit
		}
	}

	candidates := make([]core.ScoredItem, 0, len(best))
	for _, hit := range best {
		candidates = append(candidates, hit)
	}
	slices.SortFunc(candidates, compareScored)
	if len(candidates) > r.maxCandidates {
		candidates = candidates[:r.maxCandidates]
	}

	r.monitor.Finish(candidates)
	r.logger.Debug("retrieved candidates", "sources", len(sources), "queries", len(queries), "candidates", len(candidates))
	return candidates, nil
}

// compareScored orders by descending score, then newer PublishedAt, then
// identity.
func compareScored(a, b core.ScoredItem) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	if c := b.Item.PublishedAt.Compare(a.Item.PublishedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Item.Identity, b.Item.Identity)
}
