package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
	"github.com/timshannon/badgerhold/v4"
)

// Store implements storage.Store on top of a badgerhold Backend.
type Store struct {
	backend    *Backend
	dimensions int
	logger     *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store that enforces the given embedding dimensionality.
// The store takes ownership of backend and closes it on Close.
//
// Returns storage.Store interface (not *Store) to keep callers off the
// badger specifics.
func NewStore(backend *Backend, dimensions int) (storage.Store, error) {
	return newStore(backend, dimensions)
}

func newStore(backend *Backend, dimensions int) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &Store{
		backend:    backend,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "item-store"),
	}, nil
}

// OpenStore opens (or creates) a store at filePath.
func OpenStore(filePath string, dimensions int) (storage.Store, error) {
	backend, err := OpenBackend(filePath, false)
	if err != nil {
		return nil, err
	}
	store, err := newStore(backend, dimensions)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Dimensions returns the embedding length the store enforces.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Ping reports whether the store can serve requests.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Upsert stores item keyed by its identity using a partial merge.
func (s *Store) Upsert(ctx context.Context, item *core.ContentItem) (string, error) {
	if item == nil || item.Identity == "" {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidContentItem, core.ErrEmptyIdentity)
	}
	if item.HasEmbedding() && len(item.Embedding) != s.dimensions {
		return "", fmt.Errorf("%w: item %s has %d values, want %d",
			storage.ErrDimensionMismatch, item.Identity, len(item.Embedding), s.dimensions)
	}

	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var existing core.ContentItem
		err := s.backend.store.TxGet(tx, item.Identity, &existing)
		if errors.Is(err, badgerhold.ErrNotFound) {
			created := *item
			if err := core.ValidateContentItem(&created); err != nil {
				return err
			}
			now := time.Now().UTC()
			if created.Status == 0 {
				created.Status = core.StatusIngested
				if created.HasEmbedding() {
					created.Status = core.StatusEmbedded
				}
			}
			created.InsertedAt = now
			created.UpdatedAt = now
			return s.backend.store.TxUpsert(tx, created.Identity, &created)
		}
		if err != nil {
			return err
		}

		merged := mergeItem(&existing, item)
		if sameItem(&existing, merged) {
			return nil
		}
		merged.UpdatedAt = time.Now().UTC()
		return s.backend.store.TxUpsert(tx, merged.Identity, merged)
	})
	if err != nil {
		return "", err
	}
	return item.Identity, nil
}

// mergeItem overlays the fields incoming supplies onto stored.
// PublishedAt is fixed once stored: adapters stamp undated items with the
// fetch time, which would otherwise move forward on every run.
func mergeItem(stored, incoming *core.ContentItem) *core.ContentItem {
	merged := *stored
	if incoming.Source != "" {
		merged.Source = incoming.Source
	}
	if incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.URL != "" {
		merged.URL = incoming.URL
	}
	if stored.PublishedAt.IsZero() && !incoming.PublishedAt.IsZero() {
		merged.PublishedAt = incoming.PublishedAt
	}
	if incoming.Metadata != nil {
		merged.Metadata = maps.Clone(incoming.Metadata)
	}
	if incoming.Text != "" && incoming.Text != stored.Text {
		merged.Text = incoming.Text
		// Changed text invalidates a vector computed from the old text
		if !incoming.HasEmbedding() {
			merged.Embedding = nil
			merged.Status = core.StatusIngested
		}
	}
	if incoming.HasEmbedding() {
		merged.Embedding = slices.Clone(incoming.Embedding)
	}
	if incoming.Status != 0 {
		merged.Status = incoming.Status
	}
	return &merged
}

// sameItem compares the caller visible fields of two items.
func sameItem(a, b *core.ContentItem) bool {
	return a.Identity == b.Identity &&
		a.Source == b.Source &&
		a.Title == b.Title &&
		a.URL == b.URL &&
		a.Text == b.Text &&
		a.PublishedAt.Equal(b.PublishedAt) &&
		a.Status == b.Status &&
		slices.Equal(a.Embedding, b.Embedding) &&
		maps.Equal(a.Metadata, b.Metadata)
}

// Get retrieves a single item by identity.
func (s *Store) Get(ctx context.Context, identity string) (*core.ContentItem, error) {
	var item core.ContentItem
	err := s.backend.WithReadTx(func(tx *badger.Txn) error {
		return s.backend.store.TxGet(tx, identity, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Find returns up to limit items matching filter, newest first.
func (s *Store) Find(ctx context.Context, filter storage.ItemFilter, limit int) ([]*core.ContentItem, error) {
	query := filterQuery(filter).SortBy("PublishedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	return s.find(query)
}

// FindMissingEmbedding returns items of source still waiting for a vector.
func (s *Store) FindMissingEmbedding(ctx context.Context, source core.Source, limit int) ([]*core.ContentItem, error) {
	query := badgerhold.Where("Source").Eq(source).
		And("Status").In(core.StatusIngested, core.StatusEmbeddingPending).
		SortBy("PublishedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	items, err := s.find(query)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, (*core.ContentItem).HasEmbedding), nil
}

// RequeueFailed moves failed items of source back to Ingested.
func (s *Store) RequeueFailed(ctx context.Context, source core.Source) (int, error) {
	count := 0
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		count = 0
		var failed []core.ContentItem
		query := badgerhold.Where("Source").Eq(source).And("Status").Eq(core.StatusEmbeddingFailed)
		if err := s.backend.store.TxFind(tx, &failed, query); err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range failed {
			failed[i].Status = core.StatusIngested
			failed[i].UpdatedAt = now
			if err := s.backend.store.TxUpsert(tx, failed[i].Identity, &failed[i]); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// VectorSearch ranks embedded items of source by cosine similarity to query.
func (s *Store) VectorSearch(ctx context.Context, query []float32, source core.Source, k int) ([]core.ScoredItem, error) {
	if k <= 0 {
		return []core.ScoredItem{}, nil
	}
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d values, want %d",
			storage.ErrDimensionMismatch, len(query), s.dimensions)
	}

	items, err := s.find(badgerhold.Where("Source").Eq(source).And("Status").Eq(core.StatusEmbedded))
	if err != nil {
		return nil, err
	}

	results := make([]core.ScoredItem, 0, len(items))
	for _, item := range items {
		// Skip items without embeddings
		if len(item.Embedding) != s.dimensions {
			continue
		}
		results = append(results, core.ScoredItem{
			Item:  item,
			Score: cosineSimilarity(query, item.Embedding),
		})
	}

	// Sort by similarity descending, newer items first on ties
	slices.SortFunc(results, compareScored)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// compareScored orders scored items by descending score, then newer
// PublishedAt, then identity so equal inputs always sort the same way.
func compareScored(a, b core.ScoredItem) int {
	if a.Score > b.Score {
		return -1
	}
	if a.Score < b.Score {
		return 1
	}
	if c := b.Item.PublishedAt.Compare(a.Item.PublishedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Item.Identity, b.Item.Identity)
}

// DeleteOlderThan removes items of source published before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, source core.Source, cutoff time.Time) (int, error) {
	query := badgerhold.Where("Source").Eq(source).And("PublishedAt").Lt(cutoff)
	return s.deleteMatching(ctx, query)
}

// TrimToCount removes the oldest items of source until at most max remain.
func (s *Store) TrimToCount(ctx context.Context, source core.Source, max int) (int, error) {
	if max < 0 {
		return 0, fmt.Errorf("%w: max must not be negative", storage.ErrInvalidQuery)
	}
	query := badgerhold.Where("Source").Eq(source).SortBy("PublishedAt").Reverse()
	if max > 0 {
		query = query.Skip(max)
	}
	return s.deleteMatching(ctx, query)
}

// Count returns the number of stored items of source.
func (s *Store) Count(ctx context.Context, source core.Source) (int, error) {
	var count uint64
	err := s.backend.WithReadTx(func(tx *badger.Txn) error {
		var err error
		count, err = s.backend.store.TxCount(tx, &core.ContentItem{}, badgerhold.Where("Source").Eq(source))
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Store) find(query *badgerhold.Query) ([]*core.ContentItem, error) {
	var records []core.ContentItem
	err := s.backend.WithReadTx(func(tx *badger.Txn) error {
		return s.backend.store.TxFind(tx, &records, query)
	})
	if err != nil {
		return nil, err
	}
	items := make([]*core.ContentItem, len(records))
	for i := range records {
		items[i] = &records[i]
	}
	return items, nil
}

func (s *Store) deleteMatching(ctx context.Context, query *badgerhold.Query) (int, error) {
	deleted := 0
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		deleted = 0
		var doomed []core.ContentItem
		if err := s.backend.store.TxFind(tx, &doomed, query); err != nil {
			return err
		}
		for _, item := range doomed {
			if err := s.backend.store.TxDelete(tx, item.Identity, &core.ContentItem{}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Debug("deleted items", "count", deleted)
	}
	return deleted, nil
}

// filterQuery translates an ItemFilter into a badgerhold query.
func filterQuery(filter storage.ItemFilter) *badgerhold.Query {
	query := badgerhold.Where("Identity").Ne("")
	if filter.Source != "" {
		query = query.And("Source").Eq(filter.Source)
	}
	if filter.Status != 0 {
		query = query.And("Status").Eq(filter.Status)
	}
	if !filter.PublishedBefore.IsZero() {
		query = query.And("PublishedAt").Lt(filter.PublishedBefore)
	}
	if !filter.PublishedAfter.IsZero() {
		query = query.And("PublishedAt").Gt(filter.PublishedAfter)
	}
	return query
}
