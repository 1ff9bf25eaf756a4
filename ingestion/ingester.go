package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
)

// IngestResult summarizes one Run.
type IngestResult struct {
	Fetched      int
	Stored       int
	Duplicates   int
	Failed       int
	SourceErrors map[string]error
}

// Ingester runs the configured feeds and stores what they yield.
type Ingester struct {
	store  storage.ItemStore
	feeds  []Feed
	pool   *ants.Pool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester) error

// WithPoolSize sets how many feeds are fetched concurrently.
// Default is 4, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(i *Ingester) error {
		if size < 1 {
			size = 1
		}
		if i.pool != nil {
			i.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		i.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

// WithClock overrides time.Now, used to stamp items without a publish date.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) error {
		if now != nil {
			i.now = now
		}
		return nil
	}
}

// NewIngester creates an ingester for feeds.
func NewIngester(store storage.ItemStore, feeds []Feed, opts ...Option) (*Ingester, error) {
	if store == nil {
		return nil, ErrItemStoreRequired
	}
	for _, feed := range feeds {
		if feed.Adapter == nil {
			return nil, ErrAdapterRequired
		}
	}

	pool, err := ants.NewPool(4)
	if err != nil {
		return nil, err
	}

	i := &Ingester{
		store:  store,
		feeds:  feeds,
		pool:   pool,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(i); optErr != nil {
			i.Release()
			return nil, optErr
		}
	}
	i.logger = i.logger.With("component", "ingester")
	return i, nil
}

// run holds the state shared by the feed workers of one Run.
type run struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	result   IngestResult
	storeErr error
}

func (r *run) sourceFailed(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.SourceErrors[key] = errors.Join(r.result.SourceErrors[key], err)
}

// claim records identity as seen and reports whether this is its first sighting.
func (r *run) claim(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Fetched++
	if _, dup := r.seen[identity]; dup {
		r.result.Duplicates++
		return false
	}
	r.seen[identity] = struct{}{}
	return true
}

// Run fetches every feed, normalizes and stores the items. Source failures
// are reported in the result. The returned error is non-nil only when the
// store itself failed or ctx ended.
func (i *Ingester) Run(ctx context.Context) (IngestResult, error) {
	state := &run{
		seen:   make(map[string]struct{}),
		result: IngestResult{SourceErrors: make(map[string]error)},
	}

	var wg sync.WaitGroup
	for _, feed := range i.feeds {
		wg.Add(1)
		err := i.pool.Submit(func() {
			defer wg.Done()
			i.ingestFeed(ctx, feed, state)
		})
		if err != nil {
			wg.Done()
			state.sourceFailed(feed.Key(), err)
		}
	}
	wg.Wait()

	result := state.result
	i.logger.Info("ingestion finished",
		"fetched", result.Fetched,
		"stored", result.Stored,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"sourceErrors", len(result.SourceErrors))

	if state.storeErr != nil {
		return result, state.storeErr
	}
	return result, ctx.Err()
}

func (i *Ingester) ingestFeed(ctx context.Context, feed Feed, state *run) {
	source := feed.Adapter.Source()
	key := feed.Key()
	logger := i.logger.With("feed", key)

	for raw, err := range feed.Adapter.Fetch(ctx, feed.Config) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("source failed", "err", err)
			state.sourceFailed(key, err)
			continue
		}

		item, err := Normalize(source, raw, i.now())
		if err != nil {
			logger.Debug("dropping item", "url", raw.URL, "err", err)
			state.mu.Lock()
			state.result.Fetched++
			state.result.Failed++
			state.mu.Unlock()
			continue
		}
		if !state.claim(item.Identity) {
			continue
		}

		if _, err := i.store.Upsert(ctx, item); err != nil {
			state.mu.Lock()
			state.result.Failed++
			if errors.Is(err, core.ErrStoreUnavailable) && state.storeErr == nil {
				state.storeErr = fmt.Errorf("storing %s: %w", item.Identity, err)
			}
			storeDown := state.storeErr != nil
			state.mu.Unlock()

			logger.Error("failed to store item", "identity", item.Identity, "err", err)
			if storeDown {
				return
			}
			continue
		}

		state.mu.Lock()
		state.result.Stored++
		state.mu.Unlock()
	}
}

// Release releases the worker pool.
// The ingester should not be used after calling Release.
func (i *Ingester) Release() {
	if i.pool != nil {
		i.pool.Release()
	}
}
