// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package embedding computes vectors for stored items that lack one.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/retry"
	"github.com/poiesic/contentpulse/storage"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of texts sent per embedder call.
	DefaultBatchSize = 20

	// DefaultMaxChars bounds the text embedded per item.
	DefaultMaxChars = 2000

	// MinChars is the shortest text worth embedding.
	MinChars = 10
)

// Result summarizes one Run.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Stage embeds items of one source in rounds of batches.
type Stage struct {
	store       storage.ItemStore
	embedder    ai.Embedder
	pool        *ants.Pool
	parallelism int
	limiter     *rate.Limiter
	retry       retry.Policy
	callTimeout time.Duration
	maxChars    int
	logger      *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage) error

// WithParallelism sets how many batches are in flight at once.
// Default is 2, with a minimum of 1.
func WithParallelism(n int) Option {
	return func(s *Stage) error {
		if n < 1 {
			n = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		s.pool = pool
		s.parallelism = n
		return nil
	}
}

// WithRateLimit paces embedder calls to r per second with the given burst.
// Default is unlimited.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Stage) error {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(r, burst)
		return nil
	}
}

// WithRetryPolicy sets the backoff applied to transient embedder failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Stage) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		s.retry = p
		return nil
	}
}

// WithCallTimeout bounds a single embedder call. Default is 60 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Stage) error {
		if d <= 0 {
			return errors.New("call timeout must be positive")
		}
		s.callTimeout = d
		return nil
	}
}

// WithMaxChars sets the per-item text limit. Default is DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(s *Stage) error {
		if n < MinChars {
			return fmt.Errorf("max chars must be at least %d", MinChars)
		}
		s.maxChars = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewStage creates an embedding stage.
func NewStage(store storage.ItemStore, embedder ai.Embedder, opts ...Option) (*Stage, error) {
	if store == nil {
		return nil, ErrItemStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Stage{
		store:       store,
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		retry:       retry.DefaultPolicy,
		callTimeout: 60 * time.Second,
		maxChars:    DefaultMaxChars,
		logger:      slog.Default(),
	}
	if err := WithParallelism(2)(s); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Release()
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "embedding")
	return s, nil
}

// Release releases the worker pool.
func (s *Stage) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// batchOutcome is the result of one embedder call.
type batchOutcome struct {
	succeeded int
	failed    int
	storeErr  error
}

// Requeue moves items of source that failed in an earlier run back into the
// queue. Callers requeue once per cycle, before the first Run.
func (s *Stage) Requeue(ctx context.Context, source core.Source) (int, error) {
	requeued, err := s.store.RequeueFailed(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("requeueing failed items: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("requeued failed items", "source", source, "count", requeued)
	}
	return requeued, nil
}

// Run embeds every item of source that has no vector. Items marked
// EmbeddingFailed stay failed until Requeue. Work proceeds in rounds of
// batchSize*parallelism items; cancelling ctx stops new rounds while batches
// already submitted finish on a detached context.
func (s *Stage) Run(ctx context.Context, source core.Source, batchSize int) (Result, error) {
	var result Result
	if batchSize < 1 {
		return result, ErrInvalidBatchSize
	}

	logger := s.logger.With("source", source)
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		found, err := s.store.FindMissingEmbedding(ctx, source, batchSize*s.parallelism)
		if err != nil {
			return result, fmt.Errorf("finding items to embed: %w", err)
		}

		items := found[:0]
		for _, item := range found {
			if _, ok := seen[item.Identity]; !ok {
				seen[item.Identity] = struct{}{}
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			break
		}

		logger.Debug("embedding round", "items", len(items))
		round, err := s.runRound(ctx, items, batchSize)
		result.Attempted += len(items)
		result.Succeeded += round.succeeded
		result.Failed += round.failed
		if err != nil {
			return result, err
		}
	}

	logger.Info("embedding finished",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed)
	return result, nil
}

// runRound marks items pending, drops those too short to embed and fans the
// rest out to the pool in batches.
func (s *Stage) runRound(ctx context.Context, items []*core.ContentItem, batchSize int) (batchOutcome, error) {
	var total batchOutcome
	detached := context.WithoutCancel(ctx)

	texts := make(map[string]string, len(items))
	pending := make([]*core.ContentItem, 0, len(items))
	for _, item := range items {
		text := Text(item, s.maxChars)
		if utf8.RuneCountInString(text) < MinChars {
			s.logger.Debug("skipping short item", "identity", item.Identity, "err", ErrTextTooShort)
			if err := s.setStatus(detached, core.StatusEmbeddingFailed, item); err != nil {
				return total, err
			}
			total.failed++
			continue
		}
		texts[item.Identity] = text
		pending = append(pending, item)
	}
	if err := s.setStatus(detached, core.StatusEmbeddingPending, pending...); err != nil {
		return total, err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	merge := func(o batchOutcome) {
		mu.Lock()
		defer mu.Unlock()
		total.succeeded += o.succeeded
		total.failed += o.failed
		if total.storeErr == nil {
			total.storeErr = o.storeErr
		}
	}

	for start := 0; start < len(pending); start += batchSize {
		batch := pending[start:min(start+batchSize, len(pending))]
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			merge(s.embedBatch(ctx, batch, texts))
		})
		if err != nil {
			wg.Done()
			s.logger.Error("failed to submit batch", "err", err)
			merge(s.fail(detached, batch))
		}
	}
	wg.Wait()

	return total, total.storeErr
}

// embedBatch sends one batch to the embedder and writes the vectors.
func (s *Stage) embedBatch(ctx context.Context, batch []*core.ContentItem, texts map[string]string) batchOutcome {
	detached := context.WithoutCancel(ctx)

	inputs := make([]string, len(batch))
	for i, item := range batch {
		inputs[i] = texts[item.Identity]
	}

	var vectors [][]float32
	err := retry.Do(ctx, s.retry.WithLogger(s.logger.With("source", batch[0].Source)), func(context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(detached, s.callTimeout)
		defer cancel()

		out, err := s.embedder.EmbedTexts(callCtx, inputs)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Items stay pending and are picked up by the next run.
			return batchOutcome{}
		}
		s.logger.Warn("embedding batch failed", "items", len(batch), "err", err)
		return s.fail(detached, batch)
	}

	if len(vectors) != len(batch) {
		s.logger.Warn("embedding batch failed",
			"err", fmt.Errorf("%w: sent %d texts, got %d vectors", ErrVectorCountMismatch, len(batch), len(vectors)))
		return s.fail(detached, batch)
	}

	var out batchOutcome
	for i, item := range batch {
		_, err := s.store.Upsert(detached, &core.ContentItem{
			Identity:  item.Identity,
			Embedding: vectors[i],
			Status:    core.StatusEmbedded,
		})
		switch {
		case err == nil:
			out.succeeded++
		case errors.Is(err, storage.ErrDimensionMismatch):
			s.logger.Warn("discarding vector", "identity", item.Identity, "err", err)
			if err := s.setStatus(detached, core.StatusEmbeddingFailed, item); err != nil {
				out.storeErr = err
			}
			out.failed++
		default:
			out.failed++
			if out.storeErr == nil {
				out.storeErr = fmt.Errorf("writing embedding for %s: %w", item.Identity, err)
			}
		}
	}
	return out
}

// fail marks every item of batch as failed.
func (s *Stage) fail(ctx context.Context, batch []*core.ContentItem) batchOutcome {
	out := batchOutcome{failed: len(batch)}
	if err := s.setStatus(ctx, core.StatusEmbeddingFailed, batch...); err != nil {
		out.storeErr = err
	}
	return out
}

func (s *Stage) setStatus(ctx context.Context, status core.ItemStatus, items ...*core.ContentItem) error {
	for _, item := range items {
		if _, err := s.store.Upsert(ctx, &core.ContentItem{Identity: item.Identity, Status: status}); err != nil {
			return fmt.Errorf("marking %s %s: %w", item.Identity, status, err)
		}
	}
	return nil
}
