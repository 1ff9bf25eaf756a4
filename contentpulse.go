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

// Package contentpulse wires the store, the AI provider and the pipeline
// stages described by a config.Config into a runnable Engine.
package contentpulse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/config"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/embedding"
	"github.com/poiesic/contentpulse/ingestion"
	"github.com/poiesic/contentpulse/ingestion/reddit"
	"github.com/poiesic/contentpulse/ingestion/rss"
	"github.com/poiesic/contentpulse/pipeline"
	"github.com/poiesic/contentpulse/pipeline/redislock"
	"github.com/poiesic/contentpulse/reporting/kafka"
	"github.com/poiesic/contentpulse/retrieval"
	"github.com/poiesic/contentpulse/storage"
	"github.com/poiesic/contentpulse/storage/badger"
	"github.com/poiesic/contentpulse/storage/s3archive"
	"github.com/poiesic/contentpulse/synthesis"
	"golang.org/x/time/rate"
)

type Engine struct {
	store        storage.Store
	provider     ai.Provider
	ingester     *ingestion.Ingester
	embedStage   *embedding.Stage
	retriever    *retrieval.Retriever
	orchestrator *pipeline.Orchestrator
	closers      []io.Closer
	tickInterval time.Duration
	logger       *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	store    storage.Store
	provider ai.Provider
	news     ingestion.Adapter
	social   ingestion.Adapter
	logger   *slog.Logger
}

// WithStore uses store instead of opening the configured badger directory.
// The Engine closes it.
func WithStore(store storage.Store) EngineOption {
	return func(o *engineOptions) {
		o.store = store
	}
}

// WithProvider uses provider instead of the configured AI vendors.
func WithProvider(provider ai.Provider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithAdapters replaces the RSS and Reddit adapters.
func WithAdapters(news, social ingestion.Adapter) EngineOption {
	return func(o *engineOptions) {
		o.news = news
		o.social = social
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine builds every component cfg describes. Redis, Kafka and S3 are
// only connected when configured.
func NewEngine(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		tickInterval: cfg.Pipeline.TickInterval.Std(),
		logger:       options.logger.With("component", "engine"),
	}
	if err := e.build(ctx, cfg, options); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, cfg *config.Config, options *engineOptions) error {
	logger := options.logger

	e.store = options.store
	if e.store == nil {
		store, err := badger.OpenStore(cfg.Store.Path, cfg.AI.Dimensions)
		if err != nil {
			return err
		}
		e.store = store
	}

	e.provider = options.provider
	if e.provider == nil {
		provider, err := NewProvider(ctx, cfg.ProviderConfig())
		if err != nil {
			return err
		}
		e.provider = provider
	}

	feeds, err := e.feeds(cfg, options)
	if err != nil {
		return err
	}
	e.ingester, err = ingestion.NewIngester(e.store, feeds,
		ingestion.WithPoolSize(cfg.Pipeline.IngestParallelism),
		ingestion.WithLogger(logger))
	if err != nil {
		return err
	}

	embedOpts := []embedding.Option{
		embedding.WithParallelism(cfg.Pipeline.EmbeddingParallelism),
		embedding.WithCallTimeout(cfg.AI.RequestTimeout.Std()),
		embedding.WithLogger(logger),
	}
	if cfg.AI.EmbeddingRate > 0 {
		embedOpts = append(embedOpts, embedding.WithRateLimit(rate.Limit(cfg.AI.EmbeddingRate), 1))
	}
	e.embedStage, err = embedding.NewStage(e.store, e.provider.Embedder(), embedOpts...)
	if err != nil {
		return err
	}

	e.retriever, err = retrieval.NewRetriever(e.store, e.provider.Embedder(),
		retrieval.WithMinSimilarity(float32(cfg.Pipeline.MinSimilarity)),
		retrieval.WithMaxCandidates(cfg.Pipeline.MaxCandidates),
		retrieval.WithCallTimeout(cfg.AI.RequestTimeout.Std()),
		retrieval.WithMonitor(retrieval.NewLogMonitor(logger)),
		retrieval.WithLogger(logger))
	if err != nil {
		return err
	}

	synthOpts := []synthesis.Option{
		synthesis.WithPromptBudget(cfg.Pipeline.PromptBudget),
		synthesis.WithSnippetChars(cfg.Pipeline.SnippetChars),
		synthesis.WithCallTimeout(2 * cfg.AI.RequestTimeout.Std()),
		synthesis.WithLogger(logger),
	}
	if cfg.AI.GenerationRate > 0 {
		synthOpts = append(synthOpts, synthesis.WithRateLimit(rate.Limit(cfg.AI.GenerationRate), 1))
	}
	synthesizer, err := synthesis.NewSynthesizer(e.store, e.provider.Generator(), synthOpts...)
	if err != nil {
		return err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithTopics(cfg.PipelineTopics()),
		pipeline.WithBatchSize(cfg.Pipeline.BatchSize),
		pipeline.WithPerSourceLimit(cfg.Pipeline.PerSourceLimit),
		pipeline.WithSynthesisParallelism(cfg.Pipeline.SynthesisParallelism),
		pipeline.WithStageRetries(cfg.Pipeline.StageRetries),
		pipeline.WithSettleDelay(cfg.Pipeline.SettleDelay.Std()),
		pipeline.WithCycleTimeout(cfg.Pipeline.CycleTimeout.Std()),
		pipeline.WithRetention(cfg.RetentionPolicy()),
		pipeline.WithSchedule(cfg.Pipeline.Schedule),
		pipeline.WithHeartbeat(cfg.Pipeline.Heartbeat.Std()),
		pipeline.WithLogger(logger),
	}
	extra, err := e.connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	pipelineOpts = append(pipelineOpts, extra...)

	e.orchestrator, err = pipeline.NewOrchestrator(e.store, pipeline.Stages{
		Ingest:     e.ingester,
		Embed:      e.embedStage,
		Retrieve:   e.retriever,
		Synthesize: synthesizer,
	}, pipelineOpts...)
	return err
}

// feeds binds every configured topic to the news and social adapters.
func (e *Engine) feeds(cfg *config.Config, options *engineOptions) ([]ingestion.Feed, error) {
	news, social := options.news, options.social
	var err error
	if news == nil {
		if news, err = rss.New(rss.WithLogger(options.logger)); err != nil {
			return nil, err
		}
	}
	if social == nil {
		if social, err = reddit.New(reddit.WithLogger(options.logger)); err != nil {
			return nil, err
		}
	}

	var feeds []ingestion.Feed
	for _, t := range cfg.Topics {
		category := t.Label
		if category == "" {
			category = t.Name
		}
		if len(t.FeedURLs) > 0 {
			feeds = append(feeds, ingestion.Feed{Adapter: news, Config: ingestion.SourceConfig{
				Name:     t.Name,
				Category: category,
				FeedURLs: t.FeedURLs,
				MaxItems: t.MaxItems,
				FullText: t.FullText,
			}})
		}
		if len(t.Subreddits) > 0 {
			feeds = append(feeds, ingestion.Feed{Adapter: social, Config: ingestion.SourceConfig{
				Name:       t.Name,
				Category:   category,
				Subreddits: t.Subreddits,
				MaxItems:   t.MaxItems,
			}})
		}
	}
	return feeds, nil
}

// connect dials the optional Redis lock, Kafka reporter and S3 archiver.
func (e *Engine) connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]pipeline.Option, error) {
	var opts []pipeline.Option

	if cfg.Redis.Addr != "" {
		lockOpts := []redislock.Option{redislock.WithLogger(logger)}
		if ttl := cfg.Redis.LockTTL.Std(); ttl > 0 {
			lockOpts = append(lockOpts, redislock.WithTTL(ttl))
		}
		locker, err := redislock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, lockOpts...)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, locker)
		opts = append(opts, pipeline.WithLocker(locker))
		e.logger.Info("cycle lock enabled", "redis", cfg.Redis.Addr)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		reporter, err := kafka.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, reporter)
		opts = append(opts, pipeline.WithRunRecorder(reporter))
		e.logger.Info("run reports enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.Archive.Bucket != "" {
		archiver, err := s3archive.Open(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region, cfg.Archive.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
		e.logger.Info("archiving enabled", "bucket", cfg.Archive.Bucket)
	}

	return opts, nil
}

// Store returns the item, suggestion and run store.
func (e *Engine) Store() storage.Store {
	return e.store
}

func (e *Engine) Orchestrator() *pipeline.Orchestrator {
	return e.orchestrator
}

// RunCycle runs one full cycle now.
func (e *Engine) RunCycle(ctx context.Context) (*core.PipelineRun, error) {
	return e.orchestrator.RunCycle(ctx, core.TriggerManual)
}

// Ingest runs only the scraping stage.
func (e *Engine) Ingest(ctx context.Context) (*core.PipelineRun, error) {
	return e.orchestrator.RunStages(ctx, core.TriggerManual, core.StageScraping)
}

// Embed runs only the embedding stage.
func (e *Engine) Embed(ctx context.Context) (*core.PipelineRun, error) {
	return e.orchestrator.RunStages(ctx, core.TriggerManual, core.StageEmbedding)
}

// Suggest retrieves candidates and synthesizes suggestions from what is
// already embedded.
func (e *Engine) Suggest(ctx context.Context) (*core.PipelineRun, error) {
	return e.orchestrator.RunStages(ctx, core.TriggerManual, core.StageRetrieving, core.StageSynthesizing)
}

// Cleanup applies the retention policy now.
func (e *Engine) Cleanup(ctx context.Context) (*core.PipelineRun, error) {
	return e.orchestrator.RunStages(ctx, core.TriggerManual, core.StageCleanup)
}

// Search returns the stored items closest to query across every source,
// ranked the way the retrieving stage ranks candidates.
func (e *Engine) Search(ctx context.Context, query string, perSource int) ([]core.ScoredItem, error) {
	return e.retriever.RetrieveForQueries(ctx, []string{query}, core.Sources, perSource)
}

// Serve runs scheduled cycles until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	e.logger.Info("serving", "next_run", e.orchestrator.NextRun())
	return e.orchestrator.Start(ctx, e.tickInterval)
}

// Close releases every component. It is safe on a partially built Engine.
func (e *Engine) Close() error {
	if e.orchestrator != nil {
		e.orchestrator.Release()
	}
	if e.embedStage != nil {
		e.embedStage.Release()
	}
	if e.ingester != nil {
		e.ingester.Release()
	}

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			e.logger.Error("error closing connection", "err", err)
			errs = append(errs, err)
		}
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
