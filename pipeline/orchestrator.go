package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/embedding"
	"github.com/poiesic/contentpulse/retrieval"
	"github.com/poiesic/contentpulse/storage"
	"github.com/robfig/cron/v3"
)

// StageIdle is reported by Current while no cycle is running.
const StageIdle core.Stage = "idle"

const lockKey = "contentpulse:cycle"

// ErrCycleAborted is returned when a cycle stopped because the store was down.
var ErrCycleAborted = fmt.Errorf("cycle aborted: %w", core.ErrStoreUnavailable)

// Orchestrator runs pipeline cycles.
type Orchestrator struct {
	store  storage.Store
	stages Stages

	topics         []Topic
	sources        []core.Source
	batchSize      int
	perSourceLimit int
	synthesisPool  *ants.Pool
	stageRetries   int
	settleDelay    time.Duration
	cycleTimeout   time.Duration
	cleanupTimeout time.Duration
	pingTimeout    time.Duration
	retention      RetentionPolicy
	archiver       Archiver
	locker         Locker
	recorders      []RunRecorder
	schedule       cron.Schedule
	heartbeat      time.Duration
	clock          func() time.Time
	logger         *slog.Logger

	active  atomic.Bool
	mu      sync.Mutex
	current core.Stage
	next    time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTopics sets the topics a cycle builds candidate sets for.
// Default is DefaultTopics().
func WithTopics(topics []Topic) Option {
	return func(o *Orchestrator) error {
		if len(topics) == 0 {
			return ErrNoTopics
		}
		seen := make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			if _, ok := seen[topic.Name]; ok {
				return fmt.Errorf("%w: %q", ErrDuplicateTopic, topic.Name)
			}
			seen[topic.Name] = struct{}{}
		}
		o.topics = topics
		return nil
	}
}

// WithSources sets the sources that are embedded, searched and cleaned.
// Default is core.Sources.
func WithSources(sources ...core.Source) Option {
	return func(o *Orchestrator) error {
		for _, s := range sources {
			if err := core.ValidateSource(s); err != nil {
				return err
			}
		}
		if len(sources) == 0 {
			return errors.New("at least one source is required")
		}
		o.sources = sources
		return nil
	}
}

// WithBatchSize sets the embedding batch size. Default is embedding.DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return embedding.ErrInvalidBatchSize
		}
		o.batchSize = n
		return nil
	}
}

// WithPerSourceLimit sets how many hits each source contributes per query.
func WithPerSourceLimit(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return errors.New("per source limit must be positive")
		}
		o.perSourceLimit = n
		return nil
	}
}

// WithSynthesisParallelism sets how many candidate sets are synthesized at
// once. Default is 2, with a minimum of 1.
func WithSynthesisParallelism(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			n = 1
		}
		if o.synthesisPool != nil {
			o.synthesisPool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		o.synthesisPool = pool
		return nil
	}
}

// WithStageRetries sets how often a failed stage is retried within a cycle.
// Default is 1.
func WithStageRetries(n int) Option {
	return func(o *Orchestrator) error {
		if n < 0 {
			return errors.New("stage retries cannot be negative")
		}
		o.stageRetries = n
		return nil
	}
}

// WithSettleDelay sets the pause between stages. Default is 2 minutes.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return errors.New("settle delay cannot be negative")
		}
		o.settleDelay = d
		return nil
	}
}

// WithCycleTimeout bounds a whole cycle, cleanup excluded. Default is 2 hours.
func WithCycleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return errors.New("cycle timeout must be positive")
		}
		o.cycleTimeout = d
		return nil
	}
}

// WithRetention sets the bounds enforced by the Cleanup stage.
func WithRetention(policy RetentionPolicy) Option {
	return func(o *Orchestrator) error {
		if policy.Items.MaxItems < 0 || policy.Suggestions.MaxItems < 0 {
			return errors.New("retention counts cannot be negative")
		}
		o.retention = policy
		return nil
	}
}

// WithArchiver hands expiring items to a before retention deletes them.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) error {
		o.archiver = a
		return nil
	}
}

// WithLocker guards cycles across processes with l.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) error {
		o.locker = l
		return nil
	}
}

// WithRunRecorder adds a recorder that receives every finished run.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) error {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
		return nil
	}
}

// WithSchedule sets the cron expression scheduled cycles follow.
// Default is DefaultSchedule.
func WithSchedule(expr string) Option {
	return func(o *Orchestrator) error {
		schedule, err := ParseSchedule(expr)
		if err != nil {
			return err
		}
		o.schedule = schedule
		return nil
	}
}

// WithHeartbeat sets how often Start logs that it is alive. Default is 4 hours.
func WithHeartbeat(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return errors.New("heartbeat interval must be positive")
		}
		o.heartbeat = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) error {
		if clock == nil {
			clock = time.Now
		}
		o.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates an orchestrator driving stages against store.
func NewOrchestrator(store storage.Store, stages Stages, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if stages.Ingest == nil || stages.Embed == nil || stages.Retrieve == nil || stages.Synthesize == nil {
		return nil, ErrStageRequired
	}

	o := &Orchestrator{
		store:          store,
		stages:         stages,
		topics:         DefaultTopics(),
		sources:        core.Sources,
		batchSize:      embedding.DefaultBatchSize,
		perSourceLimit: retrieval.DefaultPerSourceLimit,
		stageRetries:   1,
		settleDelay:    2 * time.Minute,
		cycleTimeout:   2 * time.Hour,
		cleanupTimeout: 10 * time.Minute,
		pingTimeout:    10 * time.Second,
		retention:      DefaultRetention,
		heartbeat:      4 * time.Hour,
		clock:          time.Now,
		logger:         slog.Default(),
		current:        StageIdle,
	}
	if err := WithSchedule(DefaultSchedule)(o); err != nil {
		return nil, err
	}
	if err := WithSynthesisParallelism(2)(o); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			o.Release()
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "pipeline")
	o.next = nextAfter(o.schedule, o.clock())

	return o, nil
}

// Release releases the synthesis worker pool.
func (o *Orchestrator) Release() {
	if o.synthesisPool != nil {
		o.synthesisPool.Release()
	}
}

// Current returns the stage the active cycle is in, or StageIdle.
func (o *Orchestrator) Current() core.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) setCurrent(stage core.Stage) {
	o.mu.Lock()
	o.current = stage
	o.mu.Unlock()
}

// stageFunc performs one attempt of a stage.
type stageFunc func(ctx context.Context) (stageResult, error)

// cycle holds what stages of one cycle hand to each other.
type cycle struct {
	run         *core.PipelineRun
	sets        []candidateSet
	synthesized map[string]bool
	requeued    map[core.Source]bool
	suggested   int
	abandoned   int
}

// RunCycle runs one full cycle and returns its record. It returns
// ErrCycleActive without doing anything when a cycle is already running here
// or, with a Locker, anywhere else. A cycle aborted because the store went
// down returns its record together with ErrCycleAborted.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger core.Trigger) (*core.PipelineRun, error) {
	return o.RunStages(ctx, trigger, core.CycleStages...)
}

// RunStages runs the given stages in cycle order under the same guard as
// RunCycle. Stages not given are left out of the record. Synthesizing
// without Retrieving finds no candidates and is skipped.
func (o *Orchestrator) RunStages(ctx context.Context, trigger core.Trigger, stages ...core.Stage) (*core.PipelineRun, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	if !o.active.CompareAndSwap(false, true) {
		o.logger.Warn("cycle already active, discarding trigger", "trigger", trigger)
		return nil, ErrCycleActive
	}
	defer o.active.Store(false)

	if o.locker != nil {
		unlock, err := o.locker.TryLock(ctx, lockKey)
		if errors.Is(err, ErrLocked) {
			o.logger.Warn("cycle active on another instance, discarding trigger", "trigger", trigger)
			return nil, ErrCycleActive
		}
		if err != nil {
			return nil, fmt.Errorf("acquiring cycle lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("failed to release cycle lock", "err", err)
			}
		}()
	}
	defer o.setCurrent(StageIdle)

	c := &cycle{
		run: &core.PipelineRun{
			ID:        uuid.NewString(),
			Trigger:   trigger,
			StartedAt: o.clock().UTC(),
		},
		synthesized: make(map[string]bool),
		requeued:    make(map[core.Source]bool),
	}
	logger := o.logger.With("run", c.run.ID)
	logger.Info("cycle started", "trigger", trigger, "stages", len(stages))

	cycleCtx, cancel := context.WithTimeout(ctx, o.cycleTimeout)
	defer cancel()

	steps := []struct {
		stage core.Stage
		fn    stageFunc
	}{
		{core.StageScraping, o.scrape},
		{core.StageEmbedding, c.embedWith(o)},
		{core.StageRetrieving, c.retrieveWith(o)},
		{core.StageSynthesizing, c.synthesizeWith(o)},
	}

	started := 0
	for _, step := range steps {
		if !slices.Contains(stages, step.stage) {
			continue
		}
		if c.run.Aborted {
			o.skip(c.run, step.stage, "cycle aborted")
			continue
		}
		if started++; started > 1 {
			if err := sleep(cycleCtx, o.settleDelay); err != nil {
				o.skip(c.run, step.stage, err.Error())
				continue
			}
		}
		if err := cycleCtx.Err(); err != nil {
			o.skip(c.run, step.stage, err.Error())
			continue
		}
		if o.runStage(cycleCtx, c.run, step.stage, step.fn) {
			c.run.Aborted = true
		}
	}

	switch {
	case !slices.Contains(stages, core.StageCleanup):
	case c.run.Aborted:
		o.skip(c.run, core.StageCleanup, "cycle aborted")
	default:
		// Cleanup always runs, even after the cycle deadline.
		cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
		if started > 0 && sleep(cycleCtx, o.settleDelay) != nil {
			logger.Debug("cycle deadline reached, cleaning up without settle delay")
		}
		if o.runStage(cleanupCtx, c.run, core.StageCleanup, func(ctx context.Context) (stageResult, error) {
			return o.cleanup(ctx, o.clock().UTC())
		}) {
			c.run.Aborted = true
		}
		cancelCleanup()
	}

	c.run.FinishedAt = o.clock().UTC()
	o.record(ctx, c.run)
	logger.Info("cycle finished",
		"aborted", c.run.Aborted,
		"duration", c.run.FinishedAt.Sub(c.run.StartedAt))

	if c.run.Aborted {
		return c.run, ErrCycleAborted
	}
	return c.run, nil
}

// runStage runs fn until it succeeds, fails for a reason that retrying
// cannot fix, or runs out of stage retries. A partial outcome is retried
// when its error is transient. It reports whether the cycle
// must abort because the store is down.
func (o *Orchestrator) runStage(ctx context.Context, run *core.PipelineRun, stage core.Stage, fn stageFunc) bool {
	o.setCurrent(stage)
	logger := o.logger.With("run", run.ID, "stage", stage)
	report := core.StageReport{Stage: stage, StartedAt: o.clock().UTC()}
	abort := false

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		report.Attempts = attempt
		report.ItemsProcessed = result.processed
		report.ItemsFailed = result.failed
		report.Outcome = outcomeOf(result, err)
		report.Error = ""
		if err != nil {
			report.Error = err.Error()
		}

		retryable := core.IsTransient(err)
		if errors.Is(err, core.ErrStoreUnavailable) {
			if pingErr := o.ping(ctx); pingErr != nil {
				logger.Error("store unavailable, aborting cycle", "err", pingErr)
				abort = true
				break
			}
			retryable = true
		}

		if !retryable || attempt > o.stageRetries || ctx.Err() != nil {
			break
		}
		logger.Warn("stage failed, retrying", "attempt", attempt, "err", err)
	}

	report.FinishedAt = o.clock().UTC()
	run.Stages = append(run.Stages, report)

	logArgs := []any{
		"outcome", report.Outcome,
		"processed", report.ItemsProcessed,
		"failed", report.ItemsFailed,
		"attempts", report.Attempts,
	}
	if report.Outcome == core.OutcomeFailed {
		logger.Error("stage finished", append(logArgs, "err", report.Error)...)
	} else {
		logger.Info("stage finished", logArgs...)
	}
	return abort
}

func outcomeOf(result stageResult, err error) core.Outcome {
	switch {
	case err == nil && result.skipped:
		return core.OutcomeSkipped
	case result.processed == 0 && (err != nil || result.failed > 0):
		return core.OutcomeFailed
	case err != nil || result.failed > 0:
		return core.OutcomePartial
	default:
		return core.OutcomeSuccess
	}
}

func (o *Orchestrator) skip(run *core.PipelineRun, stage core.Stage, reason string) {
	now := o.clock().UTC()
	run.Stages = append(run.Stages, core.StageReport{
		Stage:      stage,
		Outcome:    core.OutcomeSkipped,
		Error:      reason,
		StartedAt:  now,
		FinishedAt: now,
	})
	o.logger.Warn("stage skipped", "run", run.ID, "stage", stage, "reason", reason)
}

func (o *Orchestrator) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.pingTimeout)
	defer cancel()
	return o.store.Ping(pingCtx)
}

// record persists run and hands it to every recorder. Failures are logged.
func (o *Orchestrator) record(ctx context.Context, run *core.PipelineRun) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.store.SaveRun(recordCtx, run); err != nil {
		o.logger.Error("failed to save pipeline run", "run", run.ID, "err", err)
	}
	for _, r := range o.recorders {
		if err := r.RecordRun(recordCtx, run); err != nil {
			o.logger.Warn("failed to record pipeline run", "run", run.ID, "err", err)
		}
	}
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
