package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/synthesis"
)

func (o *Orchestrator) scrape(ctx context.Context) (stageResult, error) {
	result, err := o.stages.Ingest.Run(ctx)
	out := stageResult{
		processed: result.Stored,
		failed:    result.Failed + len(result.SourceErrors),
	}
	if err != nil {
		return out, err
	}

	errs := make([]error, 0, len(result.SourceErrors))
	for key, sourceErr := range result.SourceErrors {
		errs = append(errs, fmt.Errorf("%s: %w", key, sourceErr))
	}
	return out, errors.Join(errs...)
}

// embedWith returns the Embedding stage of c. Failed items are requeued once
// per source and cycle, so items that fail during an attempt stay failed
// when the stage is retried.
func (c *cycle) embedWith(o *Orchestrator) stageFunc {
	return func(ctx context.Context) (stageResult, error) {
		var (
			out  stageResult
			errs []error
		)
		for _, source := range o.sources {
			if !c.requeued[source] {
				if _, err := o.stages.Embed.Requeue(ctx, source); err != nil {
					if errors.Is(err, core.ErrStoreUnavailable) || ctx.Err() != nil {
						return out, fmt.Errorf("embedding %s: %w", source, err)
					}
					errs = append(errs, fmt.Errorf("embedding %s: %w", source, err))
					continue
				}
				c.requeued[source] = true
			}
			result, err := o.stages.Embed.Run(ctx, source, o.batchSize)
			out.processed += result.Succeeded
			out.failed += result.Failed
			if err != nil {
				if errors.Is(err, core.ErrStoreUnavailable) || ctx.Err() != nil {
					return out, fmt.Errorf("embedding %s: %w", source, err)
				}
				errs = append(errs, fmt.Errorf("embedding %s: %w", source, err))
			}
		}
		return out, errors.Join(errs...)
	}
}

// retrieveWith returns the Retrieving stage of c. Every attempt rebuilds the
// candidate sets from scratch.
func (c *cycle) retrieveWith(o *Orchestrator) stageFunc {
	return func(ctx context.Context) (stageResult, error) {
		var (
			out  stageResult
			errs []error
		)
		c.sets = c.sets[:0]
		for _, topic := range o.topics {
			candidates, err := o.stages.Retrieve.RetrieveForQueries(ctx, topic.Queries, o.sources, o.perSourceLimit)
			if err != nil {
				if errors.Is(err, core.ErrStoreUnavailable) {
					return out, fmt.Errorf("retrieving %s: %w", topic.Name, err)
				}
				out.failed++
				errs = append(errs, fmt.Errorf("retrieving %s: %w", topic.Name, err))
				continue
			}
			out.processed += len(candidates)
			c.sets = append(c.sets, candidateSet{topic: topic, candidates: candidates})
		}
		return out, errors.Join(errs...)
	}
}

// synthesizeWith returns the Synthesizing stage of c. Sets that produced a
// suggestion or failed permanently are not attempted again within the cycle,
// so counts accumulate across attempts.
func (c *cycle) synthesizeWith(o *Orchestrator) stageFunc {
	return func(ctx context.Context) (stageResult, error) {
		var pending []candidateSet
		for _, set := range c.sets {
			if len(set.candidates) > 0 && !c.synthesized[set.topic.Name] {
				pending = append(pending, set)
			}
		}
		if len(pending) == 0 {
			o.logger.Info("no candidates to synthesize", "run", c.run.ID)
			return stageResult{skipped: true}, nil
		}

		var (
			out  stageResult
			errs []error
			mu   sync.Mutex
			wg   sync.WaitGroup
		)
		finish := func(set candidateSet, err error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				c.suggested++
				c.synthesized[set.topic.Name] = true
			case errors.Is(err, synthesis.ErrMalformedOutput),
				errors.Is(err, core.ErrPermanentExternal),
				errors.Is(err, core.ErrDataIntegrity):
				// Abandoned for this cycle.
				c.abandoned++
				c.synthesized[set.topic.Name] = true
				o.logger.Warn("abandoning candidate set", "topic", set.topic.Name, "err", err)
			default:
				out.failed++
				errs = append(errs, fmt.Errorf("synthesizing %s: %w", set.topic.Name, err))
			}
		}

		for _, set := range pending {
			wg.Add(1)
			err := o.synthesisPool.Submit(func() {
				defer wg.Done()
				_, err := o.stages.Synthesize.Synthesize(ctx, set.candidates, set.topic.hint())
				finish(set, err)
			})
			if err != nil {
				wg.Done()
				finish(set, err)
			}
		}
		wg.Wait()

		out.processed = c.suggested
		out.failed += c.abandoned
		return out, errors.Join(errs...)
	}
}
