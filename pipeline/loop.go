package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/poiesic/contentpulse/core"
)

// NextRun returns the next scheduled activation.
func (o *Orchestrator) NextRun() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.next
}

// due reports whether now has reached the next activation and, if so,
// advances the schedule past now.
func (o *Orchestrator) due(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if now.Before(o.next) {
		return false
	}
	o.next = nextAfter(o.schedule, now)
	return true
}

// Tick evaluates the schedule at now and runs a scheduled cycle when one is
// due. It returns a nil run when nothing was due.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) (*core.PipelineRun, error) {
	if !o.due(now) {
		return nil, nil
	}
	return o.RunCycle(ctx, core.TriggerSchedule)
}

// Start evaluates the schedule every interval until ctx is cancelled. Due
// cycles run in the background so ticks keep being evaluated; a tick that
// comes due while a cycle is still active is discarded. Start waits for the
// running cycle before returning.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("tick interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(o.heartbeat)
	defer heartbeat.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	o.logger.Info("scheduler started", "next", o.NextRun(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scheduler stopping")
			return nil
		case <-heartbeat.C:
			o.logger.Info("heartbeat", "stage", o.Current(), "next", o.NextRun())
		case <-ticker.C:
			if !o.due(o.clock()) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := o.RunCycle(ctx, core.TriggerSchedule); err != nil && !errors.Is(err, ErrCycleActive) {
					o.logger.Error("scheduled cycle failed", "err", err)
				}
			}()
		}
	}
}
