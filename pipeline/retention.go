package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
)

// Retention bounds one collection. A zero field disables that bound.
type Retention struct {
	MaxAge   time.Duration
	MaxItems int
}

// RetentionPolicy holds the bounds applied by the Cleanup stage.
type RetentionPolicy struct {
	Items       Retention // applied to every source separately
	Suggestions Retention
	RunsMaxAge  time.Duration
}

// DefaultRetention keeps two weeks and at most 100 records per collection.
var DefaultRetention = RetentionPolicy{
	Items:       Retention{MaxAge: 14 * 24 * time.Hour, MaxItems: 100},
	Suggestions: Retention{MaxAge: 14 * 24 * time.Hour, MaxItems: 100},
	RunsMaxAge:  30 * 24 * time.Hour,
}

// Archiver receives items right before retention deletes them.
type Archiver interface {
	Archive(ctx context.Context, source core.Source, items []*core.ContentItem) error
}

// cleanup applies the retention policy to every source, to suggestions and
// to pipeline runs. A failed archive is reported but never holds back the
// deletes, so the bounds hold after every Cleanup.
func (o *Orchestrator) cleanup(ctx context.Context, now time.Time) (stageResult, error) {
	var (
		result stageResult
		errs   []error
	)
	items := o.retention.Items

	for _, source := range o.sources {
		if o.archiver != nil {
			expiring, err := o.expiring(ctx, source, now)
			if err != nil {
				return result, err
			}
			if len(expiring) > 0 {
				if err := o.archiver.Archive(ctx, source, expiring); err != nil {
					o.logger.Warn("archiving failed, deleting anyway", "source", source, "items", len(expiring), "err", err)
					result.failed += len(expiring)
					errs = append(errs, fmt.Errorf("archiving %s: %w", source, err))
				}
			}
		}

		if items.MaxAge > 0 {
			n, err := o.store.DeleteOlderThan(ctx, source, now.Add(-items.MaxAge))
			if err != nil {
				return result, fmt.Errorf("deleting expired %s items: %w", source, err)
			}
			result.processed += n
		}
		if items.MaxItems > 0 {
			n, err := o.store.TrimToCount(ctx, source, items.MaxItems)
			if err != nil {
				return result, fmt.Errorf("trimming %s items: %w", source, err)
			}
			result.processed += n
		}
	}

	suggestions := o.retention.Suggestions
	if suggestions.MaxAge > 0 {
		n, err := o.store.DeleteSuggestionsOlderThan(ctx, now.Add(-suggestions.MaxAge))
		if err != nil {
			return result, fmt.Errorf("deleting expired suggestions: %w", err)
		}
		result.processed += n
	}
	if suggestions.MaxItems > 0 {
		n, err := o.store.TrimSuggestions(ctx, suggestions.MaxItems)
		if err != nil {
			return result, fmt.Errorf("trimming suggestions: %w", err)
		}
		result.processed += n
	}
	if o.retention.RunsMaxAge > 0 {
		if _, err := o.store.DeleteRunsOlderThan(ctx, now.Add(-o.retention.RunsMaxAge)); err != nil {
			return result, fmt.Errorf("deleting expired runs: %w", err)
		}
	}

	return result, errors.Join(errs...)
}

// expiring lists the items of source the retention bounds are about to
// remove: those older than MaxAge and those beyond the newest MaxItems.
func (o *Orchestrator) expiring(ctx context.Context, source core.Source, now time.Time) ([]*core.ContentItem, error) {
	bounds := o.retention.Items
	all, err := o.store.Find(ctx, storage.ItemFilter{Source: source}, 0)
	if err != nil {
		return nil, fmt.Errorf("listing %s items: %w", source, err)
	}

	cutoff := now.Add(-bounds.MaxAge)
	var out []*core.ContentItem
	for i, item := range all {
		tooOld := bounds.MaxAge > 0 && item.PublishedAt.Before(cutoff)
		overCap := bounds.MaxItems > 0 && i >= bounds.MaxItems
		if tooOld || overCap {
			out = append(out, item)
		}
	}
	return out, nil
}
