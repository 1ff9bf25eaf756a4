package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/contentpulse/core"
	"github.com/timshannon/badgerhold/v4"
)

// SaveRun persists a pipeline run, replacing any earlier snapshot with the same ID.
func (s *Store) SaveRun(ctx context.Context, run *core.PipelineRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}
	return s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return s.backend.store.TxUpsert(tx, run.ID, run)
	})
}

// RecentRuns returns up to limit runs, most recently started first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*core.PipelineRun, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []core.PipelineRun
	err := s.backend.WithReadTx(func(tx *badger.Txn) error {
		return s.backend.store.TxFind(tx, &records, query)
	})
	if err != nil {
		return nil, err
	}

	runs := make([]*core.PipelineRun, len(records))
	for i := range records {
		runs[i] = &records[i]
	}
	return runs, nil
}

// DeleteRunsOlderThan removes runs started before cutoff.
func (s *Store) DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		deleted = 0
		var doomed []core.PipelineRun
		if err := s.backend.store.TxFind(tx, &doomed, badgerhold.Where("StartedAt").Lt(cutoff)); err != nil {
			return err
		}
		for _, run := range doomed {
			if err := s.backend.store.TxDelete(tx, run.ID, &core.PipelineRun{}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
