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

package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
	"github.com/timshannon/badgerhold/v4"
)

// SaveSuggestion validates and persists a suggestion. The evidence check and
// the write share one transaction, so a suggestion is never stored against an
// item that stopped being embedded.
func (s *Store) SaveSuggestion(ctx context.Context, suggestion *core.Suggestion) error {
	if err := core.ValidateSuggestion(suggestion); err != nil {
		return err
	}
	if suggestion.ID == "" {
		suggestion.ID = uuid.NewString()
	}
	if suggestion.GeneratedAt.IsZero() {
		suggestion.GeneratedAt = time.Now().UTC()
	}

	return s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, identity := range suggestion.SourceItemIDs {
			var item core.ContentItem
			err := s.backend.store.TxGet(tx, identity, &item)
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s not found", storage.ErrUnembeddedEvidence, identity)
			}
			if err != nil {
				return err
			}
			if item.Status != core.StatusEmbedded {
				return fmt.Errorf("%w: %s is %s", storage.ErrUnembeddedEvidence, identity, item.Status)
			}
		}
		return s.backend.store.TxUpsert(tx, suggestion.ID, suggestion)
	})
}

// RecentSuggestions returns up to limit suggestions, newest first.
func (s *Store) RecentSuggestions(ctx context.Context, limit int) ([]*core.Suggestion, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("GeneratedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []core.Suggestion
	err := s.backend.WithReadTx(func(tx *badger.Txn) error {
		return s.backend.store.TxFind(tx, &records, query)
	})
	if err != nil {
		return nil, err
	}

	suggestions := make([]*core.Suggestion, len(records))
	for i := range records {
		suggestions[i] = &records[i]
	}
	return suggestions, nil
}

// DeleteSuggestionsOlderThan removes suggestions generated before cutoff.
func (s *Store) DeleteSuggestionsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteSuggestions(ctx, badgerhold.Where("GeneratedAt").Lt(cutoff))
}

// TrimSuggestions removes the oldest suggestions until at most max remain.
func (s *Store) TrimSuggestions(ctx context.Context, max int) (int, error) {
	if max < 0 {
		return 0, fmt.Errorf("%w: max must not be negative", storage.ErrInvalidQuery)
	}
	query := badgerhold.Where("ID").Ne("").SortBy("GeneratedAt").Reverse()
	if max > 0 {
		query = query.Skip(max)
	}
	return s.deleteSuggestions(ctx, query)
}

func (s *Store) deleteSuggestions(ctx context.Context, query *badgerhold.Query) (int, error) {
	deleted := 0
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		deleted = 0
		var doomed []core.Suggestion
		if err := s.backend.store.TxFind(tx, &doomed, query); err != nil {
			return err
		}
		for _, suggestion := range doomed {
			if err := s.backend.store.TxDelete(tx, suggestion.ID, &core.Suggestion{}); err != nil {
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
