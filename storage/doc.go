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

// Package storage provides the storage abstraction layer for contentpulse.
//
// This package defines the store interfaces every pipeline stage reads and
// writes through. Stages never hold private copies of items or suggestions.
//
// # Architecture
//
//   - ItemStore: content items keyed by identity, vector search, retention
//   - SuggestionStore: synthesized suggestions and their evidence references
//   - RunStore: pipeline run records kept for observability
//   - Store: all of the above plus Close
//
// # Usage
//
// Open a store backed by BadgerDB:
//
//	store, err := badger.OpenStore("/path/to/db", 1024)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore(8)
//
// # Errors
//
// A missing single record is reported as ErrNotFound. Empty query results
// are not errors. Every backend failure wraps core.ErrStoreUnavailable so
// the orchestrator can tell an outage apart from an empty collection.
//
// # Thread Safety
//
// All store implementations must be thread-safe. Concurrent upserts to the
// same identity resolve as last-write-wins per field.
package storage
