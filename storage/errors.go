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

package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/contentpulse/core"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = fmt.Errorf("storage is closed: %w", core.ErrStoreUnavailable)

	// ErrTransactionFailed indicates that a transaction kept conflicting.
	ErrTransactionFailed = fmt.Errorf("transaction failed: %w", core.ErrStoreUnavailable)

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the configured model dimensionality.
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch: %w", core.ErrDataIntegrity)

	// ErrUnembeddedEvidence indicates a suggestion referencing an item that
	// is missing or not embedded.
	ErrUnembeddedEvidence = fmt.Errorf("suggestion references unembedded item: %w", core.ErrDataIntegrity)
)
