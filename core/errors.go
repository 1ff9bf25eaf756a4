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

package core

import (
	"context"
	"errors"
)

// Error kinds. Package specific errors wrap one of these so callers can
// decide how to react with errors.Is.
var (
	// ErrTransientExternal covers network failures, timeouts and rate limiting.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrPermanentExternal covers authentication and validation failures.
	ErrPermanentExternal = errors.New("permanent external failure")

	// ErrDataIntegrity covers malformed model output and dimensionality mismatches.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrStoreUnavailable indicates the item store could not serve a request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Domain validation errors
var (
	// ErrInvalidContentItem indicates a ContentItem failed validation.
	ErrInvalidContentItem = errors.New("invalid content item")

	// ErrInvalidSuggestion indicates a Suggestion failed validation.
	ErrInvalidSuggestion = errors.New("invalid suggestion")

	// ErrEmptyIdentity indicates the Identity field is empty.
	ErrEmptyIdentity = errors.New("identity cannot be empty")

	// ErrInvalidSource indicates an unknown Source value.
	ErrInvalidSource = errors.New("invalid source")

	// ErrEmptyText indicates the Text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyTopic indicates the suggestion Topic field is empty.
	ErrEmptyTopic = errors.New("topic cannot be empty")

	// ErrNoKeywords indicates a suggestion without keywords.
	ErrNoKeywords = errors.New("keywords cannot be empty")

	// ErrEmptyRationale indicates the suggestion Rationale field is empty.
	ErrEmptyRationale = errors.New("rationale cannot be empty")

	// ErrNoEvidence indicates a suggestion that references no items.
	ErrNoEvidence = errors.New("suggestion must reference at least one item")
)

// IsTransient reports whether err is worth retrying. Deadline expiry of a
// single call counts as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientExternal) || errors.Is(err, context.DeadlineExceeded)
}
