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
	"fmt"
	"strings"
)

// ValidateContentItem validates a ContentItem before its first write.
//
// Validation rules:
//   - Identity must not be empty
//   - Source must be a known source
//   - Text must not be blank
//
// NOT validated (populated by stages):
//   - Embedding (absent until the embedding stage runs)
//   - Status (defaulted by the store)
func ValidateContentItem(item *ContentItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidContentItem)
	}

	if item.Identity == "" {
		return fmt.Errorf("%w: %w", ErrInvalidContentItem, ErrEmptyIdentity)
	}

	if err := ValidateSource(item.Source); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContentItem, err)
	}

	if strings.TrimSpace(item.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidContentItem, ErrEmptyText)
	}

	return nil
}

// ValidateSuggestion validates a Suggestion before it is persisted.
func ValidateSuggestion(s *Suggestion) error {
	if s == nil {
		return fmt.Errorf("%w: suggestion is nil", ErrInvalidSuggestion)
	}
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSuggestion, ErrEmptyTopic)
	}
	if len(s.Keywords) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSuggestion, ErrNoKeywords)
	}
	if strings.TrimSpace(s.Rationale) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSuggestion, ErrEmptyRationale)
	}
	if len(s.SourceItemIDs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSuggestion, ErrNoEvidence)
	}
	return nil
}

// ValidateSource validates that a Source has a known value.
func ValidateSource(source Source) error {
	for _, s := range Sources {
		if s == source {
			return nil
		}
	}
	return fmt.Errorf("%w: value %q", ErrInvalidSource, source)
}
