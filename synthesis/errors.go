package synthesis

import (
	"errors"
	"fmt"

	"github.com/poiesic/contentpulse/core"
)

var (
	// ErrSuggestionStoreRequired is returned when a suggestion store is not provided.
	ErrSuggestionStoreRequired = errors.New("suggestion store required")

	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrNoCandidates is returned when Synthesize is called with an empty set.
	ErrNoCandidates = errors.New("candidate set is empty")

	// ErrMalformedOutput indicates model output that could not be parsed or
	// failed validation.
	ErrMalformedOutput = fmt.Errorf("malformed model output: %w", core.ErrDataIntegrity)
)
