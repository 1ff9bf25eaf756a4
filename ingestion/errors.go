package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/contentpulse/core"
)

var (
	// ErrItemStoreRequired is returned when an item store is not provided.
	ErrItemStoreRequired = errors.New("item store required")

	// ErrAdapterRequired is returned when a feed has no adapter.
	ErrAdapterRequired = errors.New("adapter required")
)

var (
	// ErrSourceUnavailable indicates a source could not be reached or returned
	// an unusable answer. Worth retrying on the next cycle.
	ErrSourceUnavailable = fmt.Errorf("source unavailable: %w", core.ErrTransientExternal)

	// ErrAuthentication indicates the source rejected our credentials.
	ErrAuthentication = fmt.Errorf("source authentication failed: %w", core.ErrPermanentExternal)

	// ErrEmptyContent indicates a raw item with no usable text after cleaning.
	ErrEmptyContent = fmt.Errorf("empty content: %w", core.ErrDataIntegrity)
)
