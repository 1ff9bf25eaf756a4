package embedding

import (
	"errors"
	"fmt"

	"github.com/poiesic/contentpulse/core"
)

var (
	// ErrItemStoreRequired is returned when an item store is not provided.
	ErrItemStoreRequired = errors.New("item store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidBatchSize is returned for a batch size below 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

var (
	// ErrVectorCountMismatch indicates the embedder returned a different
	// number of vectors than texts it was given.
	ErrVectorCountMismatch = fmt.Errorf("embedding count mismatch: %w", core.ErrDataIntegrity)

	// ErrTextTooShort indicates an item with too little text to embed.
	ErrTextTooShort = fmt.Errorf("text too short to embed: %w", core.ErrDataIntegrity)
)
