package retrieval

import "errors"

var (
	// ErrItemStoreRequired is returned when an item store is not provided.
	ErrItemStoreRequired = errors.New("item store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmptyQuery is returned when no query text or vector is given.
	ErrEmptyQuery = errors.New("query cannot be empty")
)
