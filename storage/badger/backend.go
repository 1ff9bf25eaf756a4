package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/storage"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// maxConflictRetries bounds how often a read-modify-write is replayed
	// after badger reports a conflicting concurrent commit.
	maxConflictRetries = 32

	pingKey = "__contentpulse_ping"
)

// Backend wraps a badgerhold store and provides low-level operations.
type Backend struct {
	store  *badgerhold.Store
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	opts := badgerhold.DefaultOptions

	if inMemory {
		opts.Options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts.Options = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		store:  store,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.store.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.store.Badger().IsClosed()
}

// Ping verifies the database can serve a read transaction.
func (b *Backend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.IsClosed() {
		return storage.ErrStorageClosed
	}
	err := b.store.Badger().View(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte(pingKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return wrapErr(err)
}

// WithTx executes fn within a read-write transaction and commits it.
// Commits that conflict with a concurrent writer are replayed so each
// read-modify-write observes the latest committed state.
func (b *Backend) WithTx(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if b.IsClosed() {
		return storage.ErrStorageClosed
	}
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.store.Badger().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return wrapErr(err)
		}
		b.logger.Debug("transaction conflict, retrying", "attempt", attempt)
	}
	return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
}

// WithReadTx executes fn within a read-only transaction.
func (b *Backend) WithReadTx(fn func(tx *badger.Txn) error) error {
	if b.IsClosed() {
		return storage.ErrStorageClosed
	}
	return wrapErr(b.store.Badger().View(fn))
}

// wrapErr maps backend errors onto the storage error contract. Domain
// errors raised inside transaction callbacks pass through unchanged.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerhold.ErrNotFound), errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrStorageClosed
	case errors.Is(err, core.ErrDataIntegrity),
		errors.Is(err, core.ErrStoreUnavailable),
		errors.Is(err, core.ErrInvalidContentItem),
		errors.Is(err, core.ErrInvalidSuggestion),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
}
