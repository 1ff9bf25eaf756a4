// Package redislock implements pipeline.Locker on top of Redis so that only
// one replica runs a cycle at a time.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/contentpulse/pipeline"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a lock outlives a crashed holder.
const DefaultTTL = 3 * time.Hour

// release deletes the key only if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker holds cycle locks in Redis with SET NX and a TTL.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ pipeline.Locker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker) error

// WithTTL sets the lock expiry. Default is DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) error {
		if ttl <= 0 {
			return errors.New("lock ttl must be positive")
		}
		l.ttl = ttl
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// New creates a locker using client.
func New(client redis.UniversalClient, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	l := &Locker{
		client: client,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "redislock")
	return l, nil
}

// Dial connects to the Redis server at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return New(client, opts...)
}

// TryLock acquires key or returns pipeline.ErrLocked when someone else
// holds it.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}
	if !ok {
		return nil, pipeline.ErrLocked
	}
	l.logger.Debug("lock acquired", "key", key, "ttl", l.ttl)

	return func(ctx context.Context) error {
		n, err := release.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("unlocking %s: %w", key, err)
		}
		if n == 0 {
			l.logger.Warn("lock expired before release", "key", key)
		}
		return nil
	}, nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
