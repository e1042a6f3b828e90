package counterstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// ErrUnavailable matches every connectivity, timeout or protocol failure.
var ErrUnavailable = errors.New("counter store unavailable")

type Store interface {
	// IncrementAndExpireAt atomically increments key and sets it to expire
	// at expireAt, returning the post-increment value.
	IncrementAndExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error)
	// Incr increments key without touching its expiry.
	Incr(ctx context.Context, key string) (int64, error)
	// Get returns the value of key, or 0 when it does not exist.
	Get(ctx context.Context, key string) (int64, error)
	// Match returns all keys matching a glob pattern with their values.
	// Only '*' and '?' are special.
	Match(ctx context.Context, pattern string) (map[string]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Observer receives the duration and outcome of every store round trip.
type Observer func(op string, elapsed time.Duration, err error)

func unavailable(op string, err error) error {
	return xerrors.WithStack(fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err))
}
