package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keithlinneman/windowguard/internal/counterstore"
	"github.com/keithlinneman/windowguard/internal/xerrors"
)

const DefaultExpirationSlack = 10 * time.Second

// ErrInvalidLimit is returned for a limit below 1 or a period that is not a
// positive whole number of seconds.
var ErrInvalidLimit = errors.New("invalid rate limit")

type Limiter struct {
	store counterstore.Store
	slack time.Duration
	now   func() time.Time
}

type Option func(*Limiter)

// WithExpirationSlack sets how long a window counter outlives its reset.
func WithExpirationSlack(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.slack = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

func New(store counterstore.Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, slack: DefaultExpirationSlack, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CheckLimit validates a limit/period pair.
func CheckLimit(limit int64, period time.Duration) error {
	if limit < 1 {
		return fmt.Errorf("%w: limit %d must be >= 1", ErrInvalidLimit, limit)
	}
	if period < time.Second || period%time.Second != 0 {
		return fmt.Errorf("%w: period %s must be a whole number of seconds >= 1s", ErrInvalidLimit, period)
	}
	return nil
}

// Evaluate counts one request against the current window of scopeKey.
//
// The store is incremented exactly once. An error is returned for an invalid
// limit or when the store fails (matching counterstore.ErrUnavailable); being
// over the limit is not an error, see Window.OverLimit.
func (l *Limiter) Evaluate(ctx context.Context, scopeKey string, limit int64, period time.Duration) (Window, error) {
	if err := CheckLimit(limit, period); err != nil {
		return Window{}, err
	}
	secs := int64(period / time.Second)
	key, reset := ComputeWindow(scopeKey, secs, l.now().Unix())

	n, err := l.store.IncrementAndExpireAt(ctx, key, time.Unix(reset, 0).Add(l.slack))
	if err != nil {
		return Window{}, xerrors.Wrapf(err, "evaluate %s", key)
	}

	return Window{
		ScopeKey: scopeKey,
		Key:      key,
		Limit:    limit,
		Period:   secs,
		Reset:    reset,
		Current:  min(n, limit),
		Count:    n,
	}, nil
}
