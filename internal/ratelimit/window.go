package ratelimit

import (
	"context"
	"strconv"
)

// Window is the outcome of evaluating one request against its window.
type Window struct {
	// ScopeKey identifies the operation and client; it ends in "/".
	ScopeKey string
	// Key is ScopeKey followed by the decimal Reset epoch.
	Key string

	Limit int64
	// Period is the window length in seconds.
	Period int64
	// Reset is the Unix time (seconds) at which the window ends.
	Reset int64

	// Current is the post-increment count capped at Limit.
	Current int64
	// Count is the post-increment count as stored.
	Count int64
}

// Remaining is how many more requests fit in the window; never negative.
func (w Window) Remaining() int64 { return max(w.Limit-w.Current, 0) }

// OverLimit reports whether this request exceeded the limit. The first Limit
// requests of a window are admitted.
func (w Window) OverLimit() bool { return w.Count > w.Limit }

// Exhausted reports whether the window has no capacity left for later
// requests (Current >= Limit). The request that fills the window is
// exhausted but not over limit.
func (w Window) Exhausted() bool { return w.Current >= w.Limit }

// ComputeWindow returns the counter key and reset time of the window that
// contains now. Both are pure functions of their inputs.
//
//	reset = floor(now/period)*period + period
func ComputeWindow(scopeKey string, periodSeconds, nowEpoch int64) (windowKey string, resetEpoch int64) {
	start := nowEpoch / periodSeconds * periodSeconds
	if nowEpoch < 0 && start != nowEpoch {
		// Go truncates toward zero; step back to the floor.
		start -= periodSeconds
	}
	resetEpoch = start + periodSeconds
	return scopeKey + strconv.FormatInt(resetEpoch, 10), resetEpoch
}

type windowKey struct{}

// NewContext returns a copy of ctx carrying w. Handlers downstream of the
// admission guard read it with FromContext.
func NewContext(ctx context.Context, w Window) context.Context {
	return context.WithValue(ctx, windowKey{}, w)
}

// FromContext returns the window evaluated for the current request, if any.
func FromContext(ctx context.Context) (Window, bool) {
	w, ok := ctx.Value(windowKey{}).(Window)
	return w, ok
}
