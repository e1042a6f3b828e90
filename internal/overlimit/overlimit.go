// Package overlimit turns a rejected window into the client-facing rejection
// and keeps a per-day count of rejections for reporting.
package overlimit

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/ratelimit"
)

const (
	DefaultBuffer = 10
	DefaultStatus = http.StatusBadRequest

	// AggregatePrefix starts every aggregate rejection counter key.
	AggregatePrefix = "triggered/"
)

// Rejection is the payload returned instead of running a guarded operation.
type Rejection struct {
	Error   bool   `json:"error"`
	Message string `json:"msg"`
	Status  int    `json:"-"`
}

// Incrementer is the part of counterstore.Store the reporter needs.
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

type Reporter struct {
	store  Incrementer
	buffer int64
	status int
	now    func() time.Time
	logger log.Logger

	sampler    *rate.Limiter
	suppressed atomic.Int64

	onReport func(ratelimit.Window)
}

type Option func(*Reporter)

// WithBuffer sets how far below the real limit the advertised limit is.
func WithBuffer(n int64) Option { return func(r *Reporter) { r.buffer = n } }

func WithStatus(code int) Option { return func(r *Reporter) { r.status = code } }

func WithClock(now func() time.Time) Option { return func(r *Reporter) { r.now = now } }

// WithLogger pins the logger; by default the request's context logger is used.
func WithLogger(l log.Logger) Option { return func(r *Reporter) { r.logger = l } }

// WithLogRate caps rejection log lines per second. Lines over the cap are
// counted and the count is attached to the next line that is written.
// perSecond <= 0 disables sampling.
func WithLogRate(perSecond float64, burst int) Option {
	return func(r *Reporter) {
		if perSecond <= 0 {
			r.sampler = nil
			return
		}
		r.sampler = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithOnReport is called for every rejection, e.g. to count it in metrics.
func WithOnReport(fn func(ratelimit.Window)) Option { return func(r *Reporter) { r.onReport = fn } }

func New(store Incrementer, opts ...Option) *Reporter {
	r := &Reporter{
		store:  store,
		buffer: DefaultBuffer,
		status: DefaultStatus,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AggregateKey names the counter of rejections for scopeKey on the UTC day of at.
func AggregateKey(scopeKey string, at time.Time) string {
	return AggregatePrefix + scopeKey + at.UTC().Format(time.DateOnly)
}

// Message is the human readable rejection text for w. The advertised figure
// is the limit less the buffer, or the limit itself when that would be < 1.
func (r *Reporter) Message(w ratelimit.Window) string {
	n := w.Limit - r.buffer
	if n < 1 {
		n = w.Limit
	}
	return "Rate Limit Reached. Please limit consecutive requests to no more than " +
		strconv.FormatInt(n, 10) + " every " + strconv.FormatInt(w.Period, 10) + "s."
}

// Report records the rejection of w and returns the payload to send. Failing
// to record never changes the payload.
func (r *Reporter) Report(ctx context.Context, w ratelimit.Window) Rejection {
	l := r.logger
	if l == nil {
		l = log.FromContext(ctx)
	}

	key := AggregateKey(w.ScopeKey, r.now())
	if _, err := r.store.Incr(ctx, key); err != nil {
		l.Error(ctx, err, "rate limit rejection not recorded", "aggregate_key", key)
	}

	if r.onReport != nil {
		r.onReport(w)
	}

	if r.sampler == nil || r.sampler.Allow() {
		kv := []any{"window_key", w.Key, "limit", w.Limit, "count", w.Count, "reset", w.Reset}
		if n := r.suppressed.Swap(0); n > 0 {
			kv = append(kv, "suppressed", n)
		}
		l.Warn(ctx, "rate limit reached", kv...)
	} else {
		r.suppressed.Add(1)
	}

	return Rejection{Error: true, Message: r.Message(w), Status: r.status}
}
