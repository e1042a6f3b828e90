package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/overlimit"
	"github.com/keithlinneman/windowguard/internal/ratelimit"
)

// Switch reports whether rate limiting is administratively disabled.
type Switch interface {
	Disabled() bool
}

type Outcome int

const (
	Admitted Outcome = iota
	Rejected
	// Bypassed: rate limiting is switched off, nothing was counted.
	Bypassed
	// Unavailable: the counter store failed, the fail policy decides.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	case Bypassed:
		return "bypassed"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Decision is the outcome of evaluating one request.
type Decision struct {
	Outcome   Outcome
	Operation string
	Window    ratelimit.Window
	Err       error
}

type Options struct {
	Limiter  *ratelimit.Limiter
	Reporter *overlimit.Reporter

	// Policy defaults to ForwardedPolicy.
	Policy ScopePolicy
	// Switch may be nil: always enabled.
	Switch Switch
	Fail   FailPolicy

	// SendHeaders adds X-RateLimit-Remaining, -Limit and -Reset.
	SendHeaders bool

	// RejectAtLimit rejects the request that fills the window, so only
	// Limit-1 requests are admitted. By default the first Limit are.
	RejectAtLimit bool

	// OnDecision observes every decision, e.g. for metrics.
	OnDecision func(r *http.Request, d Decision)
}

type Guard struct {
	limiter     *ratelimit.Limiter
	reporter    *overlimit.Reporter
	policy      ScopePolicy
	sw          Switch
	fail        FailPolicy
	sendHeaders bool
	atLimit     bool
	onDecision  func(*http.Request, Decision)
}

func New(opts Options) (*Guard, error) {
	if opts.Limiter == nil || opts.Reporter == nil {
		return nil, errors.New("guard: limiter and reporter are required")
	}
	g := &Guard{
		limiter:     opts.Limiter,
		reporter:    opts.Reporter,
		policy:      opts.Policy,
		sw:          opts.Switch,
		fail:        opts.Fail,
		sendHeaders: opts.SendHeaders,
		atLimit:     opts.RejectAtLimit,
		onDecision:  opts.OnDecision,
	}
	if g.policy == nil {
		g.policy = ForwardedPolicy{}
	}
	return g, nil
}

// ReadsForwarded reports whether the default scope policy reads
// X-Forwarded-For itself, so the header must reach the guard untouched.
func (g *Guard) ReadsForwarded() bool {
	_, ok := g.policy.(ForwardedPolicy)
	return ok
}

// Decide counts r against rule and classifies the result. It does not write
// a response or report rejections.
func (g *Guard) Decide(r *http.Request, rule Rule) Decision {
	if g.sw != nil && g.sw.Disabled() {
		return Decision{Outcome: Bypassed}
	}

	policy := rule.Policy
	if policy == nil {
		policy = g.policy
	}
	op := rule.Name
	if op == "" {
		op = policy.ResolveOperationID(r)
	}
	scope := ScopeKey(op, policy.ResolveClientScope(r))

	w, err := g.limiter.Evaluate(r.Context(), scope, rule.Limit, rule.Period)
	switch {
	case err != nil:
		return Decision{Outcome: Unavailable, Operation: op, Err: err}
	case w.OverLimit(), g.atLimit && w.Exhausted():
		return Decision{Outcome: Rejected, Operation: op, Window: w}
	}
	return Decision{Outcome: Admitted, Operation: op, Window: w}
}

// Admit decides r and, when it must not proceed, writes the response. On
// proceed it returns r with the evaluated window in its context.
func (g *Guard) Admit(w http.ResponseWriter, r *http.Request, rule Rule) (*http.Request, bool) {
	d := g.Decide(r, rule)
	if g.onDecision != nil {
		g.onDecision(r, d)
	}
	ctx := r.Context()
	annotateSpan(ctx, d)

	switch d.Outcome {
	case Bypassed:
		return r, true

	case Unavailable:
		log.FromContext(ctx).Error(ctx, d.Err, "rate limit store unavailable",
			"operation", d.Operation,
			"fail_policy", g.fail.String(),
		)
		if g.fail == FailClosed {
			w.Header().Set("Retry-After", "1")
			WriteRejection(w, StoreUnavailable)
			return r, false
		}
		return r, true
	}

	r = r.WithContext(ratelimit.NewContext(ctx, d.Window))
	if g.sendHeaders {
		SetHeaders(w.Header(), d.Window)
	}
	if d.Outcome == Rejected {
		if rule.OverLimit != nil {
			rule.OverLimit(w, r, d.Window)
		} else {
			WriteRejection(w, g.reporter.Report(r.Context(), d.Window))
		}
		return r, false
	}
	return r, true
}

// Middleware guards next with rule. An invalid rule is reported here, at
// startup, rather than per request.
func (g *Guard) Middleware(rule Rule) (func(http.Handler) http.Handler, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r, ok := g.Admit(w, r, rule); ok {
				next.ServeHTTP(w, r)
			}
		})
	}, nil
}

// SetHeaders writes the informational X-RateLimit-* headers for win.
func SetHeaders(h http.Header, win ratelimit.Window) {
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(win.Remaining(), 10))
	h.Set("X-RateLimit-Limit", strconv.FormatInt(win.Limit, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(win.Reset, 10))
}

// WriteRejection writes rej as JSON with its status.
func WriteRejection(w http.ResponseWriter, rej overlimit.Rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(rej)
}

func annotateSpan(ctx context.Context, d Decision) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("ratelimit.outcome", d.Outcome.String())}
	if d.Window.Key != "" {
		attrs = append(attrs,
			attribute.String("ratelimit.window_key", d.Window.Key),
			attribute.Int64("ratelimit.count", d.Window.Count),
			attribute.Int64("ratelimit.limit", d.Window.Limit),
		)
	}
	span.SetAttributes(attrs...)
}
