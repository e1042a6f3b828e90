package guard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/keithlinneman/windowguard/internal/overlimit"
	"github.com/keithlinneman/windowguard/internal/ratelimit"
)

// ErrInvalidRule marks a rule that cannot be enforced. It is a startup
// error, never a per-request one.
var ErrInvalidRule = errors.New("invalid rate limit rule")

// OverLimitHandler answers a rejected request in place of the operation.
type OverLimitHandler func(w http.ResponseWriter, r *http.Request, win ratelimit.Window)

// Rule is the limit applied to one guarded operation.
type Rule struct {
	// Name overrides the operation identifier from the scope policy.
	Name   string
	Limit  int64
	Period time.Duration

	// Policy overrides the guard's scope policy for this rule.
	Policy ScopePolicy
	// OverLimit replaces the default rejection, which records the rejection
	// with the guard's reporter and writes its JSON payload.
	OverLimit OverLimitHandler
}

func (r Rule) Validate() error {
	if err := ratelimit.CheckLimit(r.Limit, r.Period); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRule, r.Name, err)
	}
	return nil
}

// StoreUnavailable is the payload sent when the counter store is down and the
// fail policy is closed.
var StoreUnavailable = overlimit.Rejection{
	Error:   true,
	Message: "Rate limiting unavailable. Please retry later.",
	Status:  http.StatusServiceUnavailable,
}
