// Package guard applies the fixed-window limiter at the request boundary.
//
// A Guard is built once with the shared limiter, reporter and policies; each
// route gets its own middleware from Guard.Middleware with the route's Rule.
// Per request the guard:
//
//  1. admits immediately when rate limiting is switched off,
//  2. builds the scope key "rate-limit/<operation>/<client>/",
//  3. counts the request in its window,
//  4. publishes the window in the request context (ratelimit.FromContext),
//  5. rejects with the over-limit payload, or lets the request through.
//
// A counter store failure is never silent: it is logged at error level and
// resolved by the configured FailPolicy.
package guard
