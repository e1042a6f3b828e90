// Package counterstore is the shared counter backend of the rate limiter.
//
// The limiter needs exactly one thing from its store: an atomic
// increment-and-schedule-expiry on a key, so that every process fronting the
// same API observes one global count per window. Redis provides this with
// INCR + EXPIREAT inside MULTI/EXEC. Memory provides the same semantics for a
// single process.
//
// Every failure to reach or talk to the backend is reported as an error that
// matches ErrUnavailable; callers choose whether that admits or rejects.
package counterstore
