// Package health serves liveness and readiness.
//
// Readiness of the proxy is the shutdown gate, plus a bounded ping of the
// counter store when requests fail closed: a fail-closed instance with a
// dead store would reject everything, so it leaves rotation instead.
package health
