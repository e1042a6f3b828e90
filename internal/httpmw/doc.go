// Package httpmw holds the generic HTTP middleware of the proxy.
//
// httpserver.NewHandler composes them outermost first: recover, request ID,
// client IP, tracing, response trace headers, metrics, request logger, then
// the chi router with access logging, body limits and route annotation.
// Rate limiting itself lives in package guard and is mounted per route.
//
// Query strings and user supplied headers are kept out of log lines.
package httpmw
