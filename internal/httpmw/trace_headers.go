package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader is set on every response, rejections included, so a client
// complaint about a 400 can be matched to its trace.
const TraceIDHeader = "X-Trace-Id"

// EchoTraceID sets TraceIDHeader from the request's span context. The span ID
// is added only for sampled traces, unsampled span IDs lead nowhere.
func EchoTraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanContextFromContext(r.Context())
		if sc.HasTraceID() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
			if sc.IsSampled() && sc.HasSpanID() {
				w.Header().Set("X-Span-Id", sc.SpanID().String())
			}
		}
		next.ServeHTTP(w, r)
	})
}
