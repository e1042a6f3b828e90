package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/overlimit"
)

var upstreamUnavailable = overlimit.Rejection{
	Error:   true,
	Message: "Upstream unavailable. Please retry later.",
	Status:  http.StatusBadGateway,
}

// NewProxy forwards admitted requests to target. The inbound X-Forwarded-For
// chain is kept and the peer address appended.
func NewProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if xff := pr.In.Header.Values("X-Forwarded-For"); len(xff) > 0 {
				pr.Out.Header["X-Forwarded-For"] = append([]string(nil), xff...)
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			rej := upstreamUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				rej.Status = http.StatusGatewayTimeout
			}
			if !errors.Is(err, context.Canceled) {
				log.FromContext(r.Context()).Error(r.Context(), err, "upstream request failed",
					"upstream", target.Host,
				)
			}
			guard.WriteRejection(w, rej)
		},
	}
}

// NewTransport is the upstream transport with bounded dial and header waits.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 64
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}
