package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies between the client and
	// this server that append to X-Forwarded-For. 0 ignores the header,
	// 1 takes the rightmost entry, 2 the one before it, and so on.
	TrustedHops int

	// KeepForwarded leaves X-Forwarded-For and X-Forwarded-Proto on the
	// request even when they are not trusted for the client address.
	// Forwarded scope policies read the header themselves.
	KeepForwarded bool
}

// ClientIP resolves the client address of each request and stores it in the
// request context, where ClientIPFromContext finds it.
func ClientIP(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// PeerIP is the host part of r.RemoteAddr.
func PeerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func resolveClientIP(r *http.Request, opts ClientIPOptions) string {
	peer := PeerIP(r)
	ip := net.ParseIP(peer)
	if ip == nil {
		return "0.0.0.0"
	}

	distrust := func() string {
		if !opts.KeepForwarded {
			r.Header.Del("X-Forwarded-For")
			r.Header.Del("X-Forwarded-Proto")
		}
		return peer
	}

	// forwarded headers only mean something when a proxy of ours set them
	if opts.TrustedHops <= 0 || !(ip.IsPrivate() || ip.IsLoopback()) {
		return distrust()
	}

	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 {
		return peer
	}
	parts := strings.Split(strings.Join(xff, ","), ",")
	idx := len(parts) - opts.TrustedHops
	if idx < 0 {
		// fewer entries than proxies: misconfigured or forged
		return distrust()
	}
	if c := strings.TrimSpace(parts[idx]); net.ParseIP(c) != nil {
		return c
	}
	return peer
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
