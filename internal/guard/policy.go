package guard

import (
	"net"
	"net/http"
	"strings"

	"github.com/keithlinneman/windowguard/internal/httpmw"
)

// ScopePolicy decides what a request is counted against.
type ScopePolicy interface {
	// ResolveOperationID names the protected operation, e.g. a route pattern.
	ResolveOperationID(r *http.Request) string
	// ResolveClientScope names the client, e.g. its address.
	ResolveClientScope(r *http.Request) string
}

// ScopeKey is the counter namespace of one client on one operation.
func ScopeKey(operation, client string) string {
	return "rate-limit/" + operation + "/" + client + "/"
}

// ForwardedPolicy counts per route pattern and per originating client as
// claimed by the first X-Forwarded-For entry, falling back to the peer
// address. Use it when the service sits behind proxies that overwrite the
// header; otherwise clients can choose their own scope.
type ForwardedPolicy struct{}

func (ForwardedPolicy) ResolveOperationID(r *http.Request) string { return httpmw.RoutePattern(r) }

func (ForwardedPolicy) ResolveClientScope(r *http.Request) string {
	if first := firstForwarded(r); first != "" {
		return first
	}
	return httpmw.PeerIP(r)
}

// firstForwarded returns the first X-Forwarded-For address, or "" when the
// header is missing or its first entry is not an IP.
func firstForwarded(r *http.Request) string {
	vals := r.Header.Values("X-Forwarded-For")
	if len(vals) == 0 {
		return ""
	}
	first, _, _ := strings.Cut(vals[0], ",")
	first = strings.TrimSpace(first)
	if net.ParseIP(first) == nil {
		return ""
	}
	return first
}

// TrustedProxyPolicy counts per route pattern and per client address as
// resolved by httpmw.ClientIP, which honours only trusted proxy hops.
type TrustedProxyPolicy struct{}

func (TrustedProxyPolicy) ResolveOperationID(r *http.Request) string { return httpmw.RoutePattern(r) }

func (TrustedProxyPolicy) ResolveClientScope(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return httpmw.PeerIP(r)
}

// PolicyFuncs builds a ScopePolicy from functions. A nil field falls back to
// ForwardedPolicy.
type PolicyFuncs struct {
	Operation func(*http.Request) string
	Client    func(*http.Request) string
}

func (p PolicyFuncs) ResolveOperationID(r *http.Request) string {
	if p.Operation != nil {
		return p.Operation(r)
	}
	return ForwardedPolicy{}.ResolveOperationID(r)
}

func (p PolicyFuncs) ResolveClientScope(r *http.Request) string {
	if p.Client != nil {
		return p.Client(r)
	}
	return ForwardedPolicy{}.ResolveClientScope(r)
}
