package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/windowguard/internal/httpmw"
)

func TestScopeKey(t *testing.T) {
	if got := ScopeKey("search", "1.2.3.4"); got != "rate-limit/search/1.2.3.4/" {
		t.Fatalf("ScopeKey = %q", got)
	}
}

func TestForwardedPolicy_Client(t *testing.T) {
	tests := []struct {
		name string
		xff  []string
		want string
	}{
		{"no header", nil, "192.0.2.10"},
		{"single", []string{"203.0.113.1"}, "203.0.113.1"},
		{"chain", []string{"203.0.113.1, 198.51.100.2"}, "203.0.113.1"},
		{"repeated headers", []string{"203.0.113.1", "198.51.100.2"}, "203.0.113.1"},
		{"not an ip", []string{"evil/../key, 203.0.113.1"}, "192.0.2.10"},
		{"ipv6", []string{"2001:db8::7"}, "2001:db8::7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
			r.RemoteAddr = "192.0.2.10:443"
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if got := (ForwardedPolicy{}).ResolveClientScope(r); got != tt.want {
				t.Fatalf("client = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrustedProxyPolicy_Client(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	r.RemoteAddr = "10.0.0.1:1"
	if got := (TrustedProxyPolicy{}).ResolveClientScope(r); got != "10.0.0.1" {
		t.Fatalf("fallback = %q", got)
	}
	r = r.WithContext(httpmw.WithClientIP(r.Context(), "198.51.100.4"))
	if got := (TrustedProxyPolicy{}).ResolveClientScope(r); got != "198.51.100.4" {
		t.Fatalf("client = %q", got)
	}
}

func TestPolicyFuncs(t *testing.T) {
	p := PolicyFuncs{Client: func(r *http.Request) string { return r.Header.Get("X-Api-Key") }}
	r := httptest.NewRequest(http.MethodGet, "/v1/thing", http.NoBody)
	r.Header.Set("X-Api-Key", "k-123")

	if got := p.ResolveClientScope(r); got != "k-123" {
		t.Fatalf("client = %q", got)
	}
	if got := p.ResolveOperationID(r); got != "/v1/thing" {
		t.Fatalf("operation falls back to path, got %q", got)
	}
}
