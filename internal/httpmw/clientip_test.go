package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolve(t *testing.T, opts ClientIPOptions, remote, xff string) (ip string, r *http.Request) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	var seen *http.Request
	ClientIP(opts)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = ClientIPFromContext(r.Context())
		seen = r
	})).ServeHTTP(httptest.NewRecorder(), req)
	return ip, seen
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		opts   ClientIPOptions
		remote string
		xff    string
		want   string
	}{
		{"no proxies ignores xff", ClientIPOptions{}, "10.0.0.5:4000", "1.2.3.4", "10.0.0.5"},
		{"one hop takes rightmost", ClientIPOptions{TrustedHops: 1}, "10.0.0.5:4000", "9.9.9.9, 1.2.3.4", "1.2.3.4"},
		{"two hops", ClientIPOptions{TrustedHops: 2}, "10.0.0.5:4000", "9.9.9.9, 1.2.3.4, 10.0.0.9", "1.2.3.4"},
		{"public peer is never trusted", ClientIPOptions{TrustedHops: 1}, "8.8.8.8:4000", "1.2.3.4", "8.8.8.8"},
		{"too few entries", ClientIPOptions{TrustedHops: 3}, "10.0.0.5:4000", "1.2.3.4", "10.0.0.5"},
		{"garbage entry", ClientIPOptions{TrustedHops: 1}, "10.0.0.5:4000", "not-an-ip", "10.0.0.5"},
		{"loopback peer", ClientIPOptions{TrustedHops: 1}, "127.0.0.1:4000", "1.2.3.4", "1.2.3.4"},
		{"ipv6 peer", ClientIPOptions{}, "[2001:db8::1]:443", "", "2001:db8::1"},
		{"malformed peer", ClientIPOptions{}, "bogus", "", "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := resolve(t, tt.opts, tt.remote, tt.xff); got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_StripsUntrustedHeaders(t *testing.T) {
	_, r := resolve(t, ClientIPOptions{}, "8.8.8.8:1", "1.2.3.4")
	if r.Header.Get("X-Forwarded-For") != "" {
		t.Fatal("untrusted X-Forwarded-For should be removed")
	}
}

func TestClientIP_KeepForwarded(t *testing.T) {
	_, r := resolve(t, ClientIPOptions{KeepForwarded: true}, "8.8.8.8:1", "1.2.3.4")
	if r.Header.Get("X-Forwarded-For") != "1.2.3.4" {
		t.Fatal("KeepForwarded should leave the header in place")
	}
}

func TestPeerIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := PeerIP(r); got != "192.0.2.1" {
		t.Fatalf("PeerIP = %q", got)
	}
	r.RemoteAddr = "192.0.2.1"
	if got := PeerIP(r); got != "192.0.2.1" {
		t.Fatalf("PeerIP without port = %q", got)
	}
}
