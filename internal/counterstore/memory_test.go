package counterstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_ExpiresAtDeadline(t *testing.T) {
	clk := &fakeClock{now: t0}
	m := NewMemory(WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.IncrementAndExpireAt(ctx, "k", t0.Add(110*time.Second)); err != nil {
			t.Fatalf("IncrementAndExpireAt: %v", err)
		}
	}
	if ttl, ok := m.TTL("k"); !ok || ttl != 110*time.Second {
		t.Fatalf("TTL = %s, %v", ttl, ok)
	}

	clk.Advance(109 * time.Second)
	if n, _ := m.Get(ctx, "k"); n != 3 {
		t.Fatalf("before expiry Get = %d, want 3", n)
	}

	clk.Advance(time.Second)
	if n, _ := m.Get(ctx, "k"); n != 0 {
		t.Fatalf("after expiry Get = %d, want 0", n)
	}
	if n, _ := m.IncrementAndExpireAt(ctx, "k", t0.Add(300*time.Second)); n != 1 {
		t.Fatalf("a fresh window should restart at 1, got %d", n)
	}
}

func TestMemory_PastExpiryDeletes(t *testing.T) {
	m := NewMemory(WithClock(func() time.Time { return t0 }))
	n, err := m.IncrementAndExpireAt(context.Background(), "k", t0.Add(-time.Second))
	if err != nil || n != 1 {
		t.Fatalf("IncrementAndExpireAt = %d, %v", n, err)
	}
	if got, _ := m.Get(context.Background(), "k"); got != 0 {
		t.Fatalf("key should not survive an expiry in the past, got %d", got)
	}
}

func TestMemory_IncrNeverExpires(t *testing.T) {
	clk := &fakeClock{now: t0}
	m := NewMemory(WithClock(clk.Now))
	_, _ = m.Incr(context.Background(), "triggered/a")
	clk.Advance(365 * 24 * time.Hour)
	if n, _ := m.Get(context.Background(), "triggered/a"); n != 1 {
		t.Fatalf("Get = %d, want 1", n)
	}
	if _, ok := m.TTL("triggered/a"); ok {
		t.Fatal("Incr should not set an expiry")
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrementAndExpireAt(context.Background(), "k", time.Now().Add(time.Minute))
		}()
	}
	wg.Wait()
	if got, _ := m.Get(context.Background(), "k"); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
}

func TestMemory_Match(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.Incr(ctx, "triggered/rate-limit/search/1.1.1.1/2026-10-16")
	_, _ = m.Incr(ctx, "triggered/rate-limit/search/1.1.1.1/2026-10-16")
	_, _ = m.Incr(ctx, "triggered/rate-limit/search/1.1.1.1/2026-10-15")

	got, err := m.Match(ctx, "triggered/*2026-10-16")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 1 || got["triggered/rate-limit/search/1.1.1.1/2026-10-16"] != 2 {
		t.Fatalf("Match = %v", got)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"triggered/*", "triggered/rate-limit/a/b/2026-10-16", true},
		{"triggered/*2026-10-16", "triggered/x/2026-10-16", true},
		{"triggered/*2026-10-16", "triggered/x/2026-10-17", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*/*/", "rate-limit/op/", true},
		{"rate-limit/", "rate-limit/x", false},
	}
	for _, tt := range tests {
		if got := globMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
