package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/windowguard/internal/counterstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// 1700000100 is the start of a 300s window.
var windowStart = time.Unix(1700000100, 0)

func newTestLimiter(t *testing.T, clk *clock, opts ...Option) (*Limiter, *counterstore.Memory) {
	t.Helper()
	store := counterstore.NewMemory(counterstore.WithClock(clk.Now))
	return New(store, append([]Option{WithClock(clk.Now)}, opts...)...), store
}

func TestEvaluate_FiveAdmittedSixthRejected(t *testing.T) {
	clk := &clock{now: windowStart.Add(12 * time.Second)}
	l, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		w, err := l.Evaluate(ctx, "ep/1.2.3.4/", 5, 300*time.Second)
		if err != nil {
			t.Fatalf("evaluation %d: %v", i, err)
		}
		if w.OverLimit() {
			t.Fatalf("evaluation %d should be admitted", i)
		}
		if w.Current != i {
			t.Fatalf("evaluation %d: current = %d", i, w.Current)
		}
	}

	w, err := l.Evaluate(ctx, "ep/1.2.3.4/", 5, 300*time.Second)
	if err != nil {
		t.Fatalf("evaluation 6: %v", err)
	}
	if !w.OverLimit() {
		t.Fatal("evaluation 6 should be rejected")
	}
	if w.Current != 5 || w.Remaining() != 0 || w.Count != 6 {
		t.Fatalf("evaluation 6: current=%d remaining=%d count=%d", w.Current, w.Remaining(), w.Count)
	}
	if w.Key != "ep/1.2.3.4/1700000400" || w.Reset != 1700000400 || w.Period != 300 {
		t.Fatalf("window = %+v", w)
	}
}

func TestEvaluate_NextWindowStartsFresh(t *testing.T) {
	clk := &clock{now: windowStart}
	l, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	var first Window
	for i := 0; i < 6; i++ {
		first, _ = l.Evaluate(ctx, "ep/1.2.3.4/", 5, 300*time.Second)
	}
	if !first.OverLimit() {
		t.Fatal("setup: window should be over limit")
	}

	clk.Add(300 * time.Second)
	w, err := l.Evaluate(ctx, "ep/1.2.3.4/", 5, 300*time.Second)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if w.Key == first.Key {
		t.Fatal("new window should use a new key")
	}
	if w.Current != 1 || w.OverLimit() {
		t.Fatalf("fresh window: current=%d over=%v", w.Current, w.OverLimit())
	}
}

func TestEvaluate_ExpiryIncludesSlack(t *testing.T) {
	clk := &clock{now: windowStart.Add(250 * time.Second)}
	l, store := newTestLimiter(t, clk, WithExpirationSlack(15*time.Second))

	w, err := l.Evaluate(context.Background(), "s/", 10, 300*time.Second)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// reset is 50s away, plus 15s slack
	if ttl, ok := store.TTL(w.Key); !ok || ttl != 65*time.Second {
		t.Fatalf("TTL = %s, %v; want 65s", ttl, ok)
	}

	clk.Add(64 * time.Second)
	if n, _ := store.Get(context.Background(), w.Key); n != 1 {
		t.Fatalf("counter should be readable before reset+slack, got %d", n)
	}
	clk.Add(time.Second)
	if n, _ := store.Get(context.Background(), w.Key); n != 0 {
		t.Fatalf("counter should be gone at reset+slack, got %d", n)
	}
}

func TestEvaluate_InvalidLimit(t *testing.T) {
	clk := &clock{now: windowStart}
	l, store := newTestLimiter(t, clk)

	tests := []struct {
		limit  int64
		period time.Duration
	}{
		{0, time.Minute},
		{-1, time.Minute},
		{5, 0},
		{5, 500 * time.Millisecond},
		{5, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		_, err := l.Evaluate(context.Background(), "s/", tt.limit, tt.period)
		if !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("Evaluate(%d, %s) err = %v, want ErrInvalidLimit", tt.limit, tt.period, err)
		}
	}
	if got, _ := store.Match(context.Background(), "*"); len(got) != 0 {
		t.Fatalf("invalid limits must not touch the store: %v", got)
	}
}

type failingStore struct{ counterstore.Memory }

func (*failingStore) IncrementAndExpireAt(context.Context, string, time.Time) (int64, error) {
	return 0, counterstore.ErrUnavailable
}

func TestEvaluate_StoreFailure(t *testing.T) {
	l := New(&failingStore{})
	_, err := l.Evaluate(context.Background(), "s/", 5, time.Minute)
	if !errors.Is(err, counterstore.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestEvaluate_ConcurrentAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	now := time.Now()

	// two limiters with separate clients stand in for two processes
	newProc := func() *Limiter {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return New(counterstore.NewRedis(c, counterstore.WithTimeout(5*time.Second)), WithClock(func() time.Time { return now }))
	}
	procs := []*Limiter{newProc(), newProc()}

	const n = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		key      string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(l *Limiter) {
			defer wg.Done()
			w, err := l.Evaluate(context.Background(), "rate-limit/op/9.9.9.9/", 10, time.Hour)
			if err != nil {
				t.Errorf("Evaluate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			key = w.Key
			if !w.OverLimit() {
				admitted++
			}
		}(procs[i%2])
	}
	wg.Wait()

	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "40" {
		t.Fatalf("store count = %s, want 40", got)
	}
	if admitted != 10 {
		t.Fatalf("admitted = %d, want exactly the limit", admitted)
	}
}
