package overlimit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/windowguard/internal/counterstore"
	"github.com/keithlinneman/windowguard/internal/log"
	"github.com/keithlinneman/windowguard/internal/ratelimit"
)

// spyLogger records warn and error calls.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	warns  []map[string]any
	errors []error
}

func newSpy() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string]any{"msg": msg}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	s.warns = append(s.warns, m)
}

func (s *spyLogger) Error(_ context.Context, err error, _ string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

var day = time.Date(2026, 10, 16, 23, 59, 0, 0, time.FixedZone("PDT", -7*3600))

func window() ratelimit.Window {
	return ratelimit.Window{
		ScopeKey: "rate-limit/search/1.2.3.4/",
		Key:      "rate-limit/search/1.2.3.4/1792195200",
		Limit:    30,
		Period:   300,
		Reset:    1792195200,
		Current:  30,
		Count:    31,
	}
}

func TestReport_Payload(t *testing.T) {
	store := counterstore.NewMemory()
	r := New(store, WithLogger(newSpy()))

	rej := r.Report(context.Background(), window())

	if !rej.Error || rej.Status != 400 {
		t.Fatalf("rejection = %+v", rej)
	}
	want := "Rate Limit Reached. Please limit consecutive requests to no more than 20 every 300s."
	if rej.Message != want {
		t.Fatalf("Message = %q\nwant      %q", rej.Message, want)
	}

	b, err := json.Marshal(rej)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"error":true,"msg":"`+want+`"}` {
		t.Fatalf("json = %s", b)
	}
}

func TestReport_AggregateCounterUsesUTCDate(t *testing.T) {
	store := counterstore.NewMemory()
	r := New(store, WithLogger(newSpy()), WithClock(func() time.Time { return day }))

	for i := 0; i < 3; i++ {
		r.Report(context.Background(), window())
	}

	// 23:59 PDT is already the 17th in UTC
	n, _ := store.Get(context.Background(), "triggered/rate-limit/search/1.2.3.4/2026-10-17")
	if n != 3 {
		t.Fatalf("aggregate count = %d, want 3", n)
	}
	if got := AggregateKey("rate-limit/a/b/", day); got != "triggered/rate-limit/a/b/2026-10-17" {
		t.Fatalf("AggregateKey = %q", got)
	}
}

func TestReport_LogsWindowKey(t *testing.T) {
	spy := newSpy()
	r := New(counterstore.NewMemory(), WithLogger(spy))
	r.Report(context.Background(), window())

	if len(spy.warns) != 1 {
		t.Fatalf("warns = %d, want 1", len(spy.warns))
	}
	if spy.warns[0]["window_key"] != window().Key {
		t.Fatalf("log fields = %v", spy.warns[0])
	}
}

func TestReport_UsesContextLogger(t *testing.T) {
	spy := newSpy()
	ctx := log.WithContext(context.Background(), spy)
	New(counterstore.NewMemory()).Report(ctx, window())
	if len(spy.warns) != 1 {
		t.Fatal("reporter should fall back to the context logger")
	}
}

func TestReport_Options(t *testing.T) {
	var seen []ratelimit.Window
	r := New(counterstore.NewMemory(),
		WithLogger(newSpy()),
		WithBuffer(0),
		WithStatus(429),
		WithOnReport(func(w ratelimit.Window) { seen = append(seen, w) }),
	)
	rej := r.Report(context.Background(), window())
	if rej.Status != 429 {
		t.Fatalf("Status = %d", rej.Status)
	}
	if rej.Message != "Rate Limit Reached. Please limit consecutive requests to no more than 30 every 300s." {
		t.Fatalf("Message = %q", rej.Message)
	}
	if len(seen) != 1 || seen[0].Key != window().Key {
		t.Fatalf("onReport saw %v", seen)
	}
}

func TestMessage_SmallLimitAdvertisesLimit(t *testing.T) {
	w := window()
	w.Limit = 5
	msg := New(nil).Message(w)
	if msg != "Rate Limit Reached. Please limit consecutive requests to no more than 5 every 300s." {
		t.Fatalf("Message = %q", msg)
	}
}

type brokenStore struct{}

func (brokenStore) Incr(context.Context, string) (int64, error) {
	return 0, counterstore.ErrUnavailable
}

func TestReport_AggregateFailureKeepsRejection(t *testing.T) {
	spy := newSpy()
	rej := New(brokenStore{}, WithLogger(spy)).Report(context.Background(), window())
	if !rej.Error || rej.Status != 400 {
		t.Fatalf("rejection = %+v", rej)
	}
	if len(spy.errors) != 1 || !errors.Is(spy.errors[0], counterstore.ErrUnavailable) {
		t.Fatalf("errors logged = %v", spy.errors)
	}
}

func TestReport_LogSampling(t *testing.T) {
	spy := newSpy()
	// burst of 2, then effectively nothing for the rest of the test
	r := New(counterstore.NewMemory(), WithLogger(spy), WithLogRate(0.0001, 2))

	for i := 0; i < 10; i++ {
		r.Report(context.Background(), window())
	}
	if len(spy.warns) != 2 {
		t.Fatalf("warns = %d, want 2", len(spy.warns))
	}
	if r.suppressed.Load() != 8 {
		t.Fatalf("suppressed = %d, want 8", r.suppressed.Load())
	}
}
