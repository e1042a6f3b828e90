package counterstore

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type entry struct {
	n        int64
	expireAt time.Time // zero: never
}

// Memory is a process-local Store. It never fails, and counts are not shared
// between processes.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	writes  int
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption { return func(m *Memory) { m.now = now } }

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[string]*entry), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// live returns the unexpired entry for key. Caller holds mu.
func (m *Memory) live(key string, now time.Time) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// incr increments key and applies expireAt when non-zero. Caller holds mu.
func (m *Memory) incr(key string, expireAt time.Time) int64 {
	now := m.now()
	e := m.live(key, now)
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	e.n++
	if !expireAt.IsZero() {
		e.expireAt = expireAt
	}
	m.writes++
	if m.writes%sweepEvery == 0 {
		for k := range m.entries {
			m.live(k, now)
		}
	}
	return e.n
}

func (m *Memory) IncrementAndExpireAt(_ context.Context, key string, expireAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !expireAt.After(m.now()) {
		// same as redis: EXPIREAT in the past deletes the key after the increment
		n := m.incr(key, time.Time{})
		delete(m.entries, key)
		return n, nil
	}
	return m.incr(key, expireAt), nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incr(key, time.Time{}), nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key, m.now()); e != nil {
		return e.n, nil
	}
	return 0, nil
}

func (m *Memory) Match(_ context.Context, pattern string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make(map[string]int64)
	for k := range m.entries {
		if e := m.live(k, now); e != nil && globMatch(pattern, k) {
			out[k] = e.n
		}
	}
	return out, nil
}

// TTL reports the remaining lifetime of key; ok is false when the key does
// not exist or never expires.
func (m *Memory) TTL(key string) (ttl time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.live(key, now)
	if e == nil || e.expireAt.IsZero() {
		return 0, false
	}
	return e.expireAt.Sub(now), true
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// globMatch reports whether s matches pattern, where '*' matches any run of
// bytes (including '/') and '?' matches one byte.
func globMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, i
			p++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
