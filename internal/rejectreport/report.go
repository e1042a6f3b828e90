// Package rejectreport summarizes the aggregate rejection counters written by
// the over-limit reporter: one counter per client, operation and UTC day.
package rejectreport

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/keithlinneman/windowguard/internal/overlimit"
	"github.com/keithlinneman/windowguard/internal/xerrors"
)

// head is the fixed start of every aggregate key; see guard.ScopeKey.
const head = overlimit.AggregatePrefix + "rate-limit/"

// Matcher is the read side of the counter store the report needs.
type Matcher interface {
	Match(ctx context.Context, pattern string) (map[string]int64, error)
}

type Entry struct {
	Operation string `json:"operation"`
	Client    string `json:"client"`
	Count     int64  `json:"count"`
}

type Report struct {
	Date    string  `json:"date"`
	Total   int64   `json:"total"`
	Entries []Entry `json:"entries"`
	// Skipped counts keys under the prefix that did not parse.
	Skipped int `json:"skipped,omitempty"`
}

// Collect reads every rejection counter for the UTC day of day. Entries are
// ordered by count, highest first.
func Collect(ctx context.Context, m Matcher, day time.Time) (Report, error) {
	date := day.UTC().Format(time.DateOnly)
	vals, err := m.Match(ctx, head+"*"+date)
	if err != nil {
		return Report{}, xerrors.Wrapf(err, "scan rejection counters for %s", date)
	}

	rep := Report{Date: date, Entries: make([]Entry, 0, len(vals))}
	for key, n := range vals {
		op, client, ok := parseKey(key, date)
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Entries = append(rep.Entries, Entry{Operation: op, Client: client, Count: n})
		rep.Total += n
	}
	slices.SortFunc(rep.Entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Operation, b.Operation); c != 0 {
			return c
		}
		return cmp.Compare(a.Client, b.Client)
	})
	return rep, nil
}

// parseKey splits "triggered/rate-limit/<op>/<client>/<date>". The operation
// may itself contain slashes (route patterns); the client never does.
func parseKey(key, date string) (op, client string, ok bool) {
	rest, found := strings.CutPrefix(key, head)
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, "/"+date)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i < 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// TopOperations totals rejections per operation, highest first.
func (r Report) TopOperations() []Entry {
	byOp := map[string]int64{}
	for _, e := range r.Entries {
		byOp[e.Operation] += e.Count
	}
	out := make([]Entry, 0, len(byOp))
	for op, n := range byOp {
		out = append(out, Entry{Operation: op, Count: n})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Operation, b.Operation)
	})
	return out
}
