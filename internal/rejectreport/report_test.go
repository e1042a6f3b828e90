package rejectreport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/windowguard/internal/counterstore"
	"github.com/keithlinneman/windowguard/internal/guard"
	"github.com/keithlinneman/windowguard/internal/overlimit"
)

var day = time.Date(2026, 10, 16, 15, 4, 5, 0, time.UTC)

func seed(t *testing.T, store *counterstore.Memory, op, client string, at time.Time, n int) {
	t.Helper()
	key := overlimit.AggregateKey(guard.ScopeKey(op, client), at)
	for range n {
		if _, err := store.Incr(t.Context(), key); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}
}

func TestCollect(t *testing.T) {
	store := counterstore.NewMemory()
	seed(t, store, "search", "10.0.0.1", day, 3)
	seed(t, store, "search", "10.0.0.2", day, 7)
	seed(t, store, "/v1/items/{id}", "2001:db8::1", day, 3)
	seed(t, store, "search", "10.0.0.1", day.AddDate(0, 0, -1), 50)
	// window counters share the store and must be ignored
	if _, err := store.Incr(t.Context(), guard.ScopeKey("search", "10.0.0.1")+"1760630400"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Incr(t.Context(), "triggered/rate-limit/garbage2026-10-16"); err != nil {
		t.Fatal(err)
	}

	rep, err := Collect(t.Context(), store, day)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if rep.Date != "2026-10-16" || rep.Total != 13 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	want := []Entry{
		{Operation: "search", Client: "10.0.0.2", Count: 7},
		{Operation: "/v1/items/{id}", Client: "2001:db8::1", Count: 3},
		{Operation: "search", Client: "10.0.0.1", Count: 3},
	}
	if len(rep.Entries) != len(want) {
		t.Fatalf("entries = %+v", rep.Entries)
	}
	for i := range want {
		if rep.Entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, rep.Entries[i], want[i])
		}
	}

	top := rep.TopOperations()
	if len(top) != 2 || top[0].Operation != "search" || top[0].Count != 10 {
		t.Fatalf("TopOperations = %+v", top)
	}
}

func TestCollect_Empty(t *testing.T) {
	rep, err := Collect(t.Context(), counterstore.NewMemory(), day)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if rep.Total != 0 || len(rep.Entries) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

type failingMatcher struct{}

func (failingMatcher) Match(context.Context, string) (map[string]int64, error) {
	return nil, counterstore.ErrUnavailable
}

func TestCollect_StoreError(t *testing.T) {
	_, err := Collect(t.Context(), failingMatcher{}, day)
	if !errors.Is(err, counterstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		key, op, client string
		ok              bool
	}{
		{"triggered/rate-limit/search/1.2.3.4/2026-10-16", "search", "1.2.3.4", true},
		{"triggered/rate-limit//v1/a/1.2.3.4/2026-10-16", "/v1/a", "1.2.3.4", true},
		{"triggered/rate-limit/search/1.2.3.4/2026-10-15", "", "", false},
		{"triggered/rate-limit/search//2026-10-16", "", "", false},
		{"rate-limit/search/1.2.3.4/2026-10-16", "", "", false},
	}
	for _, tc := range cases {
		op, client, ok := parseKey(tc.key, "2026-10-16")
		if op != tc.op || client != tc.client || ok != tc.ok {
			t.Errorf("parseKey(%q) = %q, %q, %v", tc.key, op, client, ok)
		}
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	rep := Report{Date: "2026-10-16", Total: 4, Entries: []Entry{{Operation: "search", Client: "10.0.0.9", Count: 4}}}
	if err := WriteTable(&buf, rep); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	// the rounded style upper-cases the footer
	out := strings.ToLower(buf.String())
	for _, want := range []string{"2026-10-16", "search", "10.0.0.9", "1 clients"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "by operation") {
		t.Error("single operation should not get a summary table")
	}

	buf.Reset()
	rep.Entries = append(rep.Entries, Entry{Operation: "/v1/items/{id}", Client: "10.0.0.9", Count: 1})
	if err := WriteTable(&buf, rep); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if !strings.Contains(buf.String(), "By operation") {
		t.Errorf("summary table missing:\n%s", buf.String())
	}
}

type fakeS3 struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket, f.key, f.contentType = aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	api := &fakeS3{}
	rep := Report{Date: "2026-10-16", Total: 2, Entries: []Entry{{Operation: "search", Client: "1.2.3.4", Count: 2}}}

	key, err := Upload(t.Context(), api, "reports", "windowguard/rejections/", rep)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if key != "windowguard/rejections/2026-10-16.json" || api.key != key || api.bucket != "reports" {
		t.Fatalf("uploaded to s3://%s/%s (returned %s)", api.bucket, api.key, key)
	}
	if api.contentType != "application/json" {
		t.Fatalf("content type = %q", api.contentType)
	}
	var got Report
	if err := json.Unmarshal(api.body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.Total != 2 || got.Entries[0].Client != "1.2.3.4" {
		t.Fatalf("body = %+v", got)
	}

	if ObjectKey("", "2026-10-16") != "2026-10-16.json" {
		t.Fatal("ObjectKey without prefix")
	}

	api.err = errors.New("access denied")
	if _, err := Upload(t.Context(), api, "reports", "", rep); !errors.Is(err, api.err) {
		t.Fatalf("expected wrapped S3 error, got %v", err)
	}
}
