package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func runRequestID(t *testing.T, inbound string) (ctxID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if inbound != "" {
		req.Header.Set("X-Request-Id", inbound)
	}
	rec = httptest.NewRecorder()
	RequestID("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})).ServeHTTP(rec, req)
	return ctxID, rec
}

func TestRequestID_Generates(t *testing.T) {
	id, rec := runRequestID(t, "")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", id, err)
	}
	if rec.Header().Get("X-Request-Id") != id {
		t.Fatal("response should echo the id")
	}
}

func TestRequestID_Propagates(t *testing.T) {
	id, rec := runRequestID(t, "edge-1234")
	if id != "edge-1234" || rec.Header().Get("X-Request-Id") != "edge-1234" {
		t.Fatalf("id = %q", id)
	}
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	for _, bad := range []string{"has space", "tab\tid", strings.Repeat("a", 200)} {
		id, _ := runRequestID(t, bad)
		if id == bad {
			t.Errorf("malformed id %q should be replaced", bad)
		}
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if RequestIDFromContext(r.Context()) != "" {
		t.Fatal("want empty id")
	}
}
