package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func serveRequestID(t *testing.T, inbound string) (ctxID, header string) {
	t.Helper()
	h := RequestID("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		r.Header.Set(RequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return ctxID, rec.Header().Get(RequestIDHeader)
}

func TestRequestID_Propagates(t *testing.T) {
	id, hdr := serveRequestID(t, "abc-123")
	if id != "abc-123" || hdr != "abc-123" {
		t.Fatalf("ctx=%q header=%q", id, hdr)
	}
}

func TestRequestID_GeneratesUUID(t *testing.T) {
	id, hdr := serveRequestID(t, "")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", id, err)
	}
	if hdr != id {
		t.Fatalf("header %q != context %q", hdr, id)
	}
}

func TestRequestID_ReplacesUnsafeInbound(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("x", 129), "ünïcode"} {
		id, _ := serveRequestID(t, bad)
		if id == bad {
			t.Errorf("unsafe id %q propagated", bad)
		}
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if got := RequestIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Fatalf("got %q", got)
	}
}
