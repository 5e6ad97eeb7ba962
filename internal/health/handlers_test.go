package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serve(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
	return rec
}

func TestHealthzHandler(t *testing.T) {
	if rec := serve(HealthzHandler(nil)); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("nil probe: %d %q", rec.Code, rec.Body.String())
	}
	rec := serve(HealthzHandler(Fixed(false, "database down")))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "database down") {
		t.Fatalf("failing probe: %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyzHandler(t *testing.T) {
	if rec := serve(ReadyzHandler(Fixed(true, ""))); rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Fatalf("ready: %d %q", rec.Code, rec.Body.String())
	}
	var g ShutdownGate
	g.Set("shutting down")
	if rec := serve(ReadyzHandler(g.Probe())); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining: %d", rec.Code)
	}
}

func TestHandler_PassesRequestContext(t *testing.T) {
	type key struct{}
	var got any
	h := HealthzHandler(CheckFunc(func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}))
	req := httptest.NewRequest(http.MethodGet, "/-/healthy", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(context.WithValue(req.Context(), key{}, "v")))
	if got != "v" {
		t.Fatal("request context not passed to probe")
	}
}
