package httpmw

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

func TestWithLogger_ScopesRequestFields(t *testing.T) {
	spy := &spyLogger{}
	var inner log.Logger
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		inner = log.FromContext(r.Context())
	}), RequestID(""), ClientIP, WithLogger(spy))

	r := httptest.NewRequest(http.MethodPost, "/api/checkout?coupon=secret", nil)
	r.RemoteAddr = "203.0.113.4:5000"
	r.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if inner != spy {
		t.Fatal("request logger not stored in context")
	}
	want := map[string]any{
		"request_id":          "req-42",
		"client.address":      "203.0.113.4",
		"http.request.method": http.MethodPost,
		"url.path":            "/api/checkout",
		"url.scheme":          "http",
	}
	for k, v := range want {
		if got, ok := spy.field(k); !ok || got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if _, ok := spy.field("url.query"); ok {
		t.Error("query string must not be logged")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("plain = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("forwarded = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "gopher")
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("bogus forwarded = %q", got)
	}
	r.Header.Del("X-Forwarded-Proto")
	r.TLS = &tls.ConnectionState{}
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("tls = %q", got)
	}
}
