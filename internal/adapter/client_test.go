package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/retry"
)

func fastRetry() retry.Options {
	return retry.Options{MaxRetries: 3, RetryDelay: time.Millisecond}
}

type recorded struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
}

func (r *recorded) add(req *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
}

// provider answers with statuses in order, then 200 with okBody.
func provider(t *testing.T, statuses []int, okBody string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	var mu sync.Mutex
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		mu.Lock()
		i := n
		n++
		mu.Unlock()
		if i < len(statuses) {
			w.WriteHeader(statuses[i])
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{Service: "payments", BaseURL: base + "/", APIKey: "sk_test", Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_RetriesServerErrorsWithSameIdempotencyKey(t *testing.T) {
	srv, rec := provider(t, []int{503, 502}, `{"id":"cs_1","url":"https://pay.test/cs_1"}`)
	c := newTestClient(t, srv.URL)

	var out CheckoutSession
	if err := c.Do(context.Background(), http.MethodPost, "/v1/checkout/sessions", map[string]any{"price_id": "p"}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.ID != "cs_1" {
		t.Fatalf("out = %+v", out)
	}
	if len(rec.requests) != 3 {
		t.Fatalf("attempts = %d, want 3", len(rec.requests))
	}
	key := rec.requests[0].Header.Get("Idempotency-Key")
	if key == "" {
		t.Fatal("missing Idempotency-Key")
	}
	for i, r := range rec.requests {
		if r.Header.Get("Idempotency-Key") != key {
			t.Fatalf("attempt %d used a different idempotency key", i+1)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Fatalf("attempt %d auth = %q", i+1, r.Header.Get("Authorization"))
		}
		if rec.bodies[i]["price_id"] != "p" {
			t.Fatalf("attempt %d body = %v", i+1, rec.bodies[i])
		}
	}
}

func TestClient_NewKeyPerCall(t *testing.T) {
	srv, rec := provider(t, nil, `{}`)
	c := newTestClient(t, srv.URL)
	_ = c.Do(context.Background(), http.MethodPost, "/x", map[string]int{}, nil)
	_ = c.Do(context.Background(), http.MethodPost, "/x", map[string]int{}, nil)
	if rec.requests[0].Header.Get("Idempotency-Key") == rec.requests[1].Header.Get("Idempotency-Key") {
		t.Fatal("separate calls share an idempotency key")
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	srv, rec := provider(t, []int{400, 400, 400}, `{}`)
	c := newTestClient(t, srv.URL)

	err := c.Do(context.Background(), http.MethodPost, "/x", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode() != 400 || se.Body != `{"error":"nope"}` {
		t.Fatalf("err = %#v", err)
	}
	if len(rec.requests) != 1 {
		t.Fatalf("attempts = %d, want 1", len(rec.requests))
	}
}

func TestClient_ExhaustedReturnsLastStatus(t *testing.T) {
	srv, rec := provider(t, []int{500, 502, 503}, `{}`)
	c := newTestClient(t, srv.URL)

	err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 503 {
		t.Fatalf("err = %v", err)
	}
	if len(rec.requests) != 3 {
		t.Fatalf("attempts = %d", len(rec.requests))
	}
	if rec.requests[0].Header.Get("Idempotency-Key") != "" {
		t.Fatal("GET should not carry an idempotency key")
	}
	// the upstream status must not leak as the inbound status
	if got := apperr.StatusOf(err); got != http.StatusInternalServerError {
		t.Fatalf("StatusOf = %d, want 500", got)
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientOptions{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error without service")
	}
	if _, err := NewClient(ClientOptions{Service: "x"}); err == nil {
		t.Fatal("expected error without base URL")
	}
}

func TestPayments_CreateCheckout(t *testing.T) {
	srv, rec := provider(t, nil, `{"id":"cs_9","url":"https://pay.test/cs_9"}`)
	p := NewPayments(newTestClient(t, srv.URL))

	s, err := p.CreateCheckout(context.Background(), CheckoutRequest{PriceID: "price_1", Quantity: 2})
	if err != nil || s.ID != "cs_9" {
		t.Fatalf("CreateCheckout = %+v, %v", s, err)
	}
	if rec.requests[0].URL.Path != "/v1/checkout/sessions" || rec.bodies[0]["quantity"] != float64(2) {
		t.Fatalf("request = %s %v", rec.requests[0].URL.Path, rec.bodies[0])
	}
}

func TestPayments_ClassifiesRejections(t *testing.T) {
	cases := map[int]apperr.Kind{
		400: apperr.KindValidation,
		404: apperr.KindNotFound,
		409: apperr.KindConflict,
		401: apperr.KindInternal,
	}
	for status, kind := range cases {
		srv, _ := provider(t, []int{status}, `{}`)
		_, err := NewPayments(newTestClient(t, srv.URL)).CreateCheckout(context.Background(), CheckoutRequest{PriceID: "p", Quantity: 1})
		if got := apperr.KindOf(err); got != kind {
			t.Errorf("status %d: kind = %v, want %v", status, got, kind)
		}
	}
}

func TestPayments_EmptySession(t *testing.T) {
	srv, _ := provider(t, nil, `{}`)
	_, err := NewPayments(newTestClient(t, srv.URL)).CreateCheckout(context.Background(), CheckoutRequest{PriceID: "p", Quantity: 1})
	if apperr.KindOf(err) != apperr.KindInternal || err == nil {
		t.Fatalf("err = %v", err)
	}
}

func TestMailer(t *testing.T) {
	srv, rec := provider(t, []int{409}, `{}`)
	m := NewMailer(newTestClient(t, srv.URL), "hello@coachdesk.test")

	if err := m.Subscribe(context.Background(), "newsletter", "a@example.com"); err != nil {
		t.Fatalf("Subscribe existing member: %v", err)
	}
	if err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Template: "welcome"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rec.requests[0].URL.Path != "/v1/lists/newsletter/members" {
		t.Fatalf("subscribe path = %s", rec.requests[0].URL.Path)
	}
	if rec.bodies[1]["from"] != "hello@coachdesk.test" {
		t.Fatalf("default sender not applied: %v", rec.bodies[1])
	}
	if err := m.Send(context.Background(), Message{}); err == nil {
		t.Fatal("expected error without recipients")
	}
}
