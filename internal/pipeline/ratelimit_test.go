package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/coachdesk-api/internal/httpmw"
	"github.com/keithlinneman/coachdesk-api/internal/ratelimit"
)

type checkCall struct {
	route, id string
	tier      ratelimit.Tier
}

type spyChecker struct {
	calls []checkCall
	res   ratelimit.Result
	err   error
}

func (s *spyChecker) Check(_ context.Context, route, id string, tier ratelimit.Tier) (ratelimit.Result, error) {
	s.calls = append(s.calls, checkCall{route, id, tier})
	return s.res, s.err
}

func allow(limit int) *spyChecker {
	return &spyChecker{res: ratelimit.Result{Limit: limit, Remaining: limit - 1, Reset: time.Now().Add(time.Minute), Success: true}}
}

func TestRateLimit_IdentifierPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		setup func(rc *RequestContext)
		opts  func(o *RateLimitOptions)
		want  string
	}{
		{"custom", func(*RequestContext) {}, func(o *RateLimitOptions) {
			o.Identify = func(*RequestContext) string { return "api-key-7" }
		}, "api-key-7"},
		{"user over ip", func(rc *RequestContext) { rc.User = &User{ID: "u-1"} }, nil, "u-1"},
		{"custom empty falls through", func(rc *RequestContext) { rc.User = &User{ID: "u-2"} }, func(o *RateLimitOptions) {
			o.Identify = func(*RequestContext) string { return "" }
		}, "u-2"},
		{"client ip from context", func(rc *RequestContext) {
			rc.Request = rc.Request.WithContext(httpmw.WithClientIP(rc.Request.Context(), "203.0.113.9"))
		}, nil, "203.0.113.9"},
		{"remote addr", func(rc *RequestContext) { rc.Request.RemoteAddr = "198.51.100.4:5555" }, nil, "198.51.100.4"},
		{"anonymous", func(rc *RequestContext) { rc.Request.RemoteAddr = "" }, nil, "anonymous"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spy := allow(5)
			opts := RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict, Logger: &spyLogger{}}
			if tc.opts != nil {
				tc.opts(&opts)
			}
			rc := newRC(http.MethodGet, "/api/x", "")
			tc.setup(rc)
			_, _ = Chain(okEndpoint(nil), RateLimit(opts))(rc)
			if got := spy.calls[0].id; got != tc.want {
				t.Fatalf("identifier = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimit_RouteFromChiPattern(t *testing.T) {
	spy := allow(30)
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/api/courses/{id}", Chain(okEndpoint(nil),
		RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Standard, Logger: &spyLogger{}}),
	))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/courses/c-42", nil))

	if len(spy.calls) != 1 || spy.calls[0].route != "/api/courses/{id}" {
		t.Fatalf("calls = %+v", spy.calls)
	}
	if spy.calls[0].tier != ratelimit.Standard {
		t.Fatalf("tier = %v", spy.calls[0].tier)
	}
}

func TestRateLimit_RouteOverrideAndPathFallback(t *testing.T) {
	spy := allow(5)
	_, _ = Chain(okEndpoint(nil), RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict, Logger: &spyLogger{}}))(newRC(http.MethodGet, "/plain/path", ""))
	_, _ = Chain(okEndpoint(nil), RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict, Route: "signup", Logger: &spyLogger{}}))(newRC(http.MethodGet, "/plain/path", ""))
	if spy.calls[0].route != "/plain/path" || spy.calls[1].route != "signup" {
		t.Fatalf("routes = %+v", spy.calls)
	}
}

func TestRateLimit_HeadersOnSuccess(t *testing.T) {
	reset := time.UnixMilli(1_900_000_000_000)
	spy := &spyChecker{res: ratelimit.Result{Limit: 30, Remaining: 12, Reset: reset, Success: true}}
	resp, err := Chain(okEndpoint(map[string]bool{"ok": true}), RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Standard}))(newRC(http.MethodGet, "/", ""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("X-RateLimit-Limit") != "30" || resp.Header.Get("X-RateLimit-Remaining") != "12" {
		t.Fatalf("headers = %v", resp.Header)
	}
	if resp.Header.Get("X-RateLimit-Reset") != "1900000000000" {
		t.Fatalf("reset header = %q", resp.Header.Get("X-RateLimit-Reset"))
	}
	if resp.Header.Get("Retry-After") != "" {
		t.Fatal("Retry-After on accepted request")
	}
}

func TestRateLimit_Rejection(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	spy := &spyChecker{res: ratelimit.Result{Limit: 5, Remaining: 0, Reset: now.Add(7 * time.Second), Success: false}}
	logger := &spyLogger{}
	called := false
	h := Chain(func(*RequestContext) (any, error) {
		called = true
		return nil, nil
	}, RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict, Logger: logger, Now: func() time.Time { return now }}))

	resp, err := h(newRC(http.MethodPost, "/api/newsletter/subscribe", ""))
	if err != nil || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
	body := decode(t, resp)
	if resp.Status != http.StatusTooManyRequests || body["error"] != "Too many requests" {
		t.Fatalf("status=%d body=%v", resp.Status, body)
	}
	if body["retryAfter"] != float64(7) || body["limit"] != float64(5) || body["remaining"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
	if body["reset"] != float64(now.Add(7*time.Second).UnixMilli()) {
		t.Fatalf("reset = %v", body["reset"])
	}
	if !strings.Contains(body["message"].(string), "7 seconds") {
		t.Fatalf("message = %v", body["message"])
	}
	if resp.Header.Get("Retry-After") != "7" || resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", resp.Header)
	}
	if _, ok := logger.find("warn", "rate limit exceeded"); !ok {
		t.Fatal("rejection not logged")
	}
}

func TestRateLimit_CustomRejection(t *testing.T) {
	spy := &spyChecker{res: ratelimit.Result{Limit: 1, Reset: time.Now().Add(time.Second)}}
	h := Chain(okEndpoint(nil), RateLimit(RateLimitOptions{
		Limiter: spy,
		Tier:    ratelimit.Custom(1, time.Second),
		Logger:  &spyLogger{},
		OnLimited: func(*RequestContext, ratelimit.Result) *Response {
			return JSON(http.StatusServiceUnavailable, map[string]string{"error": "slow down"})
		},
	}))
	resp, _ := h(newRC(http.MethodGet, "/", ""))
	if resp.Status != http.StatusServiceUnavailable || resp.Header.Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("status=%d headers=%v", resp.Status, resp.Header)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("Retry-After missing on custom rejection")
	}
}

func TestRateLimit_StoreOutageUsesDecision(t *testing.T) {
	spy := allow(5)
	spy.err = fmt.Errorf("%w: dial tcp: refused", ratelimit.ErrStoreUnavailable)
	resp, err := Chain(okEndpoint(nil), RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict}))(newRC(http.MethodGet, "/", ""))
	if err != nil || resp.Status != 200 {
		t.Fatalf("fail-open decision not honoured: %v %v", resp, err)
	}
}

func TestRateLimit_OtherCheckErrorsPropagate(t *testing.T) {
	spy := allow(5)
	spy.err = errors.New("bad tier")
	if _, err := Chain(okEndpoint(nil), RateLimit(RateLimitOptions{Limiter: spy, Tier: ratelimit.Strict}))(newRC(http.MethodGet, "/", "")); err == nil {
		t.Fatal("expected error")
	}
}

func TestRateLimit_PanicsOnMisconfiguration(t *testing.T) {
	for name, opts := range map[string]RateLimitOptions{
		"no limiter": {Tier: ratelimit.Strict},
		"bad tier":   {Limiter: allow(1), Tier: ratelimit.Custom(0, time.Second)},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", name)
				}
			}()
			RateLimit(opts)
		}()
	}
}

// Full chain on a strict route: five calls pass, the sixth is rejected
// before validation or the endpoint run.
func TestStrictRouteEndToEnd(t *testing.T) {
	clock := time.Unix(1_800_000_000, 0)
	now := func() time.Time { return clock }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := ratelimit.New(ratelimit.NewMemoryStore(ctx, ratelimit.WithMemoryClock(now), ratelimit.WithSweepInterval(0)), ratelimit.WithClock(now))
	logger := &spyLogger{}

	endpointCalls := 0
	h := Chain(func(rc *RequestContext) (any, error) {
		endpointCalls++
		v, _ := ValidatedAs[signup](rc)
		return map[string]string{"subscribed": v.Email}, nil
	},
		ErrorBoundary(BoundaryOptions{Logger: logger}),
		Logging(logger),
		RateLimit(RateLimitOptions{Limiter: limiter, Tier: ratelimit.Strict, Logger: logger, Now: now}),
		ValidateBody[signup](signupSchema),
	)

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/newsletter/subscribe", strings.NewReader(`{"email":"a@example.com"}`))
		req.RemoteAddr = "192.0.2.10:40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 5; i++ {
		rec := serve()
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(5-i) {
			t.Fatalf("call %d: remaining header = %q", i, got)
		}
	}

	rec := serve()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th call status = %d", rec.Code)
	}
	ra, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || ra <= 0 {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if endpointCalls != 5 {
		t.Fatalf("endpoint ran %d times, want 5", endpointCalls)
	}
}
