package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/coachdesk-api/internal/httpmw"
	"github.com/keithlinneman/coachdesk-api/internal/log"
	"github.com/keithlinneman/coachdesk-api/internal/ratelimit"
)

const anonymousIdentifier = "anonymous"

// Checker is the limiter used by RateLimit, satisfied by *ratelimit.Limiter.
type Checker interface {
	Check(ctx context.Context, route, identifier string, tier ratelimit.Tier) (ratelimit.Result, error)
}

type RateLimitOptions struct {
	Limiter Checker
	Tier    ratelimit.Tier

	// Route overrides the key's route segment. Defaults to the chi route
	// pattern, then the URL path.
	Route string

	// Identify overrides the caller identifier. Returning "" falls through
	// to the user id, then the client IP.
	Identify func(rc *RequestContext) string

	// OnLimited builds a custom rejection. Rate limit headers are still added.
	OnLimited func(rc *RequestContext, res ratelimit.Result) *Response

	Logger log.Logger
	Now    func() time.Time
}

// RateLimit rejects callers over the tier's budget with 429 and stamps
// X-RateLimit headers on every response it lets through.
func RateLimit(opts RateLimitOptions) Middleware {
	if opts.Limiter == nil {
		panic("pipeline: RateLimit requires a Limiter")
	}
	if opts.Tier.Requests < 1 || opts.Tier.Window <= 0 {
		panic(fmt.Sprintf("pipeline: invalid rate limit tier %v", opts.Tier))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(rc *RequestContext, next Handler) (*Response, error) {
		ctx := rc.Context()
		route := opts.route(rc)
		id := opts.identify(rc)

		res, err := opts.Limiter.Check(ctx, route, id, opts.Tier)
		if err != nil && !errors.Is(err, ratelimit.ErrStoreUnavailable) {
			return nil, err
		}

		if !res.Success {
			retryAfter := res.RetryAfter(opts.Now())
			log.Or(ctx, opts.Logger).Warn(ctx, "rate limit exceeded",
				"route", route,
				"identifier", id,
				"tier", opts.Tier.Name,
				"limit", res.Limit,
				"retry_after", retryAfter,
			)

			var resp *Response
			if opts.OnLimited != nil {
				resp = opts.OnLimited(rc, res)
			}
			if resp == nil {
				resp = JSON(http.StatusTooManyRequests, map[string]any{
					"error":      "Too many requests",
					"message":    fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
					"limit":      res.Limit,
					"remaining":  res.Remaining,
					"reset":      res.ResetMillis(),
					"retryAfter": retryAfter,
				})
			}
			stampRateLimit(resp, res)
			resp.SetHeader("Retry-After", strconv.Itoa(retryAfter))
			return resp, nil
		}

		resp, err := next(rc)
		if resp != nil {
			stampRateLimit(resp, res)
		}
		return resp, err
	}
}

func stampRateLimit(resp *Response, res ratelimit.Result) {
	resp.SetHeader("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	resp.SetHeader("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	resp.SetHeader("X-RateLimit-Reset", strconv.FormatInt(res.ResetMillis(), 10))
}

func (o RateLimitOptions) route(rc *RequestContext) string {
	if o.Route != "" {
		return o.Route
	}
	if rctx := chi.RouteContext(rc.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return rc.Request.URL.Path
}

func (o RateLimitOptions) identify(rc *RequestContext) string {
	if o.Identify != nil {
		if id := o.Identify(rc); id != "" {
			return id
		}
	}
	if rc.User != nil && rc.User.ID != "" {
		return rc.User.ID
	}
	if ip := httpmw.ClientIPFromContext(rc.Context()); ip != "" {
		return ip
	}
	if rc.Request.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(rc.Request.RemoteAddr); err == nil && host != "" {
			return host
		}
	}
	return anonymousIdentifier
}
