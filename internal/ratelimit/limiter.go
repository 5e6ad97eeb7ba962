package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

const (
	KeyPrefix           = "ratelimit:"
	DefaultStoreTimeout = 250 * time.Millisecond
)

// ErrStoreUnavailable wraps every store failure returned from Check.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy decides what happens to a call when the store cannot be reached.
type Policy int

const (
	FailOpen Policy = iota
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Store performs one atomic increment of key. The first increment opens a
// window of the given length; later increments inside it never move reset.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, reset time.Time, err error)
}

// Result is the outcome of a single Check.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Success   bool
}

// RetryAfter is the whole number of seconds until Reset, rounded up and at
// least 1 so a rejected client is never told to retry immediately.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.Reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ResetMillis renders Reset as epoch milliseconds.
func (r Result) ResetMillis() int64 { return r.Reset.UnixMilli() }

// Limiter checks calls against tiers using a shared Store.
type Limiter struct {
	store   Store
	policy  Policy
	timeout time.Duration
	now     func() time.Time
	logger  log.Logger

	// store outages are logged at most once per interval, every failure still hits the hook
	warn rate.Sometimes

	onStoreError func(err error)
	onDecision   func(tier Tier, allowed bool)
}

type Option func(*Limiter)

func WithPolicy(p Policy) Option { return func(l *Limiter) { l.policy = p } }

// WithStoreTimeout bounds each store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option { return func(l *Limiter) { l.timeout = d } }

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

func WithLogger(lg log.Logger) Option { return func(l *Limiter) { l.logger = lg } }

// WithOnStoreError is called on every store failure, used for metrics.
func WithOnStoreError(fn func(err error)) Option { return func(l *Limiter) { l.onStoreError = fn } }

// WithOnDecision is called once per Check with the outcome, used for metrics.
func WithOnDecision(fn func(tier Tier, allowed bool)) Option {
	return func(l *Limiter) { l.onDecision = fn }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		policy:  FailOpen,
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		logger:  log.Nop(),
		warn:    rate.Sometimes{Interval: 30 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Policy() Policy { return l.policy }

// Key is the store key for a (route, identifier) pair.
func Key(route, identifier string) string {
	return KeyPrefix + route + ":" + identifier
}

// Check counts one call for identifier on route against tier.
//
// A store failure is resolved by the policy and reported: the returned Result
// is usable either way, and the error wraps ErrStoreUnavailable so callers
// can tell a degraded decision from a normal one.
func (l *Limiter) Check(ctx context.Context, route, identifier string, tier Tier) (Result, error) {
	if err := tier.validate(); err != nil {
		return Result{}, err
	}

	sctx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	key := Key(route, identifier)
	count, reset, err := l.store.Incr(sctx, key, tier.Window)
	if err != nil {
		res := l.degraded(tier)
		l.reportStoreError(ctx, key, tier, err)
		l.decided(tier, res.Success)
		return res, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	res := Result{
		Limit:     tier.Requests,
		Remaining: max(0, tier.Requests-int(count)),
		Reset:     reset,
		Success:   count <= int64(tier.Requests),
	}
	l.decided(tier, res.Success)
	return res, nil
}

func (l *Limiter) degraded(tier Tier) Result {
	res := Result{Limit: tier.Requests, Reset: l.now().Add(tier.Window)}
	if l.policy == FailOpen {
		res.Success = true
		res.Remaining = tier.Requests
	}
	return res
}

func (l *Limiter) reportStoreError(ctx context.Context, key string, tier Tier, err error) {
	if l.onStoreError != nil {
		l.onStoreError(err)
	}
	l.warn.Do(func() {
		l.logger.Warn(ctx, "rate limit store unavailable",
			"key", key,
			"tier", tier.Name,
			"policy", l.policy.String(),
			"err", err,
		)
	})
}

func (l *Limiter) decided(tier Tier, allowed bool) {
	if l.onDecision != nil {
		l.onDecision(tier, allowed)
	}
}
