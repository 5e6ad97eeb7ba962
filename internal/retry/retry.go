// Package retry re-runs outbound operations that fail with transient errors.
//
// An operation is attempted up to MaxRetries times in total. Between
// attempts the caller sleeps for the delay produced by the backoff strategy,
// a constant RetryDelay unless one is supplied. Only retryable failures are
// retried: network errors whose code is in RetryableCodes, and upstream HTTP
// responses with status 429 or >= 500. Anything else is returned after the
// first attempt. The last error is always returned unchanged so callers can
// inspect it with errors.Is/As.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

// DefaultRetryableCodes are the network error codes treated as transient.
var DefaultRetryableCodes = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ECONNREFUSED",
	"EPIPE",
	"ENOTFOUND",
	"EAI_AGAIN",
}

type Options struct {
	// Name labels log lines and hooks, e.g. "payments.create_checkout".
	Name string

	// MaxRetries is the total number of attempts, not the number of retries after the first.
	MaxRetries int
	RetryDelay time.Duration

	RetryableCodes []string

	// MaxElapsed caps wall-clock time across all attempts. Zero means no cap
	// beyond the context deadline.
	MaxElapsed time.Duration

	// BackOff builds a fresh delay strategy per invocation. Nil uses a
	// constant RetryDelay.
	BackOff func() backoff.BackOff

	Logger log.Logger

	// OnRetry fires before each sleep with the attempt that just failed.
	OnRetry func(name string, attempt int, err error)
	// OnExhausted fires once when the operation finally fails.
	OnExhausted func(name string, attempts int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions: three attempts one second apart.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RetryableCodes: DefaultRetryableCodes,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.RetryableCodes == nil {
		o.RetryableCodes = DefaultRetryableCodes
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o
}

// Do runs op until it succeeds, fails with a non-retryable error, or runs out
// of attempts. Options hold no state, so one value can be shared freely.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var bo backoff.BackOff = backoff.NewConstantBackOff(opts.RetryDelay)
	if opts.BackOff != nil {
		bo = opts.BackOff()
	}
	bo.Reset()

	start := time.Now()
	var (
		zero    T
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= opts.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				opts.Logger.Info(ctx, "operation succeeded after retry",
					"operation", opts.Name,
					"attempt", attempt,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}
			return v, nil
		}
		lastErr = err

		retryable := IsRetryable(err, opts.RetryableCodes)
		if !retryable || attempt == opts.MaxRetries {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if opts.MaxElapsed > 0 && time.Since(start)+delay > opts.MaxElapsed {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(opts.Name, attempt, err)
		}
		opts.Logger.Debug(ctx, "retrying operation",
			"operation", opts.Name,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"err", err,
		)
		// a cancelled sleep ends the loop, the caller still gets the operation's error
		if serr := opts.sleep(ctx, delay); serr != nil {
			break
		}
	}

	attempts := attempt
	opts.Logger.Error(ctx, lastErr, "operation failed",
		"operation", opts.Name,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
		"retryable", IsRetryable(lastErr, opts.RetryableCodes),
	)
	if opts.OnExhausted != nil {
		opts.OnExhausted(opts.Name, attempts, lastErr)
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
