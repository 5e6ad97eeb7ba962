package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

type spyLogger struct {
	mu      sync.Mutex
	entries []spyEntry
}

func (s *spyLogger) add(e spyEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *spyLogger) With(...any) log.Logger { return s }
func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "debug", msg: msg, kv: kv})
}
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "info", msg: msg, kv: kv})
}
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any) {
	s.add(spyEntry{level: "warn", msg: msg, kv: kv})
}
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add(spyEntry{level: "error", msg: msg, err: err, kv: kv})
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) byLevel(level string) []spyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []spyEntry
	for _, e := range s.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func kvValue(kv []any, key string) any {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1]
		}
	}
	return nil
}

type upstreamErr struct{ status int }

func (e *upstreamErr) Error() string   { return fmt.Sprintf("upstream returned %d", e.status) }
func (e *upstreamErr) StatusCode() int { return e.status }

type codeErr string

func (e codeErr) Error() string { return "network: " + string(e) }
func (e codeErr) Code() string  { return string(e) }

// recordSleeps returns options that record delays instead of sleeping.
func recordSleeps(opts Options, delays *[]time.Duration) Options {
	opts.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return opts
}

func TestDo_ServerErrorsExhaustAttempts(t *testing.T) {
	spy := &spyLogger{}
	var delays []time.Duration
	opts := recordSleeps(Options{Name: "payments", MaxRetries: 3, RetryDelay: 100 * time.Millisecond, Logger: spy}, &delays)

	calls := 0
	want := &upstreamErr{status: 503}
	_, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		return "", want
	})

	if err != want {
		t.Fatalf("err = %v, want the last error unchanged", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 100*time.Millisecond {
		t.Fatalf("delays = %v, want two 100ms sleeps", delays)
	}
	errs := spy.byLevel("error")
	if len(errs) != 1 {
		t.Fatalf("error logs = %d, want 1", len(errs))
	}
	if kvValue(errs[0].kv, "attempts") != 3 || kvValue(errs[0].kv, "retryable") != true {
		t.Fatalf("error log kv = %v", errs[0].kv)
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var delays []time.Duration
	opts := recordSleeps(Options{MaxRetries: 3, RetryDelay: time.Second}, &delays)

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, &upstreamErr{status: 400}
	})
	if err == nil || calls != 1 || len(delays) != 0 {
		t.Fatalf("calls=%d delays=%v err=%v", calls, delays, err)
	}
}

func TestDo_SuccessAfterRetryLogsInfo(t *testing.T) {
	spy := &spyLogger{}
	var delays []time.Duration
	opts := recordSleeps(Options{Name: "email", MaxRetries: 3, Logger: spy}, &delays)

	calls := 0
	v, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", codeErr("ECONNRESET")
		}
		return "sent", nil
	})
	if err != nil || v != "sent" {
		t.Fatalf("Do = %q, %v", v, err)
	}
	infos := spy.byLevel("info")
	if len(infos) != 1 || kvValue(infos[0].kv, "attempt") != 2 {
		t.Fatalf("info logs = %+v", infos)
	}
	if len(spy.byLevel("error")) != 0 {
		t.Fatal("no error log expected on eventual success")
	}
}

func TestDo_FirstAttemptSuccessIsQuiet(t *testing.T) {
	spy := &spyLogger{}
	if err := Run(context.Background(), Options{Logger: spy}, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if len(spy.entries) != 0 {
		t.Fatalf("unexpected logs: %+v", spy.entries)
	}
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Options{MaxRetries: 1}, func(context.Context) error {
		calls++
		return &upstreamErr{status: 500}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestDo_CancelDuringSleepReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxRetries: 5, RetryDelay: time.Hour}
	want := &upstreamErr{status: 502}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, opts, func(context.Context) error {
			calls++
			return want
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != want {
			t.Fatalf("err = %v, want last operation error", err)
		}
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDo_MaxElapsedStopsEarly(t *testing.T) {
	var delays []time.Duration
	opts := recordSleeps(Options{MaxRetries: 10, RetryDelay: time.Minute, MaxElapsed: 30 * time.Second}, &delays)

	calls := 0
	_ = Run(context.Background(), opts, func(context.Context) error {
		calls++
		return &upstreamErr{status: 503}
	})
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("calls=%d delays=%v", calls, delays)
	}
}

func TestDo_CustomBackOff(t *testing.T) {
	var delays []time.Duration
	opts := recordSleeps(Options{
		MaxRetries: 4,
		BackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.Multiplier = 2
			b.RandomizationFactor = 0
			return b
		},
	}, &delays)

	_ = Run(context.Background(), opts, func(context.Context) error { return codeErr("ETIMEDOUT") })

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", delays, want)
		}
	}
}

func TestDo_Hooks(t *testing.T) {
	var retries, exhausted int
	opts := Options{
		MaxRetries:  3,
		OnRetry:     func(string, int, error) { retries++ },
		OnExhausted: func(_ string, attempts int, _ error) { exhausted = attempts },
		sleep:       func(context.Context, time.Duration) error { return nil },
	}
	_ = Run(context.Background(), opts, func(context.Context) error { return &upstreamErr{status: 429} })
	if retries != 2 || exhausted != 3 {
		t.Fatalf("retries=%d exhausted=%d", retries, exhausted)
	}
}

func TestDo_OptionsReusable(t *testing.T) {
	opts := Options{MaxRetries: 2, sleep: func(context.Context, time.Duration) error { return nil }}
	for i := 0; i < 2; i++ {
		calls := 0
		_ = Run(context.Background(), opts, func(context.Context) error {
			calls++
			return &upstreamErr{status: 500}
		})
		if calls != 2 {
			t.Fatalf("invocation %d: calls = %d", i, calls)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("nope"), false},
		{"429", &upstreamErr{status: 429}, true},
		{"500", &upstreamErr{status: 500}, true},
		{"404", &upstreamErr{status: 404}, false},
		{"wrapped 503", fmt.Errorf("checkout: %w", &upstreamErr{status: 503}), true},
		{"code", codeErr("ECONNREFUSED"), true},
		{"unknown code", codeErr("EACCES"), false},
		{"errno", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, true},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, true},
		{"timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err, DefaultRetryableCodes); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable_RespectsCodeList(t *testing.T) {
	if IsRetryable(codeErr("ECONNRESET"), []string{"ETIMEDOUT"}) {
		t.Fatal("code outside the configured list must not retry")
	}
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.MaxRetries != 3 || o.RetryDelay != time.Second || len(o.RetryableCodes) == 0 {
		t.Fatalf("DefaultOptions = %+v", o)
	}
}
