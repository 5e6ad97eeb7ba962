package pipeline

import (
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/log"
)

const internalMessage = "Internal server error"

type BoundaryOptions struct {
	// Logger overrides the request-scoped logger.
	Logger log.Logger

	// Production hides stacks, details and unclassified error text.
	Production bool

	// OnError is called once per converted failure, used for metrics.
	OnError func(kind apperr.Kind, status int)

	// OnPanic is called when a panic is recovered.
	OnPanic func()
}

// ErrorBoundary converts every error returned or panicked below it into a
// JSON error response. It should be the first middleware of a chain.
func ErrorBoundary(opts BoundaryOptions) Middleware {
	return func(rc *RequestContext, next Handler) (resp *Response, err error) {
		if rc.StartTime.IsZero() {
			rc.StartTime = time.Now()
		}

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			if opts.OnPanic != nil {
				opts.OnPanic()
			}
			resp, err = opts.convert(rc, panicError(p)), nil
		}()

		resp, err = next(rc)
		if err != nil {
			return opts.convert(rc, err), nil
		}
		return resp, nil
	}
}

func panicError(p any) error {
	if e, ok := p.(error); ok {
		if _, classified := apperr.As(e); classified {
			return e
		}
		return apperr.Internal(fmt.Errorf("panic: %w", e))
	}
	return apperr.Internal(fmt.Errorf("panic: %v", p))
}

func (o BoundaryOptions) convert(rc *RequestContext, err error) *Response {
	status := apperr.StatusOf(err)
	kind := apperr.KindOf(err)

	ctx := rc.Context()
	r := rc.Request
	log.Or(ctx, o.Logger).Error(ctx, err, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", time.Since(rc.StartTime).Milliseconds(),
	)
	if o.OnError != nil {
		o.OnError(kind, status)
	}

	body := map[string]any{
		"error":  o.publicMessage(err),
		"status": status,
	}
	if !o.Production {
		if stack := apperr.Stack(err); stack != "" {
			body["stack"] = stack
		}
		if details := diagnosticDetails(err); len(details) > 0 {
			body["details"] = details
		}
	}
	return JSON(status, body)
}

func (o BoundaryOptions) publicMessage(err error) string {
	if ae, ok := apperr.As(err); ok {
		return ae.Message()
	}
	if o.Production {
		return internalMessage
	}
	return err.Error()
}

func diagnosticDetails(err error) map[string]any {
	out := map[string]any{}
	if d := apperr.DetailsOf(err); d != nil {
		maps.Copy(out, d)
	}
	if chain := apperr.Chain(err); len(chain) > 1 {
		out["causes"] = chain[1:]
	}
	return out
}
