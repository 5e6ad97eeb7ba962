package pipeline

import (
	"fmt"
	"net/http"
	"time"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/log"
)

// Logging records the start and completion of each request. Errors are
// logged and passed up unchanged; panics are logged and re-raised.
func Logging(l log.Logger) Middleware {
	return func(rc *RequestContext, next Handler) (resp *Response, err error) {
		if rc.StartTime.IsZero() {
			rc.StartTime = time.Now()
		}
		ctx := rc.Context()
		lg := log.Or(ctx, l)
		r := rc.Request

		lg.Debug(ctx, "request started", "method", r.Method, "path", r.URL.Path)

		completed := false
		defer func() {
			if completed {
				return
			}
			p := recover()
			lg.Error(ctx, apperr.EnsureTrace(fmt.Errorf("panic: %v", p)), "request panicked",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(rc.StartTime).Milliseconds(),
			)
			panic(p)
		}()

		resp, err = next(rc)
		completed = true

		elapsed := time.Since(rc.StartTime).Milliseconds()
		if err != nil {
			lg.Error(ctx, err, "request errored",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", elapsed,
			)
			return nil, err
		}

		status := http.StatusOK
		if resp != nil && resp.Status != 0 {
			status = resp.Status
		}
		lg.Info(ctx, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed,
		)
		return resp, nil
	}
}
