// Package apperr is the error taxonomy for the request pipeline.
//
// Failures are constructed explicitly at the throw site with a Kind, which
// fixes their HTTP status. An explicit status attached with WithStatus wins
// over the kind's default; anything that is not an *Error resolves to 500.
// Errors capture the caller's stack so the logger and the non-production
// error body can render it.
package apperr

import (
	"errors"
	"fmt"
	"maps"
)

// Error is a classified failure.
type Error struct {
	kind    Kind
	status  int
	msg     string
	details map[string]any
	cause   error
	pcs     []uintptr
}

func newError(kind Kind, msg string, cause error) *Error {
	if msg == "" {
		msg = kind.Message()
	}
	return &Error{kind: kind, msg: msg, cause: cause, pcs: captureStack(3)}
}

// New returns an error of the given kind. An empty msg uses the kind's default.
func New(kind Kind, msg string) *Error { return newError(kind, msg, nil) }

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return newError(kind, fmt.Sprintf(format, args...), nil)
}

// From classifies cause under kind. The cause stays reachable through
// errors.Unwrap but its text is not part of the public message.
func From(cause error, kind Kind, msg string) *Error { return newError(kind, msg, cause) }

func Validation(msg string) *Error   { return newError(KindValidation, msg, nil) }
func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }
func Forbidden(msg string) *Error    { return newError(KindForbidden, msg, nil) }
func NotFound(msg string) *Error     { return newError(KindNotFound, msg, nil) }
func Conflict(msg string) *Error     { return newError(KindConflict, msg, nil) }
func RateLimited(msg string) *Error  { return newError(KindRateLimit, msg, nil) }
func Internal(cause error) *Error    { return newError(KindInternal, "", cause) }

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error       { return e.cause }
func (e *Error) Kind() Kind          { return e.kind }
func (e *Error) Message() string     { return e.msg }
func (e *Error) StackPCs() []uintptr { return e.pcs }

// Status resolves the HTTP status: explicit status first, then the kind's.
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	return e.kind.Status()
}

// Details returns a copy of the diagnostic fields attached to the error.
func (e *Error) Details() map[string]any {
	if len(e.details) == 0 {
		return nil
	}
	return maps.Clone(e.details)
}

// WithStatus attaches an explicit HTTP status that overrides the kind default.
func (e *Error) WithStatus(code int) *Error {
	e.status = code
	return e
}

// WithDetail attaches a diagnostic field. Details are never shown in production.
func (e *Error) WithDetail(key string, v any) *Error {
	if e.details == nil {
		e.details = make(map[string]any, 2)
	}
	e.details[key] = v
	return e
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

// StatusOf maps any error to exactly one HTTP status.
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	if ae, ok := As(err); ok {
		return ae.Status()
	}
	return KindInternal.Status()
}

// KindOf returns the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.kind
	}
	return KindInternal
}

// DetailsOf returns the details attached to the outermost *Error, if any.
func DetailsOf(err error) map[string]any {
	if ae, ok := As(err); ok {
		return ae.Details()
	}
	return nil
}
