package pipeline

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/keithlinneman/coachdesk-api/internal/log"
)

// User is the authenticated principal resolved by Authenticate.
type User struct {
	ID    string
	Email string
	Roles []string
}

func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// RequestContext is the per-call state shared by one chain. It is created
// once per inbound request and never shared between requests.
type RequestContext struct {
	Request *http.Request

	// Validated holds the decoded payload stored by ValidateBody or ValidateQuery.
	Validated any

	// User is nil for anonymous calls.
	User *User

	// StartTime is set by the first middleware that needs it.
	StartTime time.Time

	values map[any]any
}

func NewRequestContext(r *http.Request) *RequestContext {
	return &RequestContext{Request: r}
}

// Context returns the inbound request's context.
func (rc *RequestContext) Context() context.Context {
	if rc.Request == nil {
		return context.Background()
	}
	return rc.Request.Context()
}

// Logger returns the request-scoped logger attached by the outer stack.
func (rc *RequestContext) Logger() log.Logger {
	return log.FromContext(rc.Context())
}

// Key is a typed slot for values a middleware hands to the ones after it.
// Keys compare by identity, so two keys with the same name never collide.
type Key[T any] struct{ name string }

func NewKey[T any](name string) *Key[T] { return &Key[T]{name: name} }

func (k *Key[T]) String() string { return k.name }

func Set[T any](rc *RequestContext, k *Key[T], v T) {
	if rc.values == nil {
		rc.values = make(map[any]any, 2)
	}
	rc.values[k] = v
}

func Get[T any](rc *RequestContext, k *Key[T]) (T, bool) {
	v, ok := rc.values[k].(T)
	return v, ok
}

// ValidatedAs returns the validated payload as T.
func ValidatedAs[T any](rc *RequestContext) (T, bool) {
	v, ok := rc.Validated.(T)
	return v, ok
}
