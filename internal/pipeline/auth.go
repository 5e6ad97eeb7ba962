package pipeline

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
)

// ErrNoCredentials is returned by an Authenticator when the request carries
// no credentials at all, as opposed to bad ones.
var ErrNoCredentials = errors.New("no credentials")

// Authenticator resolves the caller of r.
type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

type authResult struct {
	user *User
	err  error
}

// authKey caches the outcome of the chain's Authenticator so IdentifyUser and
// Authenticate resolve the caller once. A chain uses a single Authenticator.
var authKey = NewKey[authResult]("auth")

func resolveUser(a Authenticator, rc *RequestContext) (*User, error) {
	if r, ok := Get(rc, authKey); ok {
		return r.user, r.err
	}
	u, err := a.Authenticate(rc.Request)
	Set(rc, authKey, authResult{user: u, err: err})
	return u, err
}

// Authenticate resolves rc.User. Anonymous calls pass through unless
// required is set; invalid credentials are always rejected.
func Authenticate(a Authenticator, required bool) Middleware {
	return func(rc *RequestContext, next Handler) (*Response, error) {
		u, err := resolveUser(a, rc)
		switch {
		case errors.Is(err, ErrNoCredentials):
			if required {
				return nil, apperr.Unauthorized("Authentication required")
			}
		case err != nil:
			return nil, apperr.From(err, apperr.KindUnauthorized, "Invalid credentials")
		default:
			rc.User = u
		}
		return next(rc)
	}
}

// IdentifyUser keys RateLimit by user id for valid credentials. Anonymous
// callers and bad credentials return "" and are counted by client IP, so a
// RateLimit placed ahead of Authenticate throttles token guessing too.
func IdentifyUser(a Authenticator) func(rc *RequestContext) string {
	return func(rc *RequestContext) string {
		u, err := resolveUser(a, rc)
		if err != nil || u == nil {
			return ""
		}
		return u.ID
	}
}

// RequireRole rejects callers without role. It must run after Authenticate.
func RequireRole(role string) Middleware {
	return func(rc *RequestContext, next Handler) (*Response, error) {
		if rc.User == nil {
			return nil, apperr.Unauthorized("Authentication required")
		}
		if !rc.User.HasRole(role) {
			return nil, apperr.Forbidden("")
		}
		return next(rc)
	}
}
