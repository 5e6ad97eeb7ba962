package apperr

import "net/http"

// Kind is the closed set of failure classes a request can end in.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimit
)

type kindInfo struct {
	name    string
	status  int
	message string
}

var kinds = [...]kindInfo{
	KindInternal:     {"InternalError", http.StatusInternalServerError, "Internal server error"},
	KindValidation:   {"ValidationError", http.StatusBadRequest, "Validation failed"},
	KindUnauthorized: {"UnauthorizedError", http.StatusUnauthorized, "Unauthorized"},
	KindForbidden:    {"ForbiddenError", http.StatusForbidden, "Forbidden"},
	KindNotFound:     {"NotFoundError", http.StatusNotFound, "Not found"},
	KindConflict:     {"ConflictError", http.StatusConflict, "Conflict"},
	KindRateLimit:    {"RateLimitError", http.StatusTooManyRequests, "Too many requests"},
}

func (k Kind) info() kindInfo {
	if int(k) >= len(kinds) {
		return kinds[KindInternal]
	}
	return kinds[k]
}

// String returns the kind's name, e.g. "NotFoundError".
func (k Kind) String() string { return k.info().name }

// Status is the default HTTP status for the kind. Unknown kinds map to 500.
func (k Kind) Status() int { return k.info().status }

// Message is the default user-facing message for the kind.
func (k Kind) Message() string { return k.info().message }
