package pipeline

import (
	"net/http"
	"reflect"
)

// Endpoint is the terminal business handler of a chain.
type Endpoint func(rc *RequestContext) (any, error)

// Handler is a composed chain, or the remainder of one seen from a middleware.
type Handler func(rc *RequestContext) (*Response, error)

// Middleware wraps next. It may short-circuit by returning without calling it.
type Middleware func(rc *RequestContext, next Handler) (*Response, error)

// Chain composes mws around endpoint, first middleware outermost. nil
// entries are skipped. Chain keeps no state, every call returns an
// independent Handler.
func Chain(endpoint Endpoint, mws ...Middleware) Handler {
	h := Handler(func(rc *RequestContext) (*Response, error) {
		v, err := endpoint(rc)
		if err != nil {
			return nil, err
		}
		return normalize(v), nil
	})

	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		mw, next := mws[i], h
		h = func(rc *RequestContext) (*Response, error) {
			return mw(rc, next)
		}
	}
	return h
}

// normalize turns an endpoint result into a Response. Responses are copied
// so middleware headers never land in a value the endpoint reuses; collections and records become the JSON body and anything else
// is wrapped as {"data": v}.
func normalize(v any) *Response {
	switch r := v.(type) {
	case *Response:
		if r != nil {
			return r.clone()
		}
		return JSON(http.StatusOK, map[string]any{"data": nil})
	case Response:
		return r.clone()
	case nil:
		return JSON(http.StatusOK, map[string]any{"data": nil})
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return JSON(http.StatusOK, map[string]any{"data": nil})
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return JSON(http.StatusOK, v)
	default:
		return JSON(http.StatusOK, map[string]any{"data": v})
	}
}

// ServeHTTP runs the chain for one request. An error that escapes a chain
// without an ErrorBoundary becomes a bare 500.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := NewRequestContext(r)
	resp, err := h(rc)
	if err != nil {
		rc.Logger().Error(r.Context(), err, "unhandled pipeline error",
			"method", r.Method,
			"path", r.URL.Path,
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := resp.Write(w); err != nil {
		rc.Logger().Debug(r.Context(), "response write failed", "err", err)
	}
}
