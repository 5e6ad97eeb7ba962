// Package pipeline composes per-route request handling out of small
// middleware units around a terminal endpoint.
//
// A route is built with Chain(endpoint, mws...). The first middleware is
// the outermost: it runs first on the way in and last on the way out. Each
// middleware receives the RequestContext and the next Handler and either
// short-circuits with its own Response or calls next.
//
// Failures travel as returned errors, classified with apperr at the point
// they are constructed. ErrorBoundary, placed first in every chain, turns
// any error or recovered panic into the JSON error body; Validation and
// RateLimit answer directly without involving it.
package pipeline
