// Package httpmw holds the net/http middleware that runs in front of the
// router, before any request reaches the pipeline.
//
// httpserver composes it outermost first: panic recovery, security headers,
// request ID, client IP, body limit, OTEL tracing, metrics, then the
// request-scoped logger. Request bodies, query strings and user agents are
// never logged.
package httpmw
