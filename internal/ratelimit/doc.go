// Package ratelimit implements tiered fixed-budget sliding windows over a
// shared counter store.
//
// Each (route, identifier) pair owns one window, keyed
// "ratelimit:<route>:<identifier>". The window opens on the first counted
// call and is never extended by later calls; once it expires the next call
// opens a fresh one. Every call increments the counter, including calls that
// end up rejected, so a client hammering a closed window stays closed.
//
// Two stores are provided: MemoryStore for a single process and tests, and
// RedisStore for deployments with more than one instance. Store outages are
// handled by the Limiter's Policy: FailOpen admits the call, FailClosed
// rejects it. Either way the error is reported through the OnStoreError hook
// and a throttled warning, never surfaced to the caller as a crash.
package ratelimit
