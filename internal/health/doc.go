// Package health provides the probes behind the liveness and readiness
// endpoints on the ops server.
//
// Probes compose with All (every probe must pass) and Any (one is enough).
// Ping adapts a dependency with a Ping method, such as the Redis rate limit
// store, and bounds it with a timeout. ShutdownGate fails readiness as soon
// as shutdown begins so load balancers drain the instance before the HTTP
// server stops accepting requests.
package health
