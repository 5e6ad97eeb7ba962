// Package adapter holds the outbound collaborators the API calls: the
// payment provider, the email provider, object storage and the secret store.
//
// Adapters are constructed once at startup and injected into the routes
// that use them. Every outbound call runs through retry, so transient
// provider failures are absorbed here and callers only see the last error.
package adapter
