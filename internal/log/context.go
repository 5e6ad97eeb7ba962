package log

import "context"

type ctxKey struct{}

// WithContext returns ctx carrying l. Request handlers attach a logger
// enriched with request_id so everything downstream inherits it.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored in ctx, or Nop.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return Nop()
	}
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}

// Or returns l, falling back to the context logger when l is nil.
func Or(ctx context.Context, l Logger) Logger {
	if l != nil {
		return l
	}
	return FromContext(ctx)
}
