package dispatch

import "context"

type callerKey struct{}

// WithCaller attaches an opaque caller identity. The engine trusts it as
// given and only records it.
func WithCaller(ctx context.Context, caller string) context.Context {
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}
