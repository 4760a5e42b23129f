package ctxutil

import "context"

// Default guards against a nil context reaching a call that requires one
// (common at package boundaries where a caller forgot ctx.Background()).
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
