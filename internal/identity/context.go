package identity

import "context"

type contextKey struct{}

// NewContext returns a context carrying the given user.
func NewContext(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the user attached to the context, if any.
func FromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok && user.Authenticated()
}
