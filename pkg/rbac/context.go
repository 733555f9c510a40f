package rbac

import "context"

type grantedCtxKey struct{}

// WithGranted stores a resolved set of permission names in ctx.
func WithGranted(ctx context.Context, names []string) context.Context {
	return context.WithValue(ctx, grantedCtxKey{}, names)
}

// GrantedFromContext returns the permission names stored by WithGranted.
func GrantedFromContext(ctx context.Context) ([]string, bool) {
	names, ok := ctx.Value(grantedCtxKey{}).([]string)
	return names, ok
}

// CanFromContext checks required against the names stored in ctx. A missing
// set denies.
func CanFromContext(ctx context.Context, required ...string) error {
	names, ok := GrantedFromContext(ctx)
	if !ok || !HasAllPermissions(names, required...) {
		return ErrInsufficientPermissions
	}
	return nil
}
