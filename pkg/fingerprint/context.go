package fingerprint

import (
	"context"
	"net/http"
)

type deviceContextKey struct{}

func WithDevice(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, fp)
}

// DeviceFromContext returns the fingerprint stored by Middleware, or "".
func DeviceFromContext(ctx context.Context) string {
	fp, _ := ctx.Value(deviceContextKey{}).(string)
	return fp
}

// Middleware stores the Device fingerprint of each request in its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), Device(r))))
	})
}
