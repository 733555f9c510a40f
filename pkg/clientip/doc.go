// Package clientip resolves the client address of an HTTP request for
// session metadata and login throttling.
//
// Forwarding headers (CF-Connecting-IP, X-Forwarded-For, X-Real-IP) are read
// only when the direct peer belongs to a configured trusted proxy range.
// X-Forwarded-For is walked from the right, skipping trusted hops.
//
//	ips, err := clientip.New([]string{"10.0.0.0/8"})
//	router.Use(ips.Middleware)
//	ip := clientip.FromContext(r.Context())
package clientip
