// Package httpapi exposes the authorization engine and the session service
// over JSON/HTTP.
//
// Routes live under /v1:
//
//	POST   /v1/auth/login                 credentials in, token pair out
//	POST   /v1/auth/refresh               refresh token in, new pair out
//	POST   /v1/auth/logout?all=true       revoke the current or every session
//	GET    /v1/auth/me                    caller identity and permissions
//	GET    /v1/auth/sessions              caller's sessions
//	DELETE /v1/auth/sessions/{sessionID}  revoke one of them
//	DELETE /v1/auth/sessions              revoke all but the current one
//
// and the administrative /v1/rbac tree (roles, permissions, grants, user
// bindings, resolution and user sessions), guarded by the rbac.read,
// rbac.write and sessions.manage permissions. Bootstrap creates those
// permissions and an admin role holding them.
//
// Responses use one envelope: {"data": ..., "meta": ...} on success and
// {"error": {"code", "message", "details", "request_id"}} on failure. Engine
// errors map to status codes by kind: not found 404, conflict, capacity and
// dependency violations 409, expired 410, validation 422, unauthenticated
// 401, forbidden 403 and login lockout 429 with Retry-After.
//
// Login and refresh are rate limited per client IP with go-chi/httprate.
// Every response carries security headers from unrolled/secure.
package httpapi
