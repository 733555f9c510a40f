// Package auth runs the session and token lifecycle on top of the rbac
// engine.
//
// Login consults the login guard, verifies credentials through an injected
// CredentialVerifier, reads the user's roles (and optionally a permission
// snapshot) and issues an access/refresh token pair bound to a new session.
// ValidateAccessToken accepts a token only while its session is active and
// still points at the token's ID, so revoking a session invalidates its
// tokens at once. Refresh rotates the pair by default and treats a stale
// refresh token as theft, revoking the session.
//
// Authorize decides against live resolution (the default) or the snapshot
// carried in the token, per AuthorizationPolicy. RequireAuth,
// RequirePermission and RequireAny expose the same checks as net/http
// middleware.
//
// Sweeper schedules session, assignment and binding expiry with
// robfig/cron; Metrics exports Prometheus counters for logins, validations,
// refreshes, revocations and lockouts.
package auth
