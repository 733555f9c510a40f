// Package session stores authenticated login sessions and drives their
// lifecycle.
//
// A Session is created active and moves once into a terminal state: expired
// (its ExpiresAt passed, or the expiry sweep deactivated it) or revoked
// (logout, explicit revocation, session limit, refresh token reuse). Only
// hashes of issued tokens are stored. TokenID holds the jti of the access
// token currently bound to the session.
//
// Two stores are provided: MemoryStore for tests and single instances, and
// RedisStore which keeps JSON records with a per-user index and an expiry
// sorted set.
//
// Manager validates sessions against a token ID, revokes one or all sessions
// of a user and records activity. Activity touches go through a buffered
// channel served by one worker goroutine; when the buffer is full the touch
// is dropped so request paths never block on a store write.
//
//	mgr := session.NewManager(session.NewRedisStore(client), session.WithLogger(log))
//	defer mgr.Close(ctx)
//
//	s, err := mgr.Validate(ctx, sessionID, claims.ID)
//	if err == nil {
//		mgr.Touch(s, clientIP)
//	}
package session
