// Package loginguard throttles password guessing.
//
// Each failed login counts once against two sliding-window keys: the client
// IP and the IP+identifier pair. Reaching MaxAttempts on the pair, or
// IPMaxAttempts on the IP, locks that key for LockoutDuration. Check is
// consulted before credentials are verified and returns a *LockedError
// (errors.Is ErrLocked) with the time left.
//
//	guard, err := loginguard.New(ratelimit.NewRedisStore(client, "gatekeeper:"), cfg)
//	attempt := loginguard.Attempt{IP: ip, Identifier: email}
//	if err := guard.Check(ctx, attempt); err != nil {
//		return err
//	}
//	if !verified {
//		_, _ = guard.RecordFailure(ctx, attempt)
//		return ErrInvalidCredentials
//	}
//	_ = guard.Reset(ctx, attempt)
package loginguard
