package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekeeper/pkg/fingerprint"
	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/logger"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/pkg/useragent"
)

// Device is the client metadata recorded on a session.
type Device struct {
	IPAddress   string
	UserAgent   string
	Location    string
	Fingerprint string
}

type LoginInput struct {
	Identifier string
	Secret     string
	RememberMe bool
	Device     Device
}

// Principal is an authenticated caller.
type Principal struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`
	TokenID   string    `json:"-"`
	Roles     []string  `json:"roles"`
	// Permissions is the snapshot embedded in the access token, if any.
	Permissions []string `json:"permissions,omitempty"`
}

// Tokens is an issued access token and the refresh token that renews it.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Result is returned by Login and Refresh.
type Result struct {
	Tokens
	Session   *session.Session
	Principal Principal
}

type LogoutOptions struct {
	AllSessions bool
}

// Service runs the session and token lifecycle: login, validation, refresh,
// logout and session administration, plus authorization decisions.
type Service struct {
	cfg      Config
	tokens   *jwt.Service
	sessions *session.Manager
	engine   *rbac.Service
	verifier CredentialVerifier

	guard   *loginguard.Guard
	metrics *Metrics
	logger  *slog.Logger
	parseUA func(string) useragent.Info
	extract jwt.TokenExtractorFunc
	onError func(http.ResponseWriter, *http.Request, error)
}

func New(cfg Config, tokens *jwt.Service, sessions *session.Manager, engine *rbac.Service, verifier CredentialVerifier, opts ...Option) (*Service, error) {
	if tokens == nil || sessions == nil || engine == nil || verifier == nil {
		return nil, ErrMissingDependency
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		engine:   engine,
		verifier: verifier,
		logger:   slog.New(slog.DiscardHandler),
		parseUA:  useragent.Parse,
		extract:  jwt.BearerTokenExtractor,
		onError:  defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies credentials and opens a session. Failures are counted by
// the guard; a locked attempt returns a *loginguard.LockedError before the
// verifier is consulted.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Result, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if in.Identifier == "" || in.Secret == "" {
		s.metrics.login("invalid")
		return nil, ErrInvalidCredentials
	}

	attempt := loginguard.Attempt{IP: in.Device.IPAddress, Identifier: in.Identifier}
	if s.guard != nil {
		if err := s.guard.Check(ctx, attempt); err != nil {
			if errors.Is(err, loginguard.ErrLocked) {
				s.metrics.login("locked")
				s.logger.WarnContext(ctx, "login rejected, locked out", logger.IP(attempt.IP), logger.Error(err))
			}
			return nil, err
		}
	}

	userID, err := s.verifier.Verify(ctx, in.Identifier, in.Secret)
	if errors.Is(err, ErrInvalidCredentials) {
		s.metrics.login("failure")
		s.recordFailure(ctx, attempt)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.login("error")
		return nil, fmt.Errorf("verify credentials: %w", err)
	}

	if s.guard != nil {
		if err := s.guard.Reset(ctx, attempt); err != nil {
			s.logger.WarnContext(ctx, "login guard reset failed", logger.Error(err))
		}
	}

	res, err := s.startSession(ctx, userID, in.RememberMe, in.Device)
	if err != nil {
		if errors.Is(err, ErrSessionLimitReached) {
			s.metrics.login("session_limit")
		} else {
			s.metrics.login("error")
		}
		return nil, err
	}
	s.metrics.login("success")
	s.logger.InfoContext(ctx, "login succeeded",
		logger.UserID(userID), logger.SessionID(res.Session.ID), logger.IP(in.Device.IPAddress),
		"remember_me", in.RememberMe)
	return res, nil
}

func (s *Service) recordFailure(ctx context.Context, a loginguard.Attempt) {
	if s.guard == nil {
		return
	}
	st, err := s.guard.RecordFailure(ctx, a)
	if err != nil {
		s.logger.WarnContext(ctx, "login failure not recorded", logger.Error(err))
		return
	}
	s.logger.InfoContext(ctx, "login failed", logger.IP(a.IP), "remaining", st.Remaining, "locked", st.Locked)
}

func (s *Service) startSession(ctx context.Context, userID uuid.UUID, rememberMe bool, dev Device) (*Result, error) {
	if err := s.checkSessionLimit(ctx, userID); err != nil {
		return nil, err
	}

	sub, err := s.subject(ctx, userID, uuid.New())
	if err != nil {
		return nil, err
	}
	ttl := s.cfg.RefreshTTL
	if rememberMe {
		ttl = s.cfg.RememberMeTTL
	}
	pair, err := s.tokens.IssuePair(sub, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	ua := s.parseUA(dev.UserAgent)
	sess := &session.Session{
		ID:                sub.SessionID,
		UserID:            userID,
		TokenID:           pair.TokenID,
		TokenFingerprint:  fingerprint.TokenPair(pair.AccessToken, pair.RefreshToken),
		RefreshTokenHash:  fingerprint.Token(pair.RefreshToken),
		IPAddress:         dev.IPAddress,
		UserAgent:         dev.UserAgent,
		Device:            ua.Device,
		Browser:           strings.TrimSpace(ua.Browser + " " + ua.BrowserVersion),
		OS:                ua.OS,
		Location:          dev.Location,
		DeviceFingerprint: dev.Fingerprint,
		RememberMe:        rememberMe,
		ExpiresAt:         pair.RefreshExpiresAt,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.trimSessions(ctx, userID, sess.ID)

	return &Result{
		Tokens:    tokensOf(pair.AccessToken, pair.RefreshToken, pair.AccessExpiresAt, pair.RefreshExpiresAt),
		Session:   sess,
		Principal: principalOf(sub, pair.TokenID),
	}, nil
}

// subject gathers the roles, and the permission snapshot when enabled,
// that go into a token.
func (s *Service) subject(ctx context.Context, userID, sessionID uuid.UUID) (jwt.Subject, error) {
	roles, err := s.engine.RoleNames(ctx, userID)
	if err != nil {
		return jwt.Subject{}, fmt.Errorf("load roles: %w", err)
	}
	sub := jwt.Subject{UserID: userID, SessionID: sessionID, Roles: roles}
	if s.cfg.embedPermissions() {
		set, err := s.resolve(ctx, userID)
		if err != nil {
			return jwt.Subject{}, fmt.Errorf("resolve permissions: %w", err)
		}
		sub.Permissions = set
	}
	return sub, nil
}

func (s *Service) checkSessionLimit(ctx context.Context, userID uuid.UUID) error {
	if s.cfg.MaxSessions == 0 || s.cfg.SessionLimitPolicy != Reject {
		return nil
	}
	active, err := s.sessions.ListByUser(ctx, userID, true)
	if err != nil {
		return err
	}
	if len(active) >= s.cfg.MaxSessions {
		return ErrSessionLimitReached
	}
	return nil
}

// trimSessions revokes the oldest active sessions other than keep until the
// user is back at the limit. A failure here leaves the login intact.
func (s *Service) trimSessions(ctx context.Context, userID, keep uuid.UUID) {
	if s.cfg.MaxSessions == 0 || s.cfg.SessionLimitPolicy != RevokeOldest {
		return
	}
	active, err := s.sessions.ListByUser(ctx, userID, true)
	if err != nil {
		s.logger.ErrorContext(ctx, "session limit not enforced", logger.UserID(userID), logger.Error(err))
		return
	}
	excess := len(active) - s.cfg.MaxSessions
	n := 0
	for _, old := range active {
		if excess <= 0 {
			break
		}
		if old.ID == keep {
			continue
		}
		changed, err := s.sessions.Revoke(ctx, old.ID, session.ReasonSessionLimit)
		if err != nil {
			s.logger.ErrorContext(ctx, "session limit not enforced", logger.SessionID(old.ID), logger.Error(err))
			continue
		}
		if changed {
			n++
		}
		excess--
	}
	s.metrics.revoked(session.ReasonSessionLimit, n)
}

// ValidateAccessToken authenticates token. It requires a valid signature,
// an unexpired token and an active session whose current token ID is the
// token's. Every credential failure is reported as ErrUnauthenticated;
// storage failures are returned as they are.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*Principal, error) {
	return s.authenticate(ctx, token, "")
}

func (s *Service) authenticate(ctx context.Context, token, ip string) (*Principal, error) {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return nil, s.reject(ctx, tokenFailure(err), err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, s.reject(ctx, "invalid_token", err)
	}
	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, s.reject(ctx, "invalid_token", err)
	}

	sess, err := s.sessions.Validate(ctx, sid, claims.ID)
	if err != nil {
		if reason, ok := sessionFailure(err); ok {
			return nil, s.reject(ctx, reason, err, logger.SessionID(sid))
		}
		s.metrics.validation("error")
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID {
		return nil, s.reject(ctx, "subject_mismatch", nil, logger.SessionID(sid))
	}

	s.sessions.Touch(sess, ip)
	s.metrics.validation("ok")
	p := principalOf(jwt.Subject{
		UserID:      userID,
		SessionID:   sid,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, claims.ID)
	return &p, nil
}

func (s *Service) reject(ctx context.Context, reason string, cause error, attrs ...any) error {
	s.metrics.validation(reason)
	args := append([]any{"reason", reason, logger.Error(cause)}, attrs...)
	s.logger.InfoContext(ctx, "access token rejected", args...)
	return ErrUnauthenticated
}

func tokenFailure(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return "expired"
	case errors.Is(err, jwt.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, jwt.ErrWrongTokenType):
		return "wrong_type"
	default:
		return "invalid_token"
	}
}

func sessionFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrSessionRevoked):
		return "revoked", true
	case errors.Is(err, session.ErrSessionExpired):
		return "session_expired", true
	case errors.Is(err, session.ErrSessionNotFound):
		return "session_not_found", true
	case errors.Is(err, session.ErrTokenMismatch):
		return "superseded", true
	}
	return "", false
}

// Refresh trades a refresh token for a new access token. With rotation on,
// a new refresh token is issued as well and the session lifetime restarts
// from now. Presenting a refresh token that is no longer the session's
// current one revokes the session and returns ErrRefreshTokenReused.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev Device) (*Result, error) {
	res, err := s.refresh(ctx, refreshToken, dev)
	switch {
	case err == nil:
		s.metrics.refresh("ok")
	case errors.Is(err, ErrRefreshTokenReused):
		s.metrics.refresh("reused")
	case errors.Is(err, ErrUnauthenticated):
		s.metrics.refresh("rejected")
	default:
		s.metrics.refresh("error")
	}
	return res, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string, dev Device) (*Result, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.logger.InfoContext(ctx, "refresh token rejected", "reason", tokenFailure(err), logger.Error(err))
		return nil, ErrUnauthenticated
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}
	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	sess, err := s.sessions.Get(ctx, sid)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID || !sess.Active(s.sessions.Now()) {
		s.logger.InfoContext(ctx, "refresh on inactive session", logger.SessionID(sid), "state", sess.State(s.sessions.Now()))
		return nil, ErrUnauthenticated
	}
	presented := fingerprint.Token(refreshToken)
	if !sess.MatchesRefreshHash(presented) {
		return nil, s.refreshReused(ctx, userID, sid, dev)
	}

	sub, err := s.subject(ctx, userID, sid)
	if err != nil {
		return nil, err
	}

	var out Tokens
	if s.cfg.RefreshRotation {
		ttl := s.cfg.RefreshTTL
		if sess.RememberMe {
			ttl = s.cfg.RememberMeTTL
		}
		pair, err := s.tokens.IssuePair(sub, ttl)
		if err != nil {
			return nil, fmt.Errorf("issue tokens: %w", err)
		}
		out = tokensOf(pair.AccessToken, pair.RefreshToken, pair.AccessExpiresAt, pair.RefreshExpiresAt)
		sess.TokenID = pair.TokenID
		sess.RefreshTokenHash = fingerprint.Token(pair.RefreshToken)
		sess.ExpiresAt = pair.RefreshExpiresAt
	} else {
		access, jti, exp, err := s.tokens.IssueAccess(sub)
		if err != nil {
			return nil, fmt.Errorf("issue access token: %w", err)
		}
		out = tokensOf(access, refreshToken, exp, sess.ExpiresAt)
		sess.TokenID = jti
	}
	sess.TokenFingerprint = fingerprint.TokenPair(out.AccessToken, out.RefreshToken)
	sess.LastActivityAt = s.sessions.Now()
	if dev.IPAddress != "" {
		sess.IPAddress = dev.IPAddress
	}
	switch err := s.sessions.Rotate(ctx, sess, presented); {
	case err == nil:
	case errors.Is(err, session.ErrRefreshMismatch):
		return nil, s.refreshReused(ctx, userID, sid, dev)
	case errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrSessionNotFound):
		s.logger.InfoContext(ctx, "session closed during refresh", logger.SessionID(sid), logger.Error(err))
		return nil, ErrUnauthenticated
	default:
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	s.logger.DebugContext(ctx, "tokens refreshed", logger.UserID(userID), logger.SessionID(sid), "rotated", s.cfg.RefreshRotation)
	return &Result{Tokens: out, Session: sess, Principal: principalOf(sub, sess.TokenID)}, nil
}

// refreshReused revokes a session whose superseded refresh token was
// presented again.
func (s *Service) refreshReused(ctx context.Context, userID, sid uuid.UUID, dev Device) error {
	if _, err := s.sessions.Revoke(ctx, sid, session.ReasonRefreshReuse); err != nil {
		return fmt.Errorf("revoke session after refresh reuse: %w", err)
	}
	s.metrics.revoked(session.ReasonRefreshReuse, 1)
	s.logger.WarnContext(ctx, "refresh token reuse detected, session revoked",
		logger.UserID(userID), logger.SessionID(sid), logger.IP(dev.IPAddress))
	return ErrRefreshTokenReused
}

// Logout revokes the session behind accessToken, or every session of its
// user. It returns how many sessions were revoked.
func (s *Service) Logout(ctx context.Context, accessToken string, opts LogoutOptions) (int, error) {
	p, err := s.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return 0, err
	}
	if opts.AllSessions {
		n, err := s.sessions.RevokeUser(ctx, p.UserID, uuid.Nil, session.ReasonLogoutAll)
		s.metrics.revoked(session.ReasonLogoutAll, n)
		return n, err
	}
	changed, err := s.sessions.Revoke(ctx, p.SessionID, session.ReasonLogout)
	if err != nil || !changed {
		return 0, err
	}
	s.metrics.revoked(session.ReasonLogout, 1)
	return 1, nil
}

// GetUserSessions lists the sessions of userID, oldest first.
func (s *Service) GetUserSessions(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]session.Session, error) {
	return s.sessions.ListByUser(ctx, userID, activeOnly)
}

// RevokeSession revokes one session of userID. Revoking an inactive session
// is a no-op; a session of another user is reported as not found.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, reason string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return session.ErrSessionNotFound
	}
	if reason == "" {
		reason = session.ReasonRevoked
	}
	changed, err := s.sessions.Revoke(ctx, sessionID, reason)
	if err != nil {
		return err
	}
	if changed {
		s.metrics.revoked(reason, 1)
	}
	return nil
}

// RevokeAllSessions revokes every active session of userID, keeping except
// when it is non-nil.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID, except *uuid.UUID, reason string) (int, error) {
	keep := uuid.Nil
	if except != nil {
		keep = *except
	}
	if reason == "" {
		reason = session.ReasonRevoked
	}
	n, err := s.sessions.RevokeUser(ctx, userID, keep, reason)
	s.metrics.revoked(reason, n)
	return n, err
}

// TouchActivity records activity on a session synchronously.
func (s *Service) TouchActivity(ctx context.Context, sessionID uuid.UUID, ip string) error {
	return s.sessions.TouchNow(ctx, sessionID, ip)
}

func tokensOf(access, refresh string, accessExp, refreshExp time.Time) Tokens {
	return Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
}

func principalOf(sub jwt.Subject, tokenID string) Principal {
	return Principal{
		UserID:      sub.UserID,
		SessionID:   sub.SessionID,
		TokenID:     tokenID,
		Roles:       sub.Roles,
		Permissions: sub.Permissions,
	}
}
