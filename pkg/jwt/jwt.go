package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the two halves of a pair.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims is the payload of both token types. Access and refresh tokens of
// one pair share ID (jti).
type Claims struct {
	gojwt.RegisteredClaims
	SessionID   string    `json:"sid"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"perms,omitempty"`
	Type        TokenType `json:"typ"`
}

// UserID parses the subject.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, errors.Join(ErrMissingSubject, err)
	}
	return id, nil
}

// Subject is who a pair is issued to.
type Subject struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Roles     []string
	// Permissions is an optional snapshot of granted permission names.
	Permissions []string
}

// Pair is a freshly issued access and refresh token.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	TokenID          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service signs and verifies HS256 tokens. Access and refresh tokens use
// different keys, so neither can stand in for the other.
type Service struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// New validates the keys in cfg and creates a service.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, ErrMissingSigningKey
	}
	if len(cfg.AccessSecret) < MinKeyLength || len(cfg.RefreshSecret) < MinKeyLength {
		return nil, ErrInvalidSigningKey
	}
	access, refresh := []byte(cfg.AccessSecret), []byte(cfg.RefreshSecret)
	if bytes.Equal(access, refresh) {
		return nil, ErrSameSigningKeys
	}

	s := &Service{
		accessKey:  access,
		refreshKey: refresh,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 15 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the lifetime of access tokens.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// IssuePair signs an access token and a refresh token living refreshTTL.
func (s *Service) IssuePair(sub Subject, refreshTTL time.Duration) (*Pair, error) {
	if sub.UserID == uuid.Nil {
		return nil, ErrMissingSubject
	}
	now := s.now()
	jti := uuid.NewString()

	access, accessExp, err := s.sign(sub, TypeAccess, jti, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.sign(sub, TypeRefresh, jti, now, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenID:          jti,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess signs a lone access token with a new ID.
func (s *Service) IssueAccess(sub Subject) (token, tokenID string, expiresAt time.Time, err error) {
	if sub.UserID == uuid.Nil {
		return "", "", time.Time{}, ErrMissingSubject
	}
	tokenID = uuid.NewString()
	token, expiresAt, err = s.sign(sub, TypeAccess, tokenID, s.now(), s.accessTTL)
	return token, tokenID, expiresAt, err
}

func (s *Service) sign(sub Subject, typ TokenType, jti string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
		SessionID: sub.SessionID.String(),
		Roles:     sub.Roles,
		Type:      typ,
	}
	if typ == TypeAccess {
		claims.Permissions = sub.Permissions
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key(typ))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// ParseAccess verifies an access token.
func (s *Service) ParseAccess(token string) (*Claims, error) {
	return s.parse(token, TypeAccess)
}

// ParseRefresh verifies a refresh token.
func (s *Service) ParseRefresh(token string) (*Claims, error) {
	return s.parse(token, TypeRefresh)
}

func (s *Service) parse(token string, typ TokenType) (*Claims, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(s.now),
		gojwt.WithExpirationRequired(),
		gojwt.WithIssuedAt(),
		gojwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(s.issuer))
	}

	var claims Claims
	parsed, err := gojwt.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return s.key(typ), nil
	}, opts...)
	switch {
	case err == nil && parsed.Valid:
	case errors.Is(err, gojwt.ErrTokenExpired):
		return nil, errors.Join(ErrExpiredToken, err)
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid):
		return nil, errors.Join(ErrInvalidSignature, err)
	default:
		return nil, errors.Join(ErrInvalidToken, err)
	}

	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (s *Service) key(typ TokenType) []byte {
	if typ == TypeRefresh {
		return s.refreshKey
	}
	return s.accessKey
}
