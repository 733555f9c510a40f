// Package jwt issues and verifies the signed bearer token pairs used for
// authenticated sessions.
//
// A pair is an access token and a refresh token signed with HS256 under two
// different keys. Both carry the subject (user ID), the session ID, a shared
// token ID (jti), the user's role names and a token type. Access tokens may
// also carry a permission snapshot.
//
//	svc, err := jwt.New(jwt.Config{
//		AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
//		RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
//		Issuer:        "gatekeeper",
//		AccessTTL:     15 * time.Minute,
//	})
//	pair, err := svc.IssuePair(jwt.Subject{UserID: uid, SessionID: sid}, 24*time.Hour)
//	claims, err := svc.ParseAccess(pair.AccessToken)
//
// Parsing enforces the signing method, issuer, expiry and token type. Failures
// map to ErrInvalidSignature, ErrExpiredToken, ErrWrongTokenType or
// ErrInvalidToken.
//
// BearerTokenExtractor, CookieTokenExtractor and ChainExtractors read raw
// tokens from HTTP requests; WithClaims and ClaimsFromContext carry verified
// claims through a request context.
package jwt
