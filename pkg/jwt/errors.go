package jwt

import "errors"

var (
	ErrInvalidToken      = errors.New("jwt.invalid_token")
	ErrExpiredToken      = errors.New("jwt.expired_token")
	ErrInvalidSignature  = errors.New("jwt.invalid_signature")
	ErrWrongTokenType    = errors.New("jwt.wrong_token_type")
	ErrMissingSigningKey = errors.New("jwt.missing_signing_key")
	ErrInvalidSigningKey = errors.New("jwt.signing_key_too_short")
	ErrSameSigningKeys   = errors.New("jwt.access_and_refresh_keys_equal")
	ErrMissingSubject    = errors.New("jwt.missing_subject")
)
