package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks a login secret for an identifier and returns the
// user it belongs to. Unknown identifiers and wrong secrets must both yield
// ErrInvalidCredentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (uuid.UUID, error)
}

// VerifierFunc adapts a function to CredentialVerifier.
type VerifierFunc func(ctx context.Context, identifier, secret string) (uuid.UUID, error)

func (f VerifierFunc) Verify(ctx context.Context, identifier, secret string) (uuid.UUID, error) {
	return f(ctx, identifier, secret)
}

// Credential is a stored password hash.
type Credential struct {
	UserID uuid.UUID
	Hash   []byte
	Active bool
}

// CredentialLookup fetches the credential for identifier. It returns
// ErrInvalidCredentials when there is none.
type CredentialLookup func(ctx context.Context, identifier string) (Credential, error)

// BcryptVerifier verifies secrets against bcrypt hashes.
type BcryptVerifier struct {
	lookup CredentialLookup
	// dummy is compared when the identifier is unknown, so both failure
	// paths cost one bcrypt comparison.
	dummy []byte
}

func NewBcryptVerifier(lookup CredentialLookup) *BcryptVerifier {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("gatekeeper-timing-guard"), bcrypt.DefaultCost)
	return &BcryptVerifier{lookup: lookup, dummy: dummy}
}

func (v *BcryptVerifier) Verify(ctx context.Context, identifier, secret string) (uuid.UUID, error) {
	cred, err := v.lookup(ctx, identifier)
	if errors.Is(err, ErrInvalidCredentials) {
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(secret))
		return uuid.Nil, ErrInvalidCredentials
	}
	if err != nil {
		return uuid.Nil, err
	}
	if err := bcrypt.CompareHashAndPassword(cred.Hash, []byte(secret)); err != nil {
		return uuid.Nil, ErrInvalidCredentials
	}
	if !cred.Active {
		return uuid.Nil, ErrInvalidCredentials
	}
	return cred.UserID, nil
}

// HashSecret returns the bcrypt hash of secret at the given cost. A cost of
// zero uses bcrypt.DefaultCost.
func HashSecret(secret string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(secret), cost)
}
