package credstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekeeper/internal/credstore"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

func TestMemoryEnsureAndVerify(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store := credstore.NewMemory()

	id, err := credstore.Ensure(ctx, store, "  Admin@Example.com", "first-secret")
	require.NoError(t, err)

	again, err := credstore.Ensure(ctx, store, "admin@example.com", "second-secret")
	require.NoError(t, err)
	assert.Equal(t, id, again, "existing entry is kept")

	v := auth.NewBcryptVerifier(store.Lookup)
	got, err := v.Verify(ctx, "ADMIN@example.com", "first-secret")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = v.Verify(ctx, "admin@example.com", "second-secret")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = store.Lookup(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
