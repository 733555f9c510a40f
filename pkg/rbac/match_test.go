package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		granted  string
		required string
		want     bool
	}{
		{"exact", "orders.read", "orders.read", true},
		{"different action", "orders.read", "orders.write", false},
		{"global wildcard", "*", "billing.invoices.export", true},
		{"module wildcard", "orders.*", "orders.read", true},
		{"module wildcard nested", "orders.*", "orders.read.own", true},
		{"module wildcard other module", "orders.*", "billing.read", false},
		{"module wildcard does not match prefix word", "orders.*", "ordersx.read", false},
		{"module wildcard does not match bare module", "orders.*", "orders", false},
		{"empty required", "*", "", false},
		{"empty granted", "", "orders.read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rbac.Matches(tt.granted, tt.required))
		})
	}
}

func TestHasPermissions(t *testing.T) {
	t.Parallel()

	granted := []string{"orders.read", "billing.*"}

	assert.True(t, rbac.HasPermission(granted, "billing.refund"))
	assert.False(t, rbac.HasPermission(granted, "orders.write"))

	assert.True(t, rbac.HasAllPermissions(granted, "orders.read", "billing.read"))
	assert.False(t, rbac.HasAllPermissions(granted, "orders.read", "orders.write"))
	assert.True(t, rbac.HasAllPermissions([]string{"*"}, "anything.at.all"))

	assert.True(t, rbac.HasAnyPermission(granted, "orders.write", "orders.read"))
	assert.False(t, rbac.HasAnyPermission(granted, "orders.write", "users.read"))
	assert.True(t, rbac.HasAnyPermission(granted))
}

func TestGrantedContext(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	assert.ErrorIs(t, rbac.CanFromContext(ctx, "orders.read"), rbac.ErrInsufficientPermissions)

	ctx = rbac.WithGranted(ctx, []string{"orders.*"})
	names, ok := rbac.GrantedFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, []string{"orders.*"}, names)
	assert.NoError(t, rbac.CanFromContext(ctx, "orders.read", "orders.write"))
	assert.ErrorIs(t, rbac.CanFromContext(ctx, "billing.read"), rbac.ErrInsufficientPermissions)
}
