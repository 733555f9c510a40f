package rbac

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors below wrap exactly one of them, so callers
// can branch with errors.Is on the kind.
var (
	ErrNotFound            = errors.New("rbac.not_found")
	ErrConflict            = errors.New("rbac.conflict")
	ErrExpired             = errors.New("rbac.expired")
	ErrRevoked             = errors.New("rbac.revoked")
	ErrCapacityExceeded    = errors.New("rbac.capacity_exceeded")
	ErrDependencyViolation = errors.New("rbac.dependency_violation")

	// ErrStorageUnavailable marks transport failures and timeouts. Reads may
	// be retried, writes are not.
	ErrStorageUnavailable = errors.New("rbac.storage_unavailable")

	ErrInvalidInput            = errors.New("rbac.invalid_input")
	ErrInsufficientPermissions = errors.New("rbac.insufficient_permissions")
)

// Specific errors, each wrapping one of the kinds above.
var (
	ErrRoleNotFound       = fmt.Errorf("%w: role", ErrNotFound)
	ErrPermissionNotFound = fmt.Errorf("%w: permission", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)
	ErrBindingNotFound    = fmt.Errorf("%w: user role", ErrNotFound)
	ErrRoleExists         = fmt.Errorf("%w: role name taken", ErrConflict)
	ErrPermissionExists   = fmt.Errorf("%w: permission name taken", ErrConflict)
	ErrAlreadyAssigned    = fmt.Errorf("%w: permission already assigned", ErrConflict)
	ErrAlreadyBound       = fmt.Errorf("%w: role already assigned to user", ErrConflict)
	ErrCircularHierarchy  = fmt.Errorf("%w: circular role hierarchy", ErrConflict)
	ErrMaxDepthExceeded   = fmt.Errorf("%w: role hierarchy too deep", ErrConflict)
	ErrSystemRole         = fmt.Errorf("%w: system role is immutable", ErrConflict)
	ErrSystemPermission   = fmt.Errorf("%w: system permission is immutable", ErrConflict)
	ErrRoleFull           = fmt.Errorf("%w: role has reached max users", ErrCapacityExceeded)
	ErrRoleInUse          = fmt.Errorf("%w: role has active users", ErrDependencyViolation)
	ErrPermissionInUse    = fmt.Errorf("%w: permission has active assignments", ErrDependencyViolation)
	ErrExpiryInPast       = fmt.Errorf("%w: expiry is in the past", ErrExpired)
	ErrReservedName       = fmt.Errorf("%w: reserved name", ErrInvalidInput)
	ErrInvalidName        = fmt.Errorf("%w: name", ErrInvalidInput)
	ErrInvalidAccessLevel = fmt.Errorf("%w: access level", ErrInvalidInput)
	ErrInvalidScope       = fmt.Errorf("%w: scope", ErrInvalidInput)
)
