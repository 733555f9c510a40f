package rbac

import (
	"time"

	"github.com/google/uuid"
)

// MaxInheritanceDepth is the maximum allowed length of a parent chain,
// counted in edges from a role to its most distant ancestor.
const MaxInheritanceDepth = 10

// ReasonExpired is stamped on assignments deactivated by the expiry sweep.
const ReasonExpired = "expired"

// AccessLevel grades how powerful a permission is. Levels are ordered.
type AccessLevel string

const (
	AccessBasic        AccessLevel = "basic"
	AccessIntermediate AccessLevel = "intermediate"
	AccessAdvanced     AccessLevel = "advanced"
	AccessAdmin        AccessLevel = "admin"
)

// Rank returns the ordinal of the level, 0 for unknown values.
func (l AccessLevel) Rank() int {
	switch l {
	case AccessBasic:
		return 1
	case AccessIntermediate:
		return 2
	case AccessAdvanced:
		return 3
	case AccessAdmin:
		return 4
	default:
		return 0
	}
}

// Valid reports whether l is one of the known levels.
func (l AccessLevel) Valid() bool { return l.Rank() > 0 }

// Scope is the reach of a permission.
type Scope string

const (
	ScopeOwn          Scope = "own"
	ScopeTeam         Scope = "team"
	ScopeOrganization Scope = "organization"
	ScopeGlobal       Scope = "global"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwn, ScopeTeam, ScopeOrganization, ScopeGlobal:
		return true
	}
	return false
}

// Permission is an atomic capability: module + action (+ optional resource).
type Permission struct {
	ID          uuid.UUID
	Name        string
	Module      string
	Action      string
	Resource    string
	Description string
	AccessLevel AccessLevel
	Scope       Scope
	IsActive    bool
	IsSystem    bool

	// RequiresPermissions names permissions that should be granted alongside
	// this one. It is informational; see Catalog.MissingDependencies.
	RequiresPermissions []string

	// UsageCount is the number of active assignments. Filled on read.
	UsageCount int

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Role is a named set of grants positioned in a parent-pointer forest.
type Role struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	Description string
	ParentID    *uuid.UUID
	Priority    int
	IsSystem    bool
	IsActive    bool
	IsDefault   bool
	MaxUsers    *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolePermission is one grant of a permission to a role, either direct or
// materialized from an ancestor.
type RolePermission struct {
	ID           uuid.UUID
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	GrantedBy    string
	GrantedAt    time.Time

	// Conditions is opaque to this package and returned to callers as is.
	Conditions map[string]any

	ExpiresAt           *time.Time
	IsActive            bool
	IsInherited         bool
	InheritedFromRoleID *uuid.UUID

	RevokedBy        string
	RevokedAt        *time.Time
	RevocationReason string
}

// Expired reports whether the grant has an expiry at or before now.
func (rp *RolePermission) Expired(now time.Time) bool {
	return rp.ExpiresAt != nil && !rp.ExpiresAt.After(now)
}

// UserRole binds a user to a role.
type UserRole struct {
	UserID     uuid.UUID
	RoleID     uuid.UUID
	IsPrimary  bool
	ExpiresAt  *time.Time
	AssignedBy string
	AssignedAt time.Time
	IsActive   bool
	RevokedAt  *time.Time
}

// Expired reports whether the binding has an expiry at or before now.
func (ur *UserRole) Expired(now time.Time) bool {
	return ur.ExpiresAt != nil && !ur.ExpiresAt.After(now)
}

// EffectivePermission is one entry of a resolved permission set.
type EffectivePermission struct {
	PermissionID     uuid.UUID
	Permission       string
	Scope            Scope
	AccessLevel      AccessLevel
	Conditions       map[string]any
	IsInherited      bool
	SourceRoleID     uuid.UUID
	SourceRole       string
	InheritanceLevel int
	ExpiresAt        *time.Time
}

// PermissionFilter narrows ListPermissions.
type PermissionFilter struct {
	Module     string
	ActiveOnly bool
}

// AssignmentFilter narrows ListAssignments.
type AssignmentFilter struct {
	ActiveOnly    bool
	DirectOnly    bool
	InheritedOnly bool
}

// Stats holds operational counters.
type Stats struct {
	Roles                int
	Permissions          int
	ActiveAssignments    int
	DirectAssignments    int
	InheritedAssignments int
	ExpiredAssignments   int
	RevokedAssignments   int
	ActiveBindings       int
}
