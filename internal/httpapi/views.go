package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

type tokensView struct {
	auth.Tokens
	Session sessionView    `json:"session"`
	User    auth.Principal `json:"user"`
}

type sessionView struct {
	ID             uuid.UUID     `json:"id"`
	State          session.State `json:"state"`
	Current        bool          `json:"current"`
	IPAddress      string        `json:"ip_address,omitempty"`
	UserAgent      string        `json:"user_agent,omitempty"`
	Device         string        `json:"device,omitempty"`
	Browser        string        `json:"browser,omitempty"`
	OS             string        `json:"os,omitempty"`
	Location       string        `json:"location,omitempty"`
	RememberMe     bool          `json:"remember_me"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	RevokedAt      *time.Time    `json:"revoked_at,omitempty"`
	RevokedReason  string        `json:"revoked_reason,omitempty"`
}

func sessionOf(s *session.Session, now time.Time, current uuid.UUID) sessionView {
	return sessionView{
		ID:             s.ID,
		State:          s.State(now),
		Current:        s.ID == current,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		Device:         s.Device,
		Browser:        s.Browser,
		OS:             s.OS,
		Location:       s.Location,
		RememberMe:     s.RememberMe,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		RevokedAt:      s.RevokedAt,
		RevokedReason:  s.RevokedReason,
	}
}

func sessionsOf(list []session.Session, now time.Time, current uuid.UUID) []sessionView {
	out := make([]sessionView, len(list))
	for i := range list {
		out[i] = sessionOf(&list[i], now, current)
	}
	return out
}

type permissionView struct {
	ID                  uuid.UUID        `json:"id"`
	Name                string           `json:"name"`
	Module              string           `json:"module"`
	Action              string           `json:"action"`
	Resource            string           `json:"resource,omitempty"`
	Description         string           `json:"description,omitempty"`
	AccessLevel         rbac.AccessLevel `json:"access_level"`
	Scope               rbac.Scope       `json:"scope"`
	IsActive            bool             `json:"is_active"`
	IsSystem            bool             `json:"is_system"`
	RequiresPermissions []string         `json:"requires_permissions,omitempty"`
	UsageCount          int              `json:"usage_count"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func permissionOf(p *rbac.Permission) permissionView {
	return permissionView{
		ID:                  p.ID,
		Name:                p.Name,
		Module:              p.Module,
		Action:              p.Action,
		Resource:            p.Resource,
		Description:         p.Description,
		AccessLevel:         p.AccessLevel,
		Scope:               p.Scope,
		IsActive:            p.IsActive,
		IsSystem:            p.IsSystem,
		RequiresPermissions: p.RequiresPermissions,
		UsageCount:          p.UsageCount,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

type roleView struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description,omitempty"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	Priority    int        `json:"priority"`
	IsSystem    bool       `json:"is_system"`
	IsActive    bool       `json:"is_active"`
	IsDefault   bool       `json:"is_default"`
	MaxUsers    *int       `json:"max_users,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func roleOf(r *rbac.Role) roleView {
	return roleView{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Description: r.Description,
		ParentID:    r.ParentID,
		Priority:    r.Priority,
		IsSystem:    r.IsSystem,
		IsActive:    r.IsActive,
		IsDefault:   r.IsDefault,
		MaxUsers:    r.MaxUsers,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type assignmentView struct {
	ID                  uuid.UUID      `json:"id"`
	RoleID              uuid.UUID      `json:"role_id"`
	PermissionID        uuid.UUID      `json:"permission_id"`
	GrantedBy           string         `json:"granted_by,omitempty"`
	GrantedAt           time.Time      `json:"granted_at"`
	Conditions          map[string]any `json:"conditions,omitempty"`
	ExpiresAt           *time.Time     `json:"expires_at,omitempty"`
	IsActive            bool           `json:"is_active"`
	IsInherited         bool           `json:"is_inherited"`
	InheritedFromRoleID *uuid.UUID     `json:"inherited_from_role_id,omitempty"`
	RevokedBy           string         `json:"revoked_by,omitempty"`
	RevokedAt           *time.Time     `json:"revoked_at,omitempty"`
	RevocationReason    string         `json:"revocation_reason,omitempty"`
}

func assignmentOf(rp *rbac.RolePermission) assignmentView {
	return assignmentView{
		ID:                  rp.ID,
		RoleID:              rp.RoleID,
		PermissionID:        rp.PermissionID,
		GrantedBy:           rp.GrantedBy,
		GrantedAt:           rp.GrantedAt,
		Conditions:          rp.Conditions,
		ExpiresAt:           rp.ExpiresAt,
		IsActive:            rp.IsActive,
		IsInherited:         rp.IsInherited,
		InheritedFromRoleID: rp.InheritedFromRoleID,
		RevokedBy:           rp.RevokedBy,
		RevokedAt:           rp.RevokedAt,
		RevocationReason:    rp.RevocationReason,
	}
}

type bindingView struct {
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	IsPrimary  bool       `json:"is_primary"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	IsActive   bool       `json:"is_active"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func bindingOf(b *rbac.UserRole) bindingView {
	return bindingView{
		UserID:     b.UserID,
		RoleID:     b.RoleID,
		IsPrimary:  b.IsPrimary,
		ExpiresAt:  b.ExpiresAt,
		AssignedBy: b.AssignedBy,
		AssignedAt: b.AssignedAt,
		IsActive:   b.IsActive,
		RevokedAt:  b.RevokedAt,
	}
}

type effectiveView struct {
	PermissionID     uuid.UUID        `json:"permission_id"`
	Permission       string           `json:"permission"`
	Scope            rbac.Scope       `json:"scope"`
	AccessLevel      rbac.AccessLevel `json:"access_level"`
	Conditions       map[string]any   `json:"conditions,omitempty"`
	IsInherited      bool             `json:"is_inherited"`
	SourceRoleID     uuid.UUID        `json:"source_role_id"`
	SourceRole       string           `json:"source_role"`
	InheritanceLevel int              `json:"inheritance_level"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

func effectiveOf(ep *rbac.EffectivePermission) effectiveView {
	return effectiveView{
		PermissionID:     ep.PermissionID,
		Permission:       ep.Permission,
		Scope:            ep.Scope,
		AccessLevel:      ep.AccessLevel,
		Conditions:       ep.Conditions,
		IsInherited:      ep.IsInherited,
		SourceRoleID:     ep.SourceRoleID,
		SourceRole:       ep.SourceRole,
		InheritanceLevel: ep.InheritanceLevel,
		ExpiresAt:        ep.ExpiresAt,
	}
}

type statsView struct {
	RBAC struct {
		Roles                int `json:"roles"`
		Permissions          int `json:"permissions"`
		ActiveAssignments    int `json:"active_assignments"`
		DirectAssignments    int `json:"direct_assignments"`
		InheritedAssignments int `json:"inherited_assignments"`
		ExpiredAssignments   int `json:"expired_assignments"`
		RevokedAssignments   int `json:"revoked_assignments"`
		ActiveBindings       int `json:"active_bindings"`
	} `json:"rbac"`
	Sessions *session.Stats `json:"sessions,omitempty"`
}

// mapSlice converts a slice of records with fn.
func mapSlice[T, V any](in []T, fn func(*T) V) []V {
	out := make([]V, len(in))
	for i := range in {
		out[i] = fn(&in[i])
	}
	return out
}
