package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

// Policy returns the configured authorization policy.
func (s *Service) Policy() AuthorizationPolicy { return s.cfg.AuthorizationPolicy }

// Permissions returns the permission names p holds under the configured
// policy.
func (s *Service) Permissions(ctx context.Context, p *Principal) ([]string, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}
	if s.cfg.AuthorizationPolicy == AuthorizationSnapshot {
		return p.Permissions, nil
	}
	return s.resolve(ctx, p.UserID)
}

// Authorize succeeds when p holds every one of permissions, and returns
// ErrForbidden otherwise.
func (s *Service) Authorize(ctx context.Context, p *Principal, permissions ...string) error {
	granted, err := s.Permissions(ctx, p)
	if err != nil {
		return err
	}
	if !rbac.HasAllPermissions(granted, permissions...) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeAny succeeds when p holds at least one of permissions.
func (s *Service) AuthorizeAny(ctx context.Context, p *Principal, permissions ...string) error {
	granted, err := s.Permissions(ctx, p)
	if err != nil {
		return err
	}
	if !rbac.HasAnyPermission(granted, permissions...) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, userID uuid.UUID) ([]string, error) {
	defer s.metrics.resolution(time.Now())
	set, err := s.engine.Resolver.ForUser(ctx, userID, rbac.ResolveOptions{})
	if err != nil {
		return nil, err
	}
	return rbac.Names(set), nil
}
