package rbac

import (
	"context"

	"github.com/google/uuid"
)

// Service bundles the engine components over one store.
type Service struct {
	Catalog  *Catalog
	Roles    *Hierarchy
	Ledger   *Ledger
	Resolver *Resolver
	Bindings *Bindings

	engine
}

// New creates every component with the same options.
func New(store Store, opts ...Option) *Service {
	return &Service{
		Catalog:  NewCatalog(store, opts...),
		Roles:    NewHierarchy(store, opts...),
		Ledger:   NewLedger(store, opts...),
		Resolver: NewResolver(store, opts...),
		Bindings: NewBindings(store, opts...),
		engine:   newEngine(store, opts),
	}
}

// Stats returns operational counters evaluated at the engine clock.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := s.read(ctx, "stats", func(ctx context.Context) (err error) {
		out, err = s.store.Stats(ctx, s.now())
		return err
	})
	return out, err
}

// Cleanup runs both expiry sweeps and returns the deactivated assignment and
// binding counts.
func (s *Service) Cleanup(ctx context.Context) (assignments, bindings int, err error) {
	if assignments, err = s.Ledger.CleanupExpiredAssignments(ctx); err != nil {
		return 0, 0, err
	}
	if bindings, err = s.Bindings.CleanupExpiredBindings(ctx); err != nil {
		return assignments, 0, err
	}
	return assignments, bindings, nil
}

// RoleNames returns the names of the active roles bound to userID.
func (s *Service) RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	roles, err := s.Bindings.ActiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names, nil
}
