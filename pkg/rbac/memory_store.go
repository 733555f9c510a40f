package rbac

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type bindingKey struct {
	userID uuid.UUID
	roleID uuid.UUID
}

type memData struct {
	permissions map[uuid.UUID]*Permission
	roles       map[uuid.UUID]*Role
	assignments map[uuid.UUID]*RolePermission
	bindings    map[bindingKey]*UserRole
}

func newMemData() *memData {
	return &memData{
		permissions: make(map[uuid.UUID]*Permission),
		roles:       make(map[uuid.UUID]*Role),
		assignments: make(map[uuid.UUID]*RolePermission),
		bindings:    make(map[bindingKey]*UserRole),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.permissions {
		c.permissions[k] = copyPermission(v)
	}
	for k, v := range d.roles {
		c.roles[k] = copyRole(v)
	}
	for k, v := range d.assignments {
		c.assignments[k] = copyAssignment(v)
	}
	for k, v := range d.bindings {
		b := *v
		c.bindings[k] = &b
	}
	return c
}

// MemoryStore implements Store in process memory. Transactions run on a
// private copy that replaces the live data on success, so a failed
// transaction leaves no trace. Writers are serialized by a single lock.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
	inTx bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

// WithTx runs fn against a copy of the data and commits it if fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemoryStore{data: m.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *MemoryStore) rlock() func() {
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MemoryStore) lock() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

// Permissions

func (m *MemoryStore) CreatePermission(_ context.Context, p *Permission) error {
	defer m.lock()()
	if m.nameTaken(p) {
		return ErrPermissionExists
	}
	m.data.permissions[p.ID] = copyPermission(p)
	return nil
}

func (m *MemoryStore) UpdatePermission(_ context.Context, p *Permission) error {
	defer m.lock()()
	if _, ok := m.data.permissions[p.ID]; !ok {
		return ErrPermissionNotFound
	}
	if m.nameTaken(p) {
		return ErrPermissionExists
	}
	m.data.permissions[p.ID] = copyPermission(p)
	return nil
}

// nameTaken reports whether another live permission holds p's name.
func (m *MemoryStore) nameTaken(p *Permission) bool {
	if p.DeletedAt != nil {
		return false
	}
	for id, existing := range m.data.permissions {
		if id != p.ID && existing.Name == p.Name && existing.DeletedAt == nil {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetPermission(_ context.Context, id uuid.UUID) (*Permission, error) {
	defer m.rlock()()
	p, ok := m.data.permissions[id]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	return m.withUsage(p), nil
}

func (m *MemoryStore) GetPermissionByName(_ context.Context, name string) (*Permission, error) {
	defer m.rlock()()
	var found *Permission
	for _, p := range m.data.permissions {
		if p.Name != name {
			continue
		}
		if p.DeletedAt == nil {
			return m.withUsage(p), nil
		}
		if found == nil || p.DeletedAt.After(*found.DeletedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, ErrPermissionNotFound
	}
	return m.withUsage(found), nil
}

func (m *MemoryStore) GetPermissionsByIDs(_ context.Context, ids []uuid.UUID) ([]Permission, error) {
	defer m.rlock()()
	out := make([]Permission, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.data.permissions[id]; ok {
			out = append(out, *m.withUsage(p))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context, f PermissionFilter) ([]Permission, error) {
	defer m.rlock()()
	out := make([]Permission, 0, len(m.data.permissions))
	for _, p := range m.data.permissions {
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if f.Module != "" && p.Module != f.Module {
			continue
		}
		out = append(out, *m.withUsage(p))
	}
	slices.SortFunc(out, func(a, b Permission) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryStore) CountActiveAssignments(_ context.Context, permissionID uuid.UUID) (int, error) {
	defer m.rlock()()
	return m.usage(permissionID), nil
}

func (m *MemoryStore) LockPermission(_ context.Context, id uuid.UUID) error {
	defer m.rlock()()
	if _, ok := m.data.permissions[id]; !ok {
		return ErrPermissionNotFound
	}
	return nil
}

func (m *MemoryStore) usage(permissionID uuid.UUID) int {
	n := 0
	for _, rp := range m.data.assignments {
		if rp.PermissionID == permissionID && rp.IsActive {
			n++
		}
	}
	return n
}

func (m *MemoryStore) withUsage(p *Permission) *Permission {
	c := copyPermission(p)
	c.UsageCount = m.usage(p.ID)
	return c
}

// Roles

func (m *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	defer m.lock()()
	for _, existing := range m.data.roles {
		if existing.Name == r.Name {
			return ErrRoleExists
		}
	}
	m.data.roles[r.ID] = copyRole(r)
	return nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r *Role) error {
	defer m.lock()()
	if _, ok := m.data.roles[r.ID]; !ok {
		return ErrRoleNotFound
	}
	for id, existing := range m.data.roles {
		if id != r.ID && existing.Name == r.Name {
			return ErrRoleExists
		}
	}
	m.data.roles[r.ID] = copyRole(r)
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.data.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(m.data.roles, id)
	for aid, rp := range m.data.assignments {
		if rp.RoleID == id || (rp.InheritedFromRoleID != nil && *rp.InheritedFromRoleID == id) {
			delete(m.data.assignments, aid)
		}
	}
	for k := range m.data.bindings {
		if k.roleID == id {
			delete(m.data.bindings, k)
		}
	}
	return nil
}

func (m *MemoryStore) GetRole(_ context.Context, id uuid.UUID) (*Role, error) {
	defer m.rlock()()
	r, ok := m.data.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return copyRole(r), nil
}

func (m *MemoryStore) GetRoleByName(_ context.Context, name string) (*Role, error) {
	defer m.rlock()()
	for _, r := range m.data.roles {
		if r.Name == name {
			return copyRole(r), nil
		}
	}
	return nil, ErrRoleNotFound
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]Role, error) {
	defer m.rlock()()
	out := make([]Role, 0, len(m.data.roles))
	for _, r := range m.data.roles {
		out = append(out, *copyRole(r))
	}
	slices.SortFunc(out, compareRoles)
	return out, nil
}

func (m *MemoryStore) Children(_ context.Context, id uuid.UUID) ([]Role, error) {
	defer m.rlock()()
	var out []Role
	for _, r := range m.data.roles {
		if r.ParentID != nil && *r.ParentID == id {
			out = append(out, *copyRole(r))
		}
	}
	slices.SortFunc(out, compareRoles)
	return out, nil
}

func (m *MemoryStore) Ancestors(_ context.Context, id uuid.UUID, maxDepth int) ([]Role, error) {
	defer m.rlock()()
	r, ok := m.data.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}

	chain := []Role{*copyRole(r)}
	seen := map[uuid.UUID]struct{}{id: {}}
	for depth := 0; depth < maxDepth && r.ParentID != nil; depth++ {
		parent, ok := m.data.roles[*r.ParentID]
		if !ok {
			break
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, ErrCircularHierarchy
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, *copyRole(parent))
		r = parent
	}
	return chain, nil
}

func (m *MemoryStore) LockRole(_ context.Context, id uuid.UUID) error {
	defer m.rlock()()
	if _, ok := m.data.roles[id]; !ok {
		return ErrRoleNotFound
	}
	return nil
}

// LockHierarchy is a no-op: WithTx already runs transactions one at a time.
func (m *MemoryStore) LockHierarchy(context.Context) error { return nil }

// Assignments

func (m *MemoryStore) InsertAssignment(_ context.Context, rp *RolePermission) error {
	defer m.lock()()
	for _, existing := range m.data.assignments {
		if existing.RoleID != rp.RoleID || existing.PermissionID != rp.PermissionID {
			continue
		}
		if existing.IsActive && rp.IsActive {
			return ErrAlreadyAssigned
		}
		if !existing.IsInherited && !rp.IsInherited {
			return ErrAlreadyAssigned
		}
	}
	m.data.assignments[rp.ID] = copyAssignment(rp)
	return nil
}

func (m *MemoryStore) UpdateAssignment(_ context.Context, rp *RolePermission) error {
	defer m.lock()()
	if _, ok := m.data.assignments[rp.ID]; !ok {
		return ErrAssignmentNotFound
	}
	if rp.IsActive {
		for id, existing := range m.data.assignments {
			if id != rp.ID && existing.IsActive &&
				existing.RoleID == rp.RoleID && existing.PermissionID == rp.PermissionID {
				return ErrAlreadyAssigned
			}
		}
	}
	m.data.assignments[rp.ID] = copyAssignment(rp)
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, id uuid.UUID) error {
	defer m.lock()()
	if _, ok := m.data.assignments[id]; !ok {
		return ErrAssignmentNotFound
	}
	delete(m.data.assignments, id)
	return nil
}

func (m *MemoryStore) GetDirectAssignment(_ context.Context, roleID, permissionID uuid.UUID) (*RolePermission, error) {
	defer m.rlock()()
	for _, rp := range m.data.assignments {
		if rp.RoleID == roleID && rp.PermissionID == permissionID && !rp.IsInherited {
			return copyAssignment(rp), nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (m *MemoryStore) GetActiveAssignment(_ context.Context, roleID, permissionID uuid.UUID) (*RolePermission, error) {
	defer m.rlock()()
	for _, rp := range m.data.assignments {
		if rp.RoleID == roleID && rp.PermissionID == permissionID && rp.IsActive {
			return copyAssignment(rp), nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (m *MemoryStore) ListAssignments(_ context.Context, roleIDs []uuid.UUID, f AssignmentFilter) ([]RolePermission, error) {
	defer m.rlock()()
	want := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = struct{}{}
	}

	var out []RolePermission
	for _, rp := range m.data.assignments {
		if _, ok := want[rp.RoleID]; !ok {
			continue
		}
		if f.ActiveOnly && !rp.IsActive {
			continue
		}
		if f.DirectOnly && rp.IsInherited {
			continue
		}
		if f.InheritedOnly && !rp.IsInherited {
			continue
		}
		out = append(out, *copyAssignment(rp))
	}
	slices.SortFunc(out, func(a, b RolePermission) int {
		return cmp.Or(
			cmp.Compare(a.RoleID.String(), b.RoleID.String()),
			cmp.Compare(a.PermissionID.String(), b.PermissionID.String()),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out, nil
}

func (m *MemoryStore) DeleteInheritedAssignments(_ context.Context, roleID uuid.UUID) (int, error) {
	defer m.lock()()
	n := 0
	for id, rp := range m.data.assignments {
		if rp.RoleID == roleID && rp.IsInherited {
			delete(m.data.assignments, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ExpireAssignments(_ context.Context, now time.Time) (int, error) {
	defer m.lock()()
	n := 0
	for _, rp := range m.data.assignments {
		if rp.IsActive && rp.Expired(now) {
			rp.IsActive = false
			at := now
			rp.RevokedAt = &at
			rp.RevocationReason = ReasonExpired
			n++
		}
	}
	return n, nil
}

// Bindings

func (m *MemoryStore) GetBinding(_ context.Context, userID, roleID uuid.UUID) (*UserRole, error) {
	defer m.rlock()()
	b, ok := m.data.bindings[bindingKey{userID, roleID}]
	if !ok {
		return nil, ErrBindingNotFound
	}
	c := *b
	return &c, nil
}

func (m *MemoryStore) SaveBinding(_ context.Context, ur *UserRole) error {
	defer m.lock()()
	if _, ok := m.data.roles[ur.RoleID]; !ok {
		return ErrRoleNotFound
	}
	c := *ur
	m.data.bindings[bindingKey{ur.UserID, ur.RoleID}] = &c
	return nil
}

func (m *MemoryStore) ListUserBindings(_ context.Context, userID uuid.UUID, activeOnly bool) ([]UserRole, error) {
	defer m.rlock()()
	var out []UserRole
	for k, b := range m.data.bindings {
		if k.userID == userID && (!activeOnly || b.IsActive) {
			out = append(out, *b)
		}
	}
	slices.SortFunc(out, func(a, b UserRole) int { return cmp.Compare(a.RoleID.String(), b.RoleID.String()) })
	return out, nil
}

func (m *MemoryStore) ListRoleBindings(_ context.Context, roleID uuid.UUID, activeOnly bool) ([]UserRole, error) {
	defer m.rlock()()
	var out []UserRole
	for k, b := range m.data.bindings {
		if k.roleID == roleID && (!activeOnly || b.IsActive) {
			out = append(out, *b)
		}
	}
	slices.SortFunc(out, func(a, b UserRole) int { return cmp.Compare(a.UserID.String(), b.UserID.String()) })
	return out, nil
}

func (m *MemoryStore) CountActiveBindings(_ context.Context, roleID uuid.UUID, now time.Time) (int, error) {
	defer m.rlock()()
	n := 0
	for k, b := range m.data.bindings {
		if k.roleID == roleID && b.IsActive && !b.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ExpireBindings(_ context.Context, now time.Time) (int, error) {
	defer m.lock()()
	n := 0
	for _, b := range m.data.bindings {
		if b.IsActive && b.Expired(now) {
			b.IsActive = false
			b.IsPrimary = false
			at := now
			b.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

// Stats

func (m *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	defer m.rlock()()
	s := Stats{Roles: len(m.data.roles)}
	for _, p := range m.data.permissions {
		if p.IsActive {
			s.Permissions++
		}
	}
	for _, rp := range m.data.assignments {
		switch {
		case rp.IsActive:
			s.ActiveAssignments++
			if rp.IsInherited {
				s.InheritedAssignments++
			} else {
				s.DirectAssignments++
			}
			if rp.Expired(now) {
				s.ExpiredAssignments++
			}
		case rp.RevocationReason == ReasonExpired:
			s.ExpiredAssignments++
		default:
			s.RevokedAssignments++
		}
	}
	for _, b := range m.data.bindings {
		if b.IsActive && !b.Expired(now) {
			s.ActiveBindings++
		}
	}
	return s, nil
}

func copyPermission(p *Permission) *Permission {
	c := *p
	c.RequiresPermissions = slices.Clone(p.RequiresPermissions)
	return &c
}

func copyRole(r *Role) *Role {
	c := *r
	return &c
}

func copyAssignment(rp *RolePermission) *RolePermission {
	c := *rp
	if rp.Conditions != nil {
		c.Conditions = maps.Clone(rp.Conditions)
	}
	return &c
}

func compareRoles(a, b Role) int {
	return cmp.Or(cmp.Compare(b.Priority, a.Priority), cmp.Compare(a.Name, b.Name))
}
