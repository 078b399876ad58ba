package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. It backs STORE_DRIVER=memory
// and the package tests. A single RWMutex makes every mutation atomic with
// respect to Grants.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextID      int64
	permissions map[int64]Permission
	roles       map[int64]*memRole
	principals  map[int64]*memPrincipal
}

type memRole struct {
	id          int64
	name        string
	permissions map[int64]struct{}
	createdAt   time.Time
	updatedAt   time.Time
}

type memPrincipal struct {
	id           int64
	name         string
	email        string
	passwordHash string
	roles        map[int64]struct{}
	createdAt    time.Time
	updatedAt    time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]*memRole),
		principals:  make(map[int64]*memPrincipal),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// ListPermissions returns all permissions ordered by name.
func (m *MemoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perms := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		perms = append(perms, p)
	}
	sortPermissions(perms)
	return perms, nil
}

// GetPermission fetches a permission by ID.
func (m *MemoryStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

// CreatePermission inserts a permission with a unique name.
func (m *MemoryStore) CreatePermission(ctx context.Context, name string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.permissionNameTaken(name, 0) {
		return Permission{}, ErrDuplicateName
	}
	now := m.now()
	p := Permission{ID: m.id(), Name: name, CreatedAt: now, UpdatedAt: now}
	m.permissions[p.ID] = p
	return p, nil
}

// RenamePermission changes a permission name.
func (m *MemoryStore) RenamePermission(ctx context.Context, id int64, name string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	if m.permissionNameTaken(name, id) {
		return Permission{}, ErrDuplicateName
	}
	p.Name = name
	p.UpdatedAt = m.now()
	m.permissions[id] = p
	return p, nil
}

// DeletePermission removes a permission and detaches it from all roles.
func (m *MemoryStore) DeletePermission(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	for _, r := range m.roles {
		delete(r.permissions, id)
	}
	return nil
}

func (m *MemoryStore) permissionNameTaken(name string, except int64) bool {
	for id, p := range m.permissions {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

// ListRoles returns all roles ordered by name.
func (m *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, m.roleView(r))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// GetRole fetches a role by ID.
func (m *MemoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return m.roleView(r), nil
}

// GetRoleByName fetches a role by its (normalized) name.
func (m *MemoryStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.name, name) {
			return m.roleView(r), nil
		}
	}
	return Role{}, ErrNotFound
}

// CreateRole inserts a role with the given permission set.
func (m *MemoryStore) CreateRole(ctx context.Context, name string, permissionIDs []int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roleNameTaken(name, 0) {
		return Role{}, ErrDuplicateName
	}
	perms, err := m.permissionSet(permissionIDs)
	if err != nil {
		return Role{}, err
	}
	now := m.now()
	r := &memRole{id: m.id(), name: name, permissions: perms, createdAt: now, updatedAt: now}
	m.roles[r.id] = r
	return m.roleView(r), nil
}

// UpdateRole renames a role and optionally swaps in a new permission set.
func (m *MemoryStore) UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64, replacePermissions bool) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	if m.roleNameTaken(name, id) {
		return Role{}, ErrDuplicateName
	}
	var perms map[int64]struct{}
	if replacePermissions {
		var err error
		if perms, err = m.permissionSet(permissionIDs); err != nil {
			return Role{}, err
		}
	}
	r.name = name
	if replacePermissions {
		r.permissions = perms
	}
	r.updatedAt = m.now()
	return m.roleView(r), nil
}

// DeleteRole removes a role and revokes it from all principals.
func (m *MemoryStore) DeleteRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for _, p := range m.principals {
		delete(p.roles, id)
	}
	return nil
}

func (m *MemoryStore) roleNameTaken(name string, except int64) bool {
	for id, r := range m.roles {
		if id != except && strings.EqualFold(r.name, name) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) permissionSet(ids []int64) (map[int64]struct{}, error) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.permissions[id]; !ok {
			return nil, ErrUnknownPermission
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *MemoryStore) roleView(r *memRole) Role {
	perms := make([]Permission, 0, len(r.permissions))
	for id := range r.permissions {
		if p, ok := m.permissions[id]; ok {
			perms = append(perms, p)
		}
	}
	sortPermissions(perms)
	return Role{ID: r.id, Name: r.name, Permissions: perms, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt}
}

// ListPrincipals returns all principals ordered by id.
func (m *MemoryStore) ListPrincipals(ctx context.Context) ([]Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Principal, 0, len(m.principals))
	for _, p := range m.principals {
		out = append(out, m.principalView(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPrincipal fetches a principal by ID.
func (m *MemoryStore) GetPrincipal(ctx context.Context, id int64) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return m.principalView(p), nil
}

// GetPrincipalByEmail fetches a principal by email, ignoring case.
func (m *MemoryStore) GetPrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if strings.EqualFold(p.email, email) {
			return m.principalView(p), nil
		}
	}
	return Principal{}, ErrNotFound
}

// CreatePrincipal inserts a principal together with its initial roles.
func (m *MemoryStore) CreatePrincipal(ctx context.Context, np NewPrincipal) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(np.Email, 0) {
		return Principal{}, ErrDuplicateName
	}
	roles, err := m.roleSet(np.RoleIDs)
	if err != nil {
		return Principal{}, err
	}
	now := m.now()
	p := &memPrincipal{
		id:           m.id(),
		name:         np.Name,
		email:        np.Email,
		passwordHash: np.PasswordHash,
		roles:        roles,
		createdAt:    now,
		updatedAt:    now,
	}
	m.principals[p.id] = p
	return m.principalView(p), nil
}

// UpdatePrincipal applies changes to a principal.
func (m *MemoryStore) UpdatePrincipal(ctx context.Context, id int64, c PrincipalChanges) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	if m.emailTaken(c.Email, id) {
		return Principal{}, ErrDuplicateName
	}
	var roles map[int64]struct{}
	if c.ReplaceRoles {
		var err error
		if roles, err = m.roleSet(c.RoleIDs); err != nil {
			return Principal{}, err
		}
	}
	p.name = c.Name
	p.email = c.Email
	if c.PasswordHash != "" {
		p.passwordHash = c.PasswordHash
	}
	if c.ReplaceRoles {
		p.roles = roles
	}
	p.updatedAt = m.now()
	return m.principalView(p), nil
}

// DeletePrincipal removes a principal and its assignments.
func (m *MemoryStore) DeletePrincipal(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[id]; !ok {
		return ErrNotFound
	}
	delete(m.principals, id)
	return nil
}

// SetPrincipalRoles replaces the principal's roles.
func (m *MemoryStore) SetPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return ErrNotFound
	}
	roles, err := m.roleSet(roleIDs)
	if err != nil {
		return err
	}
	p.roles = roles
	p.updatedAt = m.now()
	return nil
}

// Grants computes the principal's role names and effective permissions.
func (m *MemoryStore) Grants(ctx context.Context, principalID int64) (*Grants, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	g := &Grants{PrincipalID: principalID, Name: p.name, Roles: []string{}, Permissions: []Permission{}}
	seen := make(map[int64]struct{})
	for roleID := range p.roles {
		r, ok := m.roles[roleID]
		if !ok {
			continue
		}
		g.Roles = append(g.Roles, r.name)
		for permID := range r.permissions {
			if _, dup := seen[permID]; dup {
				continue
			}
			perm, ok := m.permissions[permID]
			if !ok {
				continue
			}
			seen[permID] = struct{}{}
			g.Permissions = append(g.Permissions, perm)
		}
	}
	sort.Strings(g.Roles)
	sortPermissions(g.Permissions)
	return g, nil
}

func (m *MemoryStore) emailTaken(email string, except int64) bool {
	for id, p := range m.principals {
		if id != except && strings.EqualFold(p.email, email) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) roleSet(ids []int64) (map[int64]struct{}, error) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.roles[id]; !ok {
			return nil, ErrNotFound
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *MemoryStore) principalView(p *memPrincipal) Principal {
	roles := make([]Role, 0, len(p.roles))
	for id := range p.roles {
		if r, ok := m.roles[id]; ok {
			roles = append(roles, m.roleView(r))
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return Principal{
		ID:           p.id,
		Name:         p.name,
		Email:        p.email,
		PasswordHash: p.passwordHash,
		Roles:        roles,
		CreatedAt:    p.createdAt,
		UpdatedAt:    p.updatedAt,
	}
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
}

var _ Store = (*MemoryStore)(nil)
