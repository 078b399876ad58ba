package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Service orchestrates RBAC operations on top of a Store.
type Service struct {
	store    Store
	logger   *slog.Logger
	observer DecisionObserver
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for authorization failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDecisionObserver reports every authorization decision to o.
func WithDecisionObserver(o DecisionObserver) Option {
	return func(s *Service) { s.observer = o }
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for modules that manage principals.
func (s *Service) Store() Store {
	return s.store
}

// NormalizeRoleName trims and upper-cases a role name.
func NormalizeRoleName(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermission fetches a permission by ID.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	if id <= 0 {
		return Permission{}, ErrNotFound
	}
	return s.store.GetPermission(ctx, id)
}

// CreatePermission registers a new capability.
func (s *Service) CreatePermission(ctx context.Context, name string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, invalid("name", "Permission name is required.")
	}
	perm, err := s.store.CreatePermission(ctx, name)
	if err != nil {
		return Permission{}, nameError(err)
	}
	return perm, nil
}

// RenamePermission changes a permission's name. Roles keep referencing it by id.
func (s *Service) RenamePermission(ctx context.Context, id int64, name string) (Permission, error) {
	if id <= 0 {
		return Permission{}, ErrNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, invalid("name", "Permission name is required.")
	}
	perm, err := s.store.RenamePermission(ctx, id, name)
	if err != nil {
		return Permission{}, nameError(err)
	}
	return perm, nil
}

// DeletePermission removes a permission and detaches it from every role.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	return s.store.DeletePermission(ctx, id)
}

// ListRoles returns all roles with their permissions.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, ErrNotFound
	}
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a role with a non-empty permission set.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name := NormalizeRoleName(in.Name)
	if name == "" {
		return Role{}, invalid("name", "Role name is required.")
	}
	ids := uniqueIDs(in.PermissionIDs)
	if len(ids) == 0 {
		return Role{}, invalid("permissions", "Select at least one permission.")
	}
	role, err := s.store.CreateRole(ctx, name, ids)
	if err != nil {
		return Role{}, roleError(err)
	}
	return role, nil
}

// UpdateRole renames a role and, when in.PermissionIDs is non-nil, replaces
// its permission set with exactly those permissions.
func (s *Service) UpdateRole(ctx context.Context, id int64, in RoleInput) (Role, error) {
	if id <= 0 {
		return Role{}, ErrNotFound
	}
	name := NormalizeRoleName(in.Name)
	if name == "" {
		return Role{}, invalid("name", "Role name is required.")
	}
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.Protected() && name != SuperAdminRole {
		return Role{}, ErrProtected
	}
	replace := in.PermissionIDs != nil
	var ids []int64
	if replace {
		ids = uniqueIDs(in.PermissionIDs)
	}
	role, err := s.store.UpdateRole(ctx, id, name, ids, replace)
	if err != nil {
		return Role{}, roleError(err)
	}
	return role, nil
}

// DeleteRole removes a role and revokes it from every principal. The
// super-admin role is refused with ErrProtected.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Protected() {
		return ErrProtected
	}
	return s.store.DeleteRole(ctx, id)
}

// AssignRole replaces the principal's roles with roleID. Storage is
// many-to-many but the panel grants a single role at a time.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID int64) error {
	if principalID <= 0 || roleID <= 0 {
		return ErrNotFound
	}
	return s.store.SetPrincipalRoles(ctx, principalID, []int64{roleID})
}

// RevokeRoles removes every role from the principal.
func (s *Service) RevokeRoles(ctx context.Context, principalID int64) error {
	if principalID <= 0 {
		return ErrNotFound
	}
	return s.store.SetPrincipalRoles(ctx, principalID, []int64{})
}

// EffectivePermissions returns the union of permissions across the
// principal's roles, deduplicated by id.
func (s *Service) EffectivePermissions(ctx context.Context, principalID int64) ([]Permission, error) {
	g, err := s.Grants(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return g.Permissions, nil
}

// Grants reads the principal's roles and effective permissions.
func (s *Service) Grants(ctx context.Context, principalID int64) (*Grants, error) {
	if principalID <= 0 {
		return nil, ErrNotFound
	}
	return s.store.Grants(ctx, principalID)
}

func nameError(err error) error {
	if errors.Is(err, ErrDuplicateName) {
		return fieldError("name", err)
	}
	return err
}

func roleError(err error) error {
	switch {
	case errors.Is(err, ErrDuplicateName):
		return fieldError("name", err)
	case errors.Is(err, ErrUnknownPermission):
		return fieldError("permissions", err)
	}
	return err
}
