package roles

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// Registry is the slice of the RBAC core the role pages depend on.
type Registry interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	CreateRole(ctx context.Context, in rbac.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, in rbac.RoleInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Service prepares role data for the management pages.
type Service struct {
	registry Registry
}

// NewService builds Service instance.
func NewService(registry Registry) *Service {
	return &Service{registry: registry}
}

// ListRoles returns roles matching filters.
func (s *Service) ListRoles(ctx context.Context, filters ListFilters) ([]rbac.Role, error) {
	filters = filters.Normalize()
	all, err := s.registry.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rbac.Role, 0, len(all))
	needle := strings.ToUpper(filters.Query)
	for _, r := range all {
		if needle == "" || strings.Contains(r.Name, needle) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filters.SortDir == "desc" {
			a, b = b, a
		}
		switch filters.SortBy {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "permissions":
			return len(a.Permissions) < len(b.Permissions)
		default:
			return a.Name < b.Name
		}
	})
	return out, nil
}

// NewFormData loads the permission catalogue for the create page.
func (s *Service) NewFormData(ctx context.Context) (FormData, error) {
	perms, err := s.registry.ListPermissions(ctx)
	if err != nil {
		return FormData{}, err
	}
	return FormData{Permissions: perms}, nil
}

// EditFormData loads the role and the permission catalogue concurrently.
func (s *Service) EditFormData(ctx context.Context, id int64) (FormData, error) {
	var data FormData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		role, err := s.registry.GetRole(gctx, id)
		data.Role = role
		return err
	})
	g.Go(func() error {
		perms, err := s.registry.ListPermissions(gctx)
		data.Permissions = perms
		return err
	})
	if err := g.Wait(); err != nil {
		return FormData{}, err
	}
	return data, nil
}

// CreateRole registers a role.
func (s *Service) CreateRole(ctx context.Context, in rbac.RoleInput) (rbac.Role, error) {
	return s.registry.CreateRole(ctx, in)
}

// UpdateRole renames a role and syncs its permissions.
func (s *Service) UpdateRole(ctx context.Context, id int64, in rbac.RoleInput) (rbac.Role, error) {
	return s.registry.UpdateRole(ctx, id, in)
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.registry.DeleteRole(ctx, id)
}
