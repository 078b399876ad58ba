package rbac

import "context"

// PermissionStore persists permissions. DeletePermission must detach the
// permission from every role in the same operation.
type PermissionStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	CreatePermission(ctx context.Context, name string) (Permission, error)
	RenamePermission(ctx context.Context, id int64, name string) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
}

// RoleStore persists roles and their permission sets. Permission set
// replacement must be atomic with respect to Grants.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name string, permissionIDs []int64) (Role, error)
	UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64, replacePermissions bool) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
}

// PrincipalStore persists principals and their role assignments.
type PrincipalStore interface {
	ListPrincipals(ctx context.Context) ([]Principal, error)
	GetPrincipal(ctx context.Context, id int64) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	CreatePrincipal(ctx context.Context, p NewPrincipal) (Principal, error)
	UpdatePrincipal(ctx context.Context, id int64, c PrincipalChanges) (Principal, error)
	DeletePrincipal(ctx context.Context, id int64) error
	SetPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error
	Grants(ctx context.Context, principalID int64) (*Grants, error)
}

// Store is the full persistence contract of the RBAC core.
type Store interface {
	PermissionStore
	RoleStore
	PrincipalStore
}

func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
