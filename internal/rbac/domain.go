package rbac

import "time"

// SuperAdminRole is the reserved role name. Holders bypass every permission
// check and the role itself cannot be deleted or renamed.
const SuperAdminRole = "SUPER_ADMIN"

// Permission represents an atomic capability.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role represents a named set of permissions.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Protected reports whether the role is the reserved super-admin role.
func (r Role) Protected() bool {
	return r.Name == SuperAdminRole
}

// PermissionIDs returns the ids of the role's permissions.
func (r Role) PermissionIDs() []int64 {
	ids := make([]int64, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasPermission reports whether the role grants the permission id.
func (r Role) HasPermission(id int64) bool {
	for _, p := range r.Permissions {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Principal is a user account together with its assigned roles.
type Principal struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPrincipal carries the fields required to create a principal.
type NewPrincipal struct {
	Name         string
	Email        string
	PasswordHash string
	RoleIDs      []int64
}

// PrincipalChanges describes an update to a principal. An empty
// PasswordHash keeps the stored credential. Roles are only touched when
// ReplaceRoles is set.
type PrincipalChanges struct {
	Name         string
	Email        string
	PasswordHash string
	RoleIDs      []int64
	ReplaceRoles bool
}

// RoleInput is the payload for role create and update. A nil PermissionIDs
// on update leaves the permission set untouched; an empty non-nil slice
// clears it.
type RoleInput struct {
	Name          string
	PermissionIDs []int64
}

// Resource is anything a principal may own.
type Resource interface {
	OwnerID() int64
}

// OwnedBy is a Resource identified only by its owner.
type OwnedBy int64

// OwnerID implements Resource.
func (o OwnedBy) OwnerID() int64 { return int64(o) }
