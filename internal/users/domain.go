package users

import (
	"time"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// User is a principal as shown on the management pages. It never carries
// the password hash.
type User struct {
	ID        int64
	Name      string
	Email     string
	Roles     []rbac.Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnerID makes a user record its own resource for the owner rule.
func (u User) OwnerID() int64 { return u.ID }

// RoleID returns the assigned role, or zero. The panel grants one role at
// a time even though storage allows several.
func (u User) RoleID() int64 {
	if len(u.Roles) == 0 {
		return 0
	}
	return u.Roles[0].ID
}

// RoleNames lists the names of the assigned roles.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

func fromPrincipal(p rbac.Principal) User {
	return User{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Roles:     p.Roles,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Input carries user fields from the create and edit forms. A zero RoleID
// means no role. SetRole false leaves the current roles untouched.
type Input struct {
	Name     string
	Email    string
	Password string
	RoleID   int64
	SetRole  bool
}

// FormData is what the create and edit pages render.
type FormData struct {
	User  User
	Roles []rbac.Role
}
