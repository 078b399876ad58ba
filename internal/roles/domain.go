package roles

import (
	"strings"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// ListFilters narrows and orders the role listing.
type ListFilters struct {
	Query   string
	SortBy  string
	SortDir string
}

// Normalize fills defaults and drops unknown sort keys.
func (f ListFilters) Normalize() ListFilters {
	f.Query = strings.TrimSpace(f.Query)
	switch f.SortBy {
	case "name", "created_at", "permissions":
	default:
		f.SortBy = "name"
	}
	if f.SortDir != "desc" {
		f.SortDir = "asc"
	}
	return f
}

// FormData is what the create and edit pages render: the role being edited
// (zero on create) and every permission that can be ticked.
type FormData struct {
	Role        rbac.Role
	Permissions []rbac.Permission
}
