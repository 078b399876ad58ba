package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

func newRegistry(t *testing.T) (*rbac.Service, map[string]rbac.Permission) {
	t.Helper()
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	svc := rbac.NewService(store)
	perms := make(map[string]rbac.Permission)
	for _, name := range []string{"EDIT_USER", "DELETE_USER", "CREATE_USER"} {
		p, err := svc.CreatePermission(ctx, name)
		require.NoError(t, err)
		perms[name] = p
	}
	_, err := svc.CreateRole(ctx, rbac.RoleInput{Name: "writer", PermissionIDs: []int64{perms["EDIT_USER"].ID}})
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, rbac.RoleInput{Name: "role_admin", PermissionIDs: []int64{perms["EDIT_USER"].ID, perms["DELETE_USER"].ID, perms["CREATE_USER"].ID}})
	require.NoError(t, err)
	// Roles without permissions only arise from deletes, so build one in the store.
	_, err = store.CreateRole(ctx, "AUDITOR", []int64{})
	require.NoError(t, err)
	return svc, perms
}

func roleNames(roles []rbac.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

func TestListRolesFiltersAndSorts(t *testing.T) {
	registry, _ := newRegistry(t)
	svc := NewService(registry)
	ctx := context.Background()

	all, err := svc.ListRoles(ctx, ListFilters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AUDITOR", "ROLE_ADMIN", "WRITER"}, roleNames(all))

	byCount, err := svc.ListRoles(ctx, ListFilters{SortBy: "permissions", SortDir: "desc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_ADMIN", "WRITER", "AUDITOR"}, roleNames(byCount))

	filtered, err := svc.ListRoles(ctx, ListFilters{Query: "admin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_ADMIN"}, roleNames(filtered))
}

func TestListFiltersNormalize(t *testing.T) {
	f := ListFilters{Query: "  w ", SortBy: "bogus", SortDir: "sideways"}.Normalize()

	assert.Equal(t, ListFilters{Query: "w", SortBy: "name", SortDir: "asc"}, f)
}

func TestEditFormDataLoadsRoleAndCatalogue(t *testing.T) {
	registry, perms := newRegistry(t)
	svc := NewService(registry)
	ctx := context.Background()
	roles, err := registry.ListRoles(ctx)
	require.NoError(t, err)
	var writer rbac.Role
	for _, r := range roles {
		if r.Name == "WRITER" {
			writer = r
		}
	}

	data, err := svc.EditFormData(ctx, writer.ID)
	require.NoError(t, err)

	assert.Equal(t, "WRITER", data.Role.Name)
	assert.Equal(t, []int64{perms["EDIT_USER"].ID}, data.Role.PermissionIDs())
	assert.Len(t, data.Permissions, 3)
}

func TestEditFormDataUnknownRole(t *testing.T) {
	registry, _ := newRegistry(t)
	svc := NewService(registry)

	_, err := svc.EditFormData(context.Background(), 9999)

	assert.ErrorIs(t, err, rbac.ErrNotFound)
}
