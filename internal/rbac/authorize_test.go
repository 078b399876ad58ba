package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func grants(id int64, roles []string, perms ...string) *Grants {
	g := &Grants{PrincipalID: id, Roles: roles}
	for i, name := range perms {
		g.Permissions = append(g.Permissions, Permission{ID: int64(i + 1), Name: name})
	}
	return g
}

func TestDecideRuleOrder(t *testing.T) {
	tests := []struct {
		name       string
		grants     *Grants
		capability string
		resource   Resource
		want       Decision
	}{
		{"superuser before grant", grants(1, []string{SuperAdminRole}, "EDIT_USER"), "EDIT_USER", nil, Decision{true, ReasonSuperUser}},
		{"superuser without permissions", grants(1, []string{SuperAdminRole}), "DELETE_USER", OwnedBy(2), Decision{true, ReasonSuperUser}},
		{"grant before owner", grants(1, []string{"WRITER"}, "EDIT_USER"), "EDIT_USER", OwnedBy(1), Decision{true, ReasonGranted}},
		{"owner override", grants(1, nil), "EDIT_USER", OwnedBy(1), Decision{true, ReasonOwner}},
		{"other owner", grants(1, nil), "EDIT_USER", OwnedBy(2), Decision{false, ReasonDenied}},
		{"no resource", grants(1, []string{"WRITER"}, "EDIT_USER"), "DELETE_USER", nil, Decision{false, ReasonDenied}},
		{"capability trimmed", grants(1, nil, "EDIT_USER"), " EDIT_USER ", nil, Decision{true, ReasonGranted}},
		{"capability case sensitive", grants(1, nil, "EDIT_USER"), "edit_user", nil, Decision{false, ReasonDenied}},
		{"nil grants", nil, "EDIT_USER", OwnedBy(0), Decision{false, ReasonUnknownPrincipal}},
		{"zero principal never owns", grants(0, nil), "EDIT_USER", OwnedBy(0), Decision{false, ReasonDenied}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.grants.Decide(tt.capability, tt.resource))
		})
	}
}

func TestGrantsHelpers(t *testing.T) {
	g := grants(7, []string{"ROLE_ADMIN"}, "EDIT_USER", "CREATE_USER")

	assert.True(t, g.HasRole("role_admin"))
	assert.False(t, g.HasRole("WRITER"))
	assert.False(t, g.SuperUser())
	assert.True(t, g.Can("CREATE_USER"))
	assert.False(t, g.Can("MANAGE_ROLES"))
	assert.Equal(t, []string{"EDIT_USER", "CREATE_USER"}, g.PermissionNames())

	var none *Grants
	assert.False(t, none.Can("EDIT_USER"))
	assert.Nil(t, none.PermissionNames())
}

func TestGrantsContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GrantsFromContext(ctx))

	g := grants(3, nil)
	assert.Same(t, g, GrantsFromContext(ContextWithGrants(ctx, g)))
}

func TestNormalizeRoleName(t *testing.T) {
	assert.Equal(t, "ROLE_ADMIN", NormalizeRoleName("  role_admin "))
	assert.Equal(t, "", NormalizeRoleName("   "))
}
