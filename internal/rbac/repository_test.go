package rbac

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolekeeper/rolekeeper/internal/platform/db"
)

// pgTestDSNEnv points at a disposable database. Its RBAC tables are
// truncated before each test.
const pgTestDSNEnv = "ROLEKEEPER_TEST_PG_DSN"

func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv(pgTestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", pgTestDSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE user_roles, role_permissions, users, roles, permissions RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return NewPGStore(pool)
}

func TestPGStoreDeletePermissionDetachesFromRoles(t *testing.T) {
	store := newPGStore(t)
	svc := NewService(store)
	ctx := context.Background()

	edit, err := svc.CreatePermission(ctx, "EDIT_USER")
	require.NoError(t, err)
	del, err := svc.CreatePermission(ctx, "DELETE_USER")
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, RoleInput{Name: "editor", PermissionIDs: []int64{edit.ID, del.ID}})
	require.NoError(t, err)
	p, err := store.CreatePrincipal(ctx, NewPrincipal{Name: "Ed", Email: "ed@example.com", PasswordHash: "x", RoleIDs: []int64{role.ID}})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePermission(ctx, del.ID))

	got, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"EDIT_USER"}, permissionNames(got.Permissions))
	grants, err := svc.Grants(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, grants.Has("EDIT_USER"))
	assert.False(t, grants.Has("DELETE_USER"))
}

func TestPGStoreDeleteRoleRevokesAssignments(t *testing.T) {
	store := newPGStore(t)
	svc := NewService(store)
	ctx := context.Background()

	edit, err := svc.CreatePermission(ctx, "EDIT_USER")
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, RoleInput{Name: "writer", PermissionIDs: []int64{edit.ID}})
	require.NoError(t, err)
	p, err := store.CreatePrincipal(ctx, NewPrincipal{Name: "W", Email: "w@example.com", PasswordHash: "x", RoleIDs: []int64{role.ID}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRole(ctx, role.ID))

	grants, err := svc.Grants(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, grants.Roles)
	assert.Empty(t, grants.Permissions)
}

func TestPGStoreUniquenessRules(t *testing.T) {
	store := newPGStore(t)
	svc := NewService(store)
	ctx := context.Background()

	edit, err := svc.CreatePermission(ctx, "EDIT_USER")
	require.NoError(t, err)
	_, err = svc.CreatePermission(ctx, "EDIT_USER")
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = svc.CreatePermission(ctx, "edit_user")
	assert.NoError(t, err, "permission names match exactly")

	_, err = svc.CreateRole(ctx, RoleInput{Name: "writer", PermissionIDs: []int64{edit.ID}})
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, RoleInput{Name: "Writer", PermissionIDs: []int64{edit.ID}})
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = store.CreateRole(ctx, "writer", []int64{edit.ID})
	assert.ErrorIs(t, err, ErrDuplicateName, "the unique index ignores case")
	byName, err := store.GetRoleByName(ctx, "wRiTeR")
	require.NoError(t, err)
	assert.Equal(t, "WRITER", byName.Name)

	_, err = store.CreatePrincipal(ctx, NewPrincipal{Name: "A", Email: "a@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	_, err = store.CreatePrincipal(ctx, NewPrincipal{Name: "B", Email: "A@Example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestPGStoreRoleUpdateReplacesPermissionSet(t *testing.T) {
	store := newPGStore(t)
	svc := NewService(store)
	ctx := context.Background()

	edit, err := svc.CreatePermission(ctx, "EDIT_USER")
	require.NoError(t, err)
	create, err := svc.CreatePermission(ctx, "CREATE_USER")
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, RoleInput{Name: "writer", PermissionIDs: []int64{edit.ID}})
	require.NoError(t, err)

	updated, err := svc.UpdateRole(ctx, role.ID, RoleInput{Name: "writer", PermissionIDs: []int64{create.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE_USER"}, permissionNames(updated.Permissions))

	_, err = svc.UpdateRole(ctx, role.ID, RoleInput{Name: "writer", PermissionIDs: []int64{9999}})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	kept, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE_USER"}, permissionNames(kept.Permissions))
}

func TestWriteErrorsMapSerializationConflicts(t *testing.T) {
	lost := fmt.Errorf("%w: %w", db.ErrConflict, &pgconn.PgError{Code: "40001"})

	for _, err := range []error{roleWriteError("update role", lost), principalWriteError("update principal", lost)} {
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, http.StatusConflict, HTTPStatus(err))
		assert.Contains(t, Message(err), "reload and try again")
	}
}
