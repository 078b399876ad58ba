package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

type userFixture struct {
	store  *rbac.MemoryStore
	svc    *Service
	writer rbac.Role
	admin  rbac.Role
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	writer, err := store.CreateRole(ctx, "WRITER", []int64{})
	require.NoError(t, err)
	admin, err := store.CreateRole(ctx, "ROLE_ADMIN", []int64{})
	require.NoError(t, err)
	svc := NewService(store)
	// bcrypt at default cost is slow; the hash format is not under test here.
	svc.hash = func(p string) (string, error) { return "hashed:" + p, nil }
	return &userFixture{store: store, svc: svc, writer: writer, admin: admin}
}

func TestCreateUserNormalizesAndAssignsRole(t *testing.T) {
	f := newUserFixture(t)

	u, err := f.svc.CreateUser(context.Background(), Input{Name: " Ada ", Email: " ADA@Example.com", Password: "password1", RoleID: f.writer.ID, SetRole: true})
	require.NoError(t, err)

	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, f.writer.ID, u.RoleID())
	stored, err := f.store.GetPrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hashed:password1", stored.PasswordHash)
}

func TestCreateUserValidation(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		in    Input
		field string
	}{
		"missing name":   {Input{Email: "a@example.com", Password: "password1"}, "name"},
		"missing email":  {Input{Name: "A", Password: "password1"}, "email"},
		"short password": {Input{Name: "A", Email: "a@example.com", Password: "short"}, "password"},
		"unknown role":   {Input{Name: "A", Email: "a@example.com", Password: "password1", RoleID: 9999}, "role_id"},
	}
	for name, tc := range cases {
		_, err := f.svc.CreateUser(ctx, tc.in)
		require.Error(t, err, name)
		var fe *rbac.FieldError
		require.True(t, errors.As(err, &fe), name)
		assert.Equal(t, tc.field, fe.Field, name)
		assert.ErrorIs(t, err, rbac.ErrInvalidInput, name)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, Input{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = f.svc.CreateUser(ctx, Input{Name: "B", Email: "A@example.com", Password: "password1"})

	assert.ErrorIs(t, err, rbac.ErrDuplicateName)
	assert.Equal(t, map[string]string{"email": "The email has already been taken."}, rbac.FieldErrors(err))
}

func TestUpdateUserKeepsPasswordAndRolesUnlessAsked(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	u, err := f.svc.CreateUser(ctx, Input{Name: "A", Email: "a@example.com", Password: "password1", RoleID: f.writer.ID, SetRole: true})
	require.NoError(t, err)

	updated, err := f.svc.UpdateUser(ctx, u.ID, Input{Name: "A2", Email: "a@example.com", RoleID: f.admin.ID})
	require.NoError(t, err)
	assert.Equal(t, "A2", updated.Name)
	assert.Equal(t, f.writer.ID, updated.RoleID())
	stored, err := f.store.GetPrincipal(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hashed:password1", stored.PasswordHash)

	updated, err = f.svc.UpdateUser(ctx, u.ID, Input{Name: "A2", Email: "a@example.com", Password: "password2", RoleID: f.admin.ID, SetRole: true})
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, updated.RoleID())
	stored, err = f.store.GetPrincipal(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hashed:password2", stored.PasswordHash)

	updated, err = f.svc.UpdateUser(ctx, u.ID, Input{Name: "A2", Email: "a@example.com", SetRole: true})
	require.NoError(t, err)
	assert.Zero(t, updated.RoleID())
}

func TestDeleteUser(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	u, err := f.svc.CreateUser(ctx, Input{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, u.ID))

	_, err = f.svc.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteUser(ctx, 0), rbac.ErrNotFound)
}

func TestListUsersHidesPasswordHash(t *testing.T) {
	f := newUserFixture(t)
	_, err := f.svc.CreateUser(context.Background(), Input{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)

	list, err := f.svc.ListUsers(context.Background())
	require.NoError(t, err)

	require.Len(t, list, 1)
	assert.Equal(t, "a@example.com", list[0].Email)
}

func TestNewServiceUsesBcrypt(t *testing.T) {
	svc := NewService(rbac.NewMemoryStore())
	hash, err := svc.hash("password1")
	require.NoError(t, err)
	assert.NoError(t, shared.ComparePassword(hash, "password1"))
}
