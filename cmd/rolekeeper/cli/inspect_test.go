package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

func seededCLI(t *testing.T) (*InspectCLI, rbac.Store) {
	t.Helper()
	store := rbac.NewMemoryStore()
	plan := rbac.DefaultSeedPlan(
		rbac.PrincipalSeed{Name: "Root", Email: "root@example.com", Password: "password1", Role: rbac.SuperAdminRole},
		rbac.PrincipalSeed{Name: "Admin", Email: "admin@example.com", Password: "password1", Role: "ROLE_ADMIN"},
	)
	_, err := rbac.Bootstrap(context.Background(), store, plan, nil)
	require.NoError(t, err)
	cli, err := NewInspectCLI(rbac.NewService(store))
	require.NoError(t, err)
	return cli, store
}

func TestGrantsCommandJSON(t *testing.T) {
	cli, _ := seededCLI(t)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	code := cli.GrantsCommand(context.Background(), GrantsOptions{Email: "Admin@Example.com", JSONOutput: true, Stdout: stdout, Stderr: stderr})

	require.Equal(t, ExitOK, code)
	require.Empty(t, stderr.String())
	var grants rbac.Grants
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &grants))
	require.Equal(t, []string{"ROLE_ADMIN"}, grants.Roles)
	require.ElementsMatch(t, []string{"CREATE_USER", "DELETE_USER", "EDIT_USER"}, grants.PermissionNames())
}

func TestGrantsCommandHuman(t *testing.T) {
	cli, _ := seededCLI(t)
	stdout := new(bytes.Buffer)

	code := cli.GrantsCommand(context.Background(), GrantsOptions{Email: "root@example.com", Stdout: stdout, Stderr: new(bytes.Buffer)})

	require.Equal(t, ExitOK, code)
	require.Contains(t, stdout.String(), "SUPER_ADMIN")
	require.Contains(t, stdout.String(), "superuser")
}

func TestGrantsCommandUnknownEmail(t *testing.T) {
	cli, _ := seededCLI(t)
	stderr := new(bytes.Buffer)

	code := cli.GrantsCommand(context.Background(), GrantsOptions{Email: "ghost@example.com", Stdout: new(bytes.Buffer), Stderr: stderr})

	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "no principal")
}

func TestCheckCommandAllowAndDeny(t *testing.T) {
	cli, _ := seededCLI(t)

	stdout := new(bytes.Buffer)
	code := cli.CheckCommand(context.Background(), CheckOptions{Email: "admin@example.com", Capability: "DELETE_USER", JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitOK, code)
	var summary CheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.Allowed)
	require.Equal(t, rbac.ReasonGranted, summary.Reason)

	stdout.Reset()
	code = cli.CheckCommand(context.Background(), CheckOptions{Email: "admin@example.com", Capability: "MANAGE_ROLES", Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitDenied, code)
	require.Contains(t, stdout.String(), "DENY MANAGE_ROLES")
}

func TestCheckCommandOwnerRule(t *testing.T) {
	cli, store := seededCLI(t)
	admin, err := store.GetPrincipalByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.CheckCommand(context.Background(), CheckOptions{Email: "admin@example.com", Capability: "MANAGE_ROLES", OwnerID: admin.ID, JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})

	require.Equal(t, ExitOK, code)
	var summary CheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, rbac.ReasonOwner, summary.Reason)
}

func TestCheckCommandRequiresCapability(t *testing.T) {
	cli, _ := seededCLI(t)
	stderr := new(bytes.Buffer)

	code := cli.CheckCommand(context.Background(), CheckOptions{Email: "admin@example.com", Stdout: new(bytes.Buffer), Stderr: stderr})

	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "--capability is required")
}
