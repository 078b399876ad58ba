package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rolekeeper/rolekeeper/internal/shared"
)

// RoleSeed describes a role created on first boot.
type RoleSeed struct {
	Name        string
	Permissions []string
}

// PrincipalSeed describes an account created on first boot.
type PrincipalSeed struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// SeedPlan is the initial RBAC state.
type SeedPlan struct {
	Permissions []string
	Roles       []RoleSeed
	Principals  []PrincipalSeed
}

// DefaultSeedPlan returns the stock permissions and roles plus the given
// accounts. Accounts with an empty email are skipped.
func DefaultSeedPlan(accounts ...PrincipalSeed) SeedPlan {
	plan := SeedPlan{
		Permissions: shared.PanelCapabilities(),
		Roles: []RoleSeed{
			{Name: "WRITER", Permissions: []string{shared.CapEditUser}},
			{Name: "ROLE_ADMIN", Permissions: []string{shared.CapEditUser, shared.CapDeleteUser, shared.CapCreateUser}},
			{Name: "ROLE_USER", Permissions: []string{shared.CapViewUsers}},
			{Name: SuperAdminRole},
		},
	}
	for _, a := range accounts {
		if strings.TrimSpace(a.Email) != "" {
			plan.Principals = append(plan.Principals, a)
		}
	}
	return plan
}

// SeedResult counts the records Bootstrap created.
type SeedResult struct {
	Permissions int
	Roles       int
	Principals  int
}

// Bootstrap applies plan. Existing records, matched by name or email, are
// left as they are, so running it repeatedly converges on the same state.
func Bootstrap(ctx context.Context, store Store, plan SeedPlan, logger *slog.Logger) (SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res SeedResult

	existing, err := store.ListPermissions(ctx)
	if err != nil {
		return res, fmt.Errorf("rbac: seed: list permissions: %w", err)
	}
	permIDs := make(map[string]int64, len(existing))
	for _, p := range existing {
		permIDs[p.Name] = p.ID
	}
	for _, name := range plan.Permissions {
		if _, ok := permIDs[name]; ok {
			continue
		}
		p, err := store.CreatePermission(ctx, name)
		if err != nil {
			return res, fmt.Errorf("rbac: seed permission %s: %w", name, err)
		}
		permIDs[p.Name] = p.ID
		res.Permissions++
	}

	roleIDs := make(map[string]int64, len(plan.Roles))
	for _, rs := range plan.Roles {
		name := NormalizeRoleName(rs.Name)
		role, err := store.GetRoleByName(ctx, name)
		if err == nil {
			roleIDs[name] = role.ID
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return res, fmt.Errorf("rbac: seed role %s: %w", name, err)
		}
		ids := make([]int64, 0, len(rs.Permissions))
		for _, pn := range rs.Permissions {
			id, ok := permIDs[pn]
			if !ok {
				return res, fmt.Errorf("rbac: seed role %s: %w: %s", name, ErrUnknownPermission, pn)
			}
			ids = append(ids, id)
		}
		role, err = store.CreateRole(ctx, name, uniqueIDs(ids))
		if err != nil {
			return res, fmt.Errorf("rbac: seed role %s: %w", name, err)
		}
		roleIDs[name] = role.ID
		res.Roles++
	}

	for _, ps := range plan.Principals {
		email := strings.ToLower(strings.TrimSpace(ps.Email))
		_, err := store.GetPrincipalByEmail(ctx, email)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return res, fmt.Errorf("rbac: seed principal %s: %w", email, err)
		}
		var roles []int64
		if ps.Role != "" {
			id, ok := roleIDs[NormalizeRoleName(ps.Role)]
			if !ok {
				return res, fmt.Errorf("rbac: seed principal %s: role %s: %w", email, ps.Role, ErrNotFound)
			}
			roles = []int64{id}
		}
		hash, err := shared.HashPassword(ps.Password)
		if err != nil {
			return res, fmt.Errorf("rbac: seed principal %s: hash: %w", email, err)
		}
		if _, err := store.CreatePrincipal(ctx, NewPrincipal{Name: ps.Name, Email: email, PasswordHash: hash, RoleIDs: roles}); err != nil {
			return res, fmt.Errorf("rbac: seed principal %s: %w", email, err)
		}
		logger.Info("seeded principal", slog.String("email", email), slog.String("role", ps.Role))
		res.Principals++
	}

	logger.Info("rbac bootstrap complete",
		slog.Int("permissions_created", res.Permissions),
		slog.Int("roles_created", res.Roles),
		slog.Int("principals_created", res.Principals))
	return res, nil
}
