package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolekeeper/rolekeeper/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PGStore implements Store on PostgreSQL. Association rows are removed by
// ON DELETE CASCADE foreign keys.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ListPermissions returns all permissions ordered by name.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return scanPermissions(rows)
}

// GetPermission fetches a permission by ID.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM permissions WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, fmt.Errorf("rbac: get permission: %w", err)
	}
	return p, nil
}

// CreatePermission inserts a permission.
func (s *PGStore) CreatePermission(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, name, created_at, updated_at`, name).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Permission{}, ErrDuplicateName
		}
		return Permission{}, fmt.Errorf("rbac: create permission: %w", err)
	}
	return p, nil
}

// RenamePermission changes a permission name.
func (s *PGStore) RenamePermission(ctx context.Context, id int64, name string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `
		UPDATE permissions SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, created_at, updated_at`, id, name).
		Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Permission{}, ErrNotFound
		case pgCode(err) == pgUniqueViolation:
			return Permission{}, ErrDuplicateName
		}
		return Permission{}, fmt.Errorf("rbac: rename permission: %w", err)
	}
	return p, nil
}

// DeletePermission removes a permission. role_permissions rows cascade.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRoles returns all roles with permissions, ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY name`)
		if err != nil {
			return err
		}
		if roles, err = scanRoles(rows); err != nil {
			return err
		}
		return attachRolePermissions(ctx, tx, roles)
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		role, err = loadRole(ctx, tx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id)
		return err
	})
	return role, roleLookupError("get role", err)
}

// GetRoleByName fetches a role by name, ignoring case.
func (s *PGStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		role, err = loadRole(ctx, tx, `SELECT id, name, created_at, updated_at FROM roles WHERE upper(name) = upper($1)`, name)
		return err
	})
	return role, roleLookupError("get role by name", err)
}

// CreateRole inserts a role and its permission set in one transaction.
func (s *PGStore) CreateRole(ctx context.Context, name string, permissionIDs []int64) (Role, error) {
	var role Role
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, created_at, updated_at)
			VALUES ($1, NOW(), NOW())
			RETURNING id`, name).Scan(&id); err != nil {
			if pgCode(err) == pgUniqueViolation {
				return ErrDuplicateName
			}
			return err
		}
		if err := insertRolePermissions(ctx, tx, id, permissionIDs); err != nil {
			return err
		}
		var err error
		role, err = loadRole(ctx, tx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id)
		return err
	})
	return role, roleWriteError("create role", err)
}

// UpdateRole renames a role and, when asked, replaces its permission set in
// the same transaction.
func (s *PGStore) UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64, replacePermissions bool) (Role, error) {
	var role Role
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
		if err != nil {
			if pgCode(err) == pgUniqueViolation {
				return ErrDuplicateName
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if replacePermissions {
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
				return err
			}
			if err := insertRolePermissions(ctx, tx, id, permissionIDs); err != nil {
				return err
			}
		}
		role, err = loadRole(ctx, tx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id)
		return err
	})
	return role, roleWriteError("update role", err)
}

// DeleteRole removes a role. role_permissions and user_roles rows cascade.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertRolePermissions(ctx context.Context, q dbtx, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	if err != nil && pgCode(err) == pgForeignKeyViolation {
		return ErrUnknownPermission
	}
	return err
}

func loadRole(ctx context.Context, q dbtx, query string, arg any) (Role, error) {
	var r Role
	if err := q.QueryRow(ctx, query, arg).Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	roles := []Role{r}
	if err := attachRolePermissions(ctx, q, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

func attachRolePermissions(ctx context.Context, q dbtx, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64]int, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
		index[r.ID] = i
		roles[i].Permissions = []Permission{}
	}
	rows, err := q.Query(ctx, `
		SELECT rp.role_id, p.id, p.name, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var p Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		i := index[roleID]
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	return rows.Err()
}

func roleLookupError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	}
	return fmt.Errorf("rbac: %s: %w", op, err)
}

func roleWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	}
	return fmt.Errorf("rbac: %s: %w", op, err)
}

// ListPrincipals returns all principals with their roles, ordered by id.
func (s *PGStore) ListPrincipals(ctx context.Context) ([]Principal, error) {
	var principals []Principal
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, name, email, password_hash, created_at, updated_at FROM users ORDER BY id`)
		if err != nil {
			return err
		}
		if principals, err = scanPrincipals(rows); err != nil {
			return err
		}
		return attachPrincipalRoles(ctx, tx, principals)
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: list principals: %w", err)
	}
	return principals, nil
}

// GetPrincipal fetches a principal by ID.
func (s *PGStore) GetPrincipal(ctx context.Context, id int64) (Principal, error) {
	return s.getPrincipal(ctx, `SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
}

// GetPrincipalByEmail fetches a principal by email, ignoring case.
func (s *PGStore) GetPrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	return s.getPrincipal(ctx, `SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *PGStore) getPrincipal(ctx context.Context, query string, arg any) (Principal, error) {
	var p Principal
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		p, err = loadPrincipal(ctx, tx, query, arg)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, fmt.Errorf("rbac: get principal: %w", err)
	}
	return p, nil
}

// CreatePrincipal inserts a principal and its initial roles in one transaction.
func (s *PGStore) CreatePrincipal(ctx context.Context, np NewPrincipal) (Principal, error) {
	var p Principal
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO users (name, email, password_hash, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			RETURNING id`, np.Name, np.Email, np.PasswordHash).Scan(&id); err != nil {
			if pgCode(err) == pgUniqueViolation {
				return ErrDuplicateName
			}
			return err
		}
		if err := insertUserRoles(ctx, tx, id, np.RoleIDs); err != nil {
			return err
		}
		var err error
		p, err = loadPrincipal(ctx, tx, `SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
		return err
	})
	return p, principalWriteError("create principal", err)
}

// UpdatePrincipal applies changes to a principal in one transaction.
func (s *PGStore) UpdatePrincipal(ctx context.Context, id int64, c PrincipalChanges) (Principal, error) {
	var p Principal
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET name = $2,
			    email = $3,
			    password_hash = COALESCE(NULLIF($4, ''), password_hash),
			    updated_at = NOW()
			WHERE id = $1`, id, c.Name, c.Email, c.PasswordHash)
		if err != nil {
			if pgCode(err) == pgUniqueViolation {
				return ErrDuplicateName
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if c.ReplaceRoles {
			if err := replaceUserRoles(ctx, tx, id, c.RoleIDs); err != nil {
				return err
			}
		}
		p, err = loadPrincipal(ctx, tx, `SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
		return err
	})
	return p, principalWriteError("update principal", err)
}

// DeletePrincipal removes a principal. user_roles rows cascade.
func (s *PGStore) DeletePrincipal(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrincipalRoles replaces the principal's roles in one transaction.
func (s *PGStore) SetPrincipalRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, principalID).Scan(&id); err != nil {
			return err
		}
		return replaceUserRoles(ctx, tx, principalID, roleIDs)
	})
	return principalWriteError("set principal roles", err)
}

// Grants reads role names and effective permissions from one snapshot.
func (s *PGStore) Grants(ctx context.Context, principalID int64) (*Grants, error) {
	g := &Grants{PrincipalID: principalID, Roles: []string{}, Permissions: []Permission{}}
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, principalID).Scan(&g.Name); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT r.name
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = $1
			ORDER BY r.name`, principalID)
		if err != nil {
			return err
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		g.Roles = append(g.Roles, names...)
		rows, err = tx.Query(ctx, `
			SELECT DISTINCT p.id, p.name, p.created_at, p.updated_at
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1
			ORDER BY p.name`, principalID)
		if err != nil {
			return err
		}
		perms, err := scanPermissions(rows)
		if err != nil {
			return err
		}
		g.Permissions = append(g.Permissions, perms...)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rbac: grants: %w", err)
	}
	return g, nil
}

func insertUserRoles(ctx context.Context, q dbtx, userID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, userID, roleIDs)
	if err != nil && pgCode(err) == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func replaceUserRoles(ctx context.Context, q dbtx, userID int64, roleIDs []int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return insertUserRoles(ctx, q, userID, roleIDs)
}

func loadPrincipal(ctx context.Context, q dbtx, query string, arg any) (Principal, error) {
	var p Principal
	if err := q.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Principal{}, err
	}
	principals := []Principal{p}
	if err := attachPrincipalRoles(ctx, q, principals); err != nil {
		return Principal{}, err
	}
	return principals[0], nil
}

func attachPrincipalRoles(ctx context.Context, q dbtx, principals []Principal) error {
	if len(principals) == 0 {
		return nil
	}
	ids := make([]int64, len(principals))
	index := make(map[int64]int, len(principals))
	for i, p := range principals {
		ids[i] = p.ID
		index[p.ID] = i
		principals[i].Roles = []Role{}
	}
	rows, err := q.Query(ctx, `
		SELECT ur.user_id, r.id, r.name, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1)
		ORDER BY r.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var r Role
		if err := rows.Scan(&userID, &r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		r.Permissions = []Permission{}
		i := index[userID]
		principals[i].Roles = append(principals[i].Roles, r)
	}
	return rows.Err()
}

func principalWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, db.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	}
	return fmt.Errorf("rbac: %s: %w", op, err)
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func scanPrincipals(rows pgx.Rows) ([]Principal, error) {
	defer rows.Close()
	principals := []Principal{}
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return principals, nil
}

var _ Store = (*PGStore)(nil)
