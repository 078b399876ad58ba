package users

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

const minPasswordLength = 8

// Directory is the principal storage the user pages depend on.
type Directory interface {
	ListPrincipals(ctx context.Context) ([]rbac.Principal, error)
	GetPrincipal(ctx context.Context, id int64) (rbac.Principal, error)
	CreatePrincipal(ctx context.Context, p rbac.NewPrincipal) (rbac.Principal, error)
	UpdatePrincipal(ctx context.Context, id int64, c rbac.PrincipalChanges) (rbac.Principal, error)
	DeletePrincipal(ctx context.Context, id int64) error
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
}

// Service handles user business logic.
type Service struct {
	dir  Directory
	hash func(string) (string, error)
}

// NewService builds Service instance.
func NewService(dir Directory) *Service {
	return &Service{dir: dir, hash: shared.HashPassword}
}

// ListUsers returns all users ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	principals, err := s.dir.ListPrincipals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(principals))
	for _, p := range principals {
		out = append(out, fromPrincipal(p))
	}
	return out, nil
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, rbac.ErrNotFound
	}
	p, err := s.dir.GetPrincipal(ctx, id)
	if err != nil {
		return User{}, err
	}
	return fromPrincipal(p), nil
}

// NewFormData loads the role catalogue for the create page.
func (s *Service) NewFormData(ctx context.Context) (FormData, error) {
	roles, err := s.dir.ListRoles(ctx)
	if err != nil {
		return FormData{}, err
	}
	return FormData{Roles: roles}, nil
}

// EditFormData loads the user and the role catalogue concurrently.
func (s *Service) EditFormData(ctx context.Context, id int64) (FormData, error) {
	var data FormData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.GetUser(gctx, id)
		data.User = u
		return err
	})
	g.Go(func() error {
		roles, err := s.dir.ListRoles(gctx)
		data.Roles = roles
		return err
	})
	if err := g.Wait(); err != nil {
		return FormData{}, err
	}
	return data, nil
}

// CreateUser registers a principal. The password is required and stored
// as a bcrypt hash.
func (s *Service) CreateUser(ctx context.Context, in Input) (User, error) {
	in = normalize(in)
	if err := validateIdentity(in); err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLength {
		return User{}, passwordError()
	}
	roles, err := s.roleIDs(ctx, in)
	if err != nil {
		return User{}, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	p, err := s.dir.CreatePrincipal(ctx, rbac.NewPrincipal{Name: in.Name, Email: in.Email, PasswordHash: hash, RoleIDs: roles})
	if err != nil {
		return User{}, emailError(err)
	}
	return fromPrincipal(p), nil
}

// UpdateUser changes a principal. A blank password keeps the current one.
func (s *Service) UpdateUser(ctx context.Context, id int64, in Input) (User, error) {
	if id <= 0 {
		return User{}, rbac.ErrNotFound
	}
	in = normalize(in)
	if err := validateIdentity(in); err != nil {
		return User{}, err
	}
	changes := rbac.PrincipalChanges{Name: in.Name, Email: in.Email}
	if in.Password != "" {
		if len(in.Password) < minPasswordLength {
			return User{}, passwordError()
		}
		hash, err := s.hash(in.Password)
		if err != nil {
			return User{}, err
		}
		changes.PasswordHash = hash
	}
	if in.SetRole {
		roles, err := s.roleIDs(ctx, in)
		if err != nil {
			return User{}, err
		}
		changes.RoleIDs = roles
		changes.ReplaceRoles = true
	}
	p, err := s.dir.UpdatePrincipal(ctx, id, changes)
	if err != nil {
		return User{}, emailError(err)
	}
	return fromPrincipal(p), nil
}

// DeleteUser removes a principal and its role assignments.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return rbac.ErrNotFound
	}
	return s.dir.DeletePrincipal(ctx, id)
}

func (s *Service) roleIDs(ctx context.Context, in Input) ([]int64, error) {
	if in.RoleID <= 0 {
		return []int64{}, nil
	}
	if _, err := s.dir.GetRole(ctx, in.RoleID); err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return nil, &rbac.FieldError{Field: "role_id", Err: rbac.ErrInvalidInput, Detail: "Select a valid role."}
		}
		return nil, err
	}
	return []int64{in.RoleID}, nil
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return in
}

func validateIdentity(in Input) error {
	if in.Name == "" {
		return &rbac.FieldError{Field: "name", Err: rbac.ErrInvalidInput}
	}
	if in.Email == "" {
		return &rbac.FieldError{Field: "email", Err: rbac.ErrInvalidInput}
	}
	return nil
}

func passwordError() error {
	return &rbac.FieldError{Field: "password", Err: rbac.ErrInvalidInput, Detail: "Must be at least 8 characters."}
}

func emailError(err error) error {
	if errors.Is(err, rbac.ErrDuplicateName) {
		return &rbac.FieldError{Field: "email", Err: err, Detail: "The email has already been taken."}
	}
	return err
}
