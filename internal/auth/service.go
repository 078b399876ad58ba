package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

// dummyHash is compared against when the email is unknown so both failure
// paths spend the same bcrypt time.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5Z1Zq0pCj3lW2FJ8dZK1p4W"

// Service wraps authentication business rules.
type Service struct {
	finder PrincipalFinder
}

// NewService constructs a new Service.
func NewService(finder PrincipalFinder) *Service {
	return &Service{finder: finder}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p, err := s.finder.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			_ = shared.ComparePassword(dummyHash, password)
			return Identity{}, shared.ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if err := shared.ComparePassword(p.PasswordHash, password); err != nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	return Identity{ID: p.ID, Name: p.Name, Email: p.Email}, nil
}
