package auth

import (
	"context"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// PrincipalFinder looks up accounts by login email.
type PrincipalFinder interface {
	GetPrincipalByEmail(ctx context.Context, email string) (rbac.Principal, error)
}

// Identity is the authenticated principal stored in the session.
type Identity struct {
	ID    int64
	Name  string
	Email string
}
