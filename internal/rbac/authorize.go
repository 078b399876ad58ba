package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Reason explains which rule produced a Decision.
type Reason string

// Decision reasons, in rule evaluation order.
const (
	ReasonSuperUser        Reason = "superuser"
	ReasonGranted          Reason = "granted"
	ReasonOwner            Reason = "owner"
	ReasonDenied           Reason = "denied"
	ReasonUnknownPrincipal Reason = "unknown_principal"
	ReasonError            Reason = "error"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(reason Reason) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason Reason) Decision  { return Decision{Allowed: false, Reason: reason} }

// Grants is a principal's role names and effective permissions read at a
// single point in time.
type Grants struct {
	PrincipalID int64        `json:"principal_id"`
	Name        string       `json:"name"`
	Roles       []string     `json:"roles"`
	Permissions []Permission `json:"permissions"`
}

// SuperUser reports whether the principal holds the reserved admin role.
func (g *Grants) SuperUser() bool {
	if g == nil {
		return false
	}
	for _, name := range g.Roles {
		if name == SuperAdminRole {
			return true
		}
	}
	return false
}

// HasRole reports whether the principal holds the named role.
func (g *Grants) HasRole(name string) bool {
	if g == nil {
		return false
	}
	name = NormalizeRoleName(name)
	for _, r := range g.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Has reports whether capability is in the effective permission set.
func (g *Grants) Has(capability string) bool {
	if g == nil {
		return false
	}
	capability = strings.TrimSpace(capability)
	for _, p := range g.Permissions {
		if p.Name == capability {
			return true
		}
	}
	return false
}

// PermissionNames lists the effective permission names.
func (g *Grants) PermissionNames() []string {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.Permissions))
	for _, p := range g.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// Decide applies the authorization rules in fixed order: super-admin
// bypass, explicit grant, then ownership of resource. It performs no I/O.
func (g *Grants) Decide(capability string, resource Resource) Decision {
	if g == nil {
		return deny(ReasonUnknownPrincipal)
	}
	if g.SuperUser() {
		return allow(ReasonSuperUser)
	}
	if g.Has(capability) {
		return allow(ReasonGranted)
	}
	if resource != nil && g.PrincipalID != 0 && resource.OwnerID() == g.PrincipalID {
		return allow(ReasonOwner)
	}
	return deny(ReasonDenied)
}

// Can is Decide without a resource. Templates use it to hide controls the
// server would reject.
func (g *Grants) Can(capability string) bool {
	return g.Decide(capability, nil).Allowed
}

// DecisionObserver receives every decision made by Service.Authorize.
type DecisionObserver interface {
	ObserveDecision(capability string, decision Decision)
}

// Authorize loads the principal's current grants and decides whether the
// capability may be exercised, optionally on resource. It never fails: a
// missing principal or a storage error yields a deny.
func (s *Service) Authorize(ctx context.Context, principalID int64, capability string, resource Resource) Decision {
	grants, err := s.Grants(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.observe(capability, deny(ReasonUnknownPrincipal))
		}
		s.logger.Error("rbac authorize", slog.Int64("principal_id", principalID), slog.String("capability", capability), slog.Any("error", err))
		return s.observe(capability, deny(ReasonError))
	}
	return s.Decide(grants, capability, resource)
}

// Decide evaluates already loaded grants and reports the outcome to the
// observer. Route guards use it with the grants loaded for the request.
func (s *Service) Decide(g *Grants, capability string, resource Resource) Decision {
	return s.observe(capability, g.Decide(capability, resource))
}

func (s *Service) observe(capability string, d Decision) Decision {
	if s.observer != nil {
		s.observer.ObserveDecision(capability, d)
	}
	return d
}

type grantsContextKey struct{}

// ContextWithGrants stores the request principal's grants.
func ContextWithGrants(ctx context.Context, g *Grants) context.Context {
	return context.WithValue(ctx, grantsContextKey{}, g)
}

// GrantsFromContext returns the grants loaded for this request, if any.
func GrantsFromContext(ctx context.Context) *Grants {
	g, _ := ctx.Value(grantsContextKey{}).(*Grants)
	return g
}
