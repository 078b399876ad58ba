package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rolekeeper/rolekeeper/internal/platform/httpx"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

const (
	// LoginPath receives unauthenticated page requests.
	LoginPath = "/auth/login"
	// UnauthorizedPath receives denied page requests.
	UnauthorizedPath = "/unauthorized"
	// ReturnToSessionKey remembers the page an anonymous visitor asked for.
	ReturnToSessionKey = "return_to"
)

// ResourceResolver extracts the resource a request targets so the owner
// rule can apply. Returning nil skips the owner rule.
type ResourceResolver func(r *http.Request) Resource

// Middleware wires RBAC authorization helpers for HTTP handlers. With API
// set, failures answer RFC7807 JSON instead of redirects.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	API     bool
}

// ForAPI returns a copy that answers with JSON problems.
func (m Middleware) ForAPI() Middleware {
	m.API = true
	return m
}

// LoadGrants attaches the signed in principal's grants to the request
// context. Anonymous requests pass through untouched.
func (m Middleware) LoadGrants(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			next.ServeHTTP(w, r)
			return
		}
		r, ok := m.withGrants(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated rejects anonymous requests.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := m.withGrants(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current principal may exercise at least one of
// the capabilities.
func (m Middleware) RequireAny(capabilities ...string) func(http.Handler) http.Handler {
	required := normalizeCapabilities(capabilities)
	return m.guard(func(r *http.Request, g *Grants) (string, Decision) {
		if len(required) == 0 {
			return "", allow(ReasonGranted)
		}
		var d Decision
		for _, c := range required {
			if d = m.Service.Decide(g, c, nil); d.Allowed {
				return c, d
			}
		}
		return strings.Join(required, "|"), d
	})
}

// RequireAll ensures the current principal may exercise every capability.
func (m Middleware) RequireAll(capabilities ...string) func(http.Handler) http.Handler {
	required := normalizeCapabilities(capabilities)
	return m.guard(func(r *http.Request, g *Grants) (string, Decision) {
		d := allow(ReasonGranted)
		for _, c := range required {
			if d = m.Service.Decide(g, c, nil); !d.Allowed {
				return c, d
			}
		}
		return strings.Join(required, "&"), d
	})
}

// Require checks a single capability with the owner rule applied to the
// resource returned by resolve.
func (m Middleware) Require(capability string, resolve ResourceResolver) func(http.Handler) http.Handler {
	capability = strings.TrimSpace(capability)
	return m.guard(func(r *http.Request, g *Grants) (string, Decision) {
		var resource Resource
		if resolve != nil {
			resource = resolve(r)
		}
		return capability, m.Service.Decide(g, capability, resource)
	})
}

type check func(r *http.Request, g *Grants) (string, Decision)

func (m Middleware) guard(decide check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := m.withGrants(w, r)
			if !ok {
				return
			}
			g := GrantsFromContext(r.Context())
			capability, decision := decide(r, g)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			m.logger().Info("rbac deny",
				slog.Int64("principal_id", g.PrincipalID),
				slog.String("capability", capability),
				slog.String("reason", string(decision.Reason)),
				slog.String("path", r.URL.Path))
			m.forbidden(w, r)
		})
	}
}

// withGrants makes sure the request context carries grants, loading them
// from the store on first use. It writes the failure response itself.
func (m Middleware) withGrants(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if GrantsFromContext(r.Context()) != nil {
		return r, true
	}
	sess := shared.SessionFromContext(r.Context())
	principalID, ok := sess.PrincipalID()
	if !ok {
		m.unauthenticated(w, r)
		return r, false
	}
	grants, err := m.Service.Grants(r.Context(), principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The principal was deleted while signed in.
			sess.SetPrincipal(0)
			m.unauthenticated(w, r)
			return r, false
		}
		m.logger().Error("rbac load grants", slog.Int64("principal_id", principalID), slog.Any("error", err))
		if m.API {
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return r, false
	}
	return r.WithContext(ContextWithGrants(r.Context(), grants)), true
}

func (m Middleware) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if m.API {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && r.Method == http.MethodGet {
		sess.Set(ReturnToSessionKey, r.URL.RequestURI())
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (m Middleware) forbidden(w http.ResponseWriter, r *http.Request) {
	if m.API {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", Message(ErrUnauthorized))
		return
	}
	http.Redirect(w, r, UnauthorizedPath, http.StatusSeeOther)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizeCapabilities(capabilities []string) []string {
	seen := make(map[string]struct{}, len(capabilities))
	out := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
