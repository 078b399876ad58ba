package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rolekeeper/rolekeeper/internal/auth"
	"github.com/rolekeeper/rolekeeper/internal/observability"
	"github.com/rolekeeper/rolekeeper/internal/platform/httpx"
	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/roles"
	"github.com/rolekeeper/rolekeeper/internal/shared"
	"github.com/rolekeeper/rolekeeper/internal/users"
	"github.com/rolekeeper/rolekeeper/internal/view"
	"github.com/rolekeeper/rolekeeper/web"
)

// HealthCheck pings a backing service for /healthz.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Templates          *view.Engine
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	APIHandler         *rbac.APIHandler
	Metrics            *observability.Metrics
	HealthChecks       map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the panel defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/healthz", healthHandler(params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	staticFS, err := web.Static()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
			RBAC:           params.RBACMiddleware,
		}) {
			r.Use(mw)
		}

		pages := pageRenderer{logger: params.Logger, templates: params.Templates, csrf: params.CSRFManager}

		r.With(params.RBACMiddleware.RequireAuthenticated).Get("/", pages.dashboard)
		r.Get(rbac.UnauthorizedPath, pages.static("pages/unauthorized.html", "Unauthorized", http.StatusForbidden))
		r.NotFound(pages.static("pages/not-found.html", "Not found", http.StatusNotFound))

		r.Route("/auth", params.AuthHandler.MountRoutes)
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.APIHandler != nil {
			r.Route("/api", params.APIHandler.MountRoutes)
		}
	})

	return r
}

type pageRenderer struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// dashboard lists the viewer's roles and effective permissions.
func (p pageRenderer) dashboard(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "pages/home.html", "Dashboard", http.StatusOK, map[string]any{
		"Grants": rbac.GrantsFromContext(r.Context()),
	})
}

func (p pageRenderer) static(name, title string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.render(w, r, name, title, status, nil)
	}
}

func (p pageRenderer) render(w http.ResponseWriter, r *http.Request, name, title string, status int, data any) {
	if err := p.templates.Render(w, status, name, rbac.PageData(r, p.csrf, title, data)); err != nil {
		p.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = "unavailable"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httpx.JSON(w, code, status)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
