package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/shared"
	"github.com/rolekeeper/rolekeeper/internal/view"
)

const invalidCredentialsMessage = "Invalid email or password."

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	loginLimit     int
}

// NewHandler constructs a Handler instance. loginLimit caps login attempts
// per client IP per minute; zero disables the limiter.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, loginLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		loginLimit:     loginLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Group(func(r chi.Router) {
		if h.loginLimit > 0 {
			r.Use(httprate.Limit(h.loginLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(h.tooManyAttempts)))
		}
		r.Post("/login", h.handleLogin)
	})
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, loginPageData{Errors: map[string]string{}}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	errs := shared.ValidateForm(form)
	if len(errs) == 0 {
		identity, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case err == nil && sess != nil:
			h.sessionManager.Renew(sess)
			h.csrfManager.Reset(sess)
			sess.SetPrincipal(identity.ID)
			target := safeReturnTo(sess.Get(rbac.ReturnToSessionKey))
			sess.Delete(rbac.ReturnToSessionKey)
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: "Welcome back, " + identity.Name + "."})
			h.logger.Info("login succeeded", slog.Int64("principal_id", identity.ID))
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		case err == nil:
			h.logger.Error("session missing during login")
			errs["general"] = shared.UserSafeMessage(errors.New("session missing"))
		case errors.Is(err, shared.ErrInvalidCredentials):
			h.logger.Info("login failed", slog.String("remote_addr", r.RemoteAddr))
			errs["general"] = invalidCredentialsMessage
		default:
			h.logger.Error("login lookup failed", slog.Any("error", err))
			errs["general"] = shared.UserSafeMessage(err)
		}
	}
	form.Password = ""
	h.render(w, r, loginPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.logger.Info("logout", slog.String("principal_id", sess.PrincipalKey()))
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
}

func (h *Handler) tooManyAttempts(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, loginPageData{Errors: map[string]string{"general": "Too many login attempts. Please wait a minute and try again."}}, http.StatusTooManyRequests)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	if err := h.templates.Render(w, status, "pages/login.html", rbac.PageData(r, h.csrfManager, "Sign in", data)); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// safeReturnTo only follows local paths.
func safeReturnTo(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
