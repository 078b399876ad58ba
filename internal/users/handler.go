package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/shared"
	"github.com/rolekeeper/rolekeeper/internal/view"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.CapViewUsers)).Get("/", h.listUsers)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapCreateUser))
		r.Get("/new", h.showCreateUserForm)
		r.Post("/", h.createUser)
	})
	r.With(h.rbac.Require(shared.CapViewUsers, userFromURL)).Get("/{id}", h.showUser)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.CapEditUser, userFromURL))
		r.Get("/{id}/edit", h.showEditUserForm)
		r.Post("/{id}", h.updateUser)
	})
	r.With(h.rbac.RequireAny(shared.CapDeleteUser)).Post("/{id}/delete", h.deleteUser)
}

// userFromURL treats the addressed user record as owned by that user.
func userFromURL(r *http.Request) rbac.Resource {
	id, ok := rbac.URLParamID(r, "id")
	if !ok {
		return nil
	}
	return rbac.OwnedBy(id)
}

type userForm struct {
	Name     string `form:"name" validate:"required,max=255"`
	Email    string `form:"email" validate:"required,email,max=255"`
	Password string `form:"password" validate:"omitempty,min=8,max=72"`
	RoleID   int64  `form:"role_id"`
}

type formErrors map[string]string

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.render(w, r, "pages/users/list.html", map[string]any{"Errors": formErrors{"general": rbac.Message(err)}}, http.StatusInternalServerError)
		return
	}
	page := shared.PaginationFromRequest(r, len(users))
	start, end := page.Bounds()
	h.render(w, r, "pages/users/list.html", map[string]any{"Users": users[start:end], "Pagination": page}, http.StatusOK)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.URLParamID(r, "id")
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	h.render(w, r, "pages/users/show.html", map[string]any{"User": user}, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.NewFormData(r.Context())
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	h.renderForm(w, r, data, userForm{}, nil, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	errs := shared.ValidateForm(form)
	if form.Password == "" {
		errs["password"] = "This field is required."
	}
	if len(errs) > 0 {
		h.rerender(w, r, 0, form, errs)
		return
	}
	user, err := h.service.CreateUser(r.Context(), Input{Name: form.Name, Email: form.Email, Password: form.Password, RoleID: form.RoleID, SetRole: true})
	if err != nil {
		h.writeFailure(w, r, 0, form, err)
		return
	}
	h.logger.Info("user created", slog.Int64("user_id", user.ID))
	rbac.RedirectWithFlash(w, r, "/users", shared.FlashSuccess, "User created successfully.")
}

func (h *Handler) showEditUserForm(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.URLParamID(r, "id")
	data, err := h.service.EditFormData(r.Context(), id)
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	form := userForm{Name: data.User.Name, Email: data.User.Email, RoleID: data.User.RoleID()}
	h.renderForm(w, r, data, form, nil, http.StatusOK)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, _ := rbac.URLParamID(r, "id")
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if errs := shared.ValidateForm(form); len(errs) > 0 {
		h.rerender(w, r, id, form, errs)
		return
	}
	// Owners may edit their own profile but only a real grant may change roles.
	setRole := rbac.GrantsFromContext(r.Context()).Can(shared.CapEditUser)
	in := Input{Name: form.Name, Email: form.Email, Password: form.Password, RoleID: form.RoleID, SetRole: setRole}
	if _, err := h.service.UpdateUser(r.Context(), id, in); err != nil {
		h.writeFailure(w, r, id, form, err)
		return
	}
	location := "/users"
	if !setRole {
		location = "/users/" + strconv.FormatInt(id, 10)
	}
	rbac.RedirectWithFlash(w, r, location, shared.FlashSuccess, "User updated successfully.")
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		if !errors.Is(err, rbac.ErrNotFound) {
			h.logger.Error("delete user failed", slog.Int64("user_id", id), slog.Any("error", err))
		}
		rbac.RedirectWithFlash(w, r, "/users", shared.FlashError, rbac.Message(err))
		return
	}
	h.logger.Info("user deleted", slog.Int64("user_id", id))
	rbac.RedirectWithFlash(w, r, "/users", shared.FlashSuccess, "User deleted successfully.")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (userForm, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return userForm{}, false
	}
	form := userForm{
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if raw := strings.TrimSpace(r.PostFormValue("role_id")); raw != "" {
		form.RoleID, _ = strconv.ParseInt(raw, 10, 64)
	}
	return form, true
}

func (h *Handler) failLookup(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rbac.ErrNotFound) {
		h.notFound(w, r)
		return
	}
	h.logger.Error("load user failed", slog.Any("error", err))
	rbac.RedirectWithFlash(w, r, "/users", shared.FlashError, rbac.Message(err))
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, id int64, form userForm, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.notFound(w, r)
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, rbac.ErrDuplicateName):
		h.rerender(w, r, id, form, rbac.FieldErrors(err))
	default:
		h.logger.Error("save user failed", slog.Any("error", err))
		h.rerender(w, r, id, form, formErrors{"general": rbac.Message(err)})
	}
}

func (h *Handler) rerender(w http.ResponseWriter, r *http.Request, id int64, form userForm, errs formErrors) {
	data, err := h.service.NewFormData(r.Context())
	if err != nil {
		h.failLookup(w, r, err)
		return
	}
	data.User.ID = id
	status := http.StatusUnprocessableEntity
	if _, ok := errs["general"]; ok {
		status = http.StatusInternalServerError
	}
	form.Password = ""
	h.renderForm(w, r, data, form, errs, status)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data FormData, form userForm, errs formErrors, status int) {
	action := "/users"
	if data.User.ID > 0 {
		action = "/users/" + strconv.FormatInt(data.User.ID, 10)
	}
	if errs == nil {
		errs = formErrors{}
	}
	h.render(w, r, "pages/users/form.html", map[string]any{
		"Form":    form,
		"Errors":  errs,
		"User":    data.User,
		"Roles":   data.Roles,
		"Action":  action,
		"Editing": data.User.ID > 0,
	}, status)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/not-found.html", nil, http.StatusNotFound)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	if err := h.templates.Render(w, status, template, rbac.PageData(r, h.csrf, "Users", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
