package roles

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

// permissionsMarker is posted by the edit form so an empty checkbox group
// still means "clear every permission".
const permissionsMarker = "permissions_present"

// Handler manages role management endpoints.
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapManageRoles))
		r.Get("/", h.listRoles)
		r.Get("/new", h.showCreateRoleForm)
		r.Post("/", h.createRole)
		r.Get("/{id}/edit", h.showEditRoleForm)
		r.Post("/{id}", h.updateRole)
		r.Post("/{id}/delete", h.deleteRole)
	})
}

type roleForm struct {
	Name          string  `form:"name" validate:"required,max=255"`
	PermissionIDs []int64 `form:"permissions"`
}

type formErrors map[string]string

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Query: q.Get("q"), SortBy: q.Get("sort"), SortDir: q.Get("dir")}.Normalize()
	roles, err := h.service.ListRoles(r.Context(), filters)
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		h.render(w, r, "pages/roles/list.html", map[string]any{"Filters": filters, "Errors": formErrors{"general": rbac.Message(err)}}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/roles/list.html", map[string]any{"Roles": roles, "Filters": filters}, http.StatusOK)
}

func (h *Handler) showCreateRoleForm(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.NewFormData(r.Context())
	if err != nil {
		h.logger.Error("load role form failed", slog.Any("error", err))
		rbac.RedirectWithFlash(w, r, "/roles", shared.FlashError, rbac.Message(err))
		return
	}
	h.renderForm(w, r, data, roleForm{}, nil, http.StatusOK)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if errs := shared.ValidateForm(form); len(errs) > 0 {
		h.rerender(w, r, 0, form, errs)
		return
	}
	role, err := h.service.CreateRole(r.Context(), rbac.RoleInput{Name: form.Name, PermissionIDs: form.PermissionIDs})
	if err != nil {
		h.writeFailure(w, r, 0, form, err)
		return
	}
	h.logger.Info("role created", slog.Int64("role_id", role.ID), slog.String("name", role.Name))
	rbac.RedirectWithFlash(w, r, "/roles", shared.FlashSuccess, "Role created successfully.")
}

func (h *Handler) showEditRoleForm(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	data, err := h.service.EditFormData(r.Context(), id)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			h.notFound(w, r)
			return
		}
		h.logger.Error("load role failed", slog.Int64("role_id", id), slog.Any("error", err))
		rbac.RedirectWithFlash(w, r, "/roles", shared.FlashError, rbac.Message(err))
		return
	}
	form := roleForm{Name: data.Role.Name, PermissionIDs: data.Role.PermissionIDs()}
	h.renderForm(w, r, data, form, nil, http.StatusOK)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if errs := shared.ValidateForm(form); len(errs) > 0 {
		h.rerender(w, r, id, form, errs)
		return
	}
	in := rbac.RoleInput{Name: form.Name}
	if r.PostForm.Has(permissionsMarker) || len(form.PermissionIDs) > 0 {
		in.PermissionIDs = form.PermissionIDs
		if in.PermissionIDs == nil {
			in.PermissionIDs = []int64{}
		}
	}
	if _, err := h.service.UpdateRole(r.Context(), id, in); err != nil {
		h.writeFailure(w, r, id, form, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/roles", shared.FlashSuccess, "Role updated successfully.")
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		if !errors.Is(err, rbac.ErrProtected) && !errors.Is(err, rbac.ErrNotFound) {
			h.logger.Error("delete role failed", slog.Int64("role_id", id), slog.Any("error", err))
		}
		rbac.RedirectWithFlash(w, r, "/roles", shared.FlashError, rbac.Message(err))
		return
	}
	rbac.RedirectWithFlash(w, r, "/roles", shared.FlashSuccess, "Role deleted successfully.")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (roleForm, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return roleForm{}, false
	}
	form := roleForm{Name: strings.TrimSpace(r.PostFormValue("name"))}
	for _, raw := range r.PostForm["permissions"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		form.PermissionIDs = append(form.PermissionIDs, id)
	}
	return form, true
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, id int64, form roleForm, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.notFound(w, r)
	case errors.Is(err, rbac.ErrProtected):
		rbac.RedirectWithFlash(w, r, "/roles", shared.FlashError, rbac.Message(err))
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, rbac.ErrDuplicateName), errors.Is(err, rbac.ErrUnknownPermission):
		h.rerender(w, r, id, form, rbac.FieldErrors(err))
	default:
		h.logger.Error("save role failed", slog.Any("error", err))
		h.rerender(w, r, id, form, rbac.FieldErrors(err))
	}
}

// rerender shows the form again with the submitted values after a failed save.
func (h *Handler) rerender(w http.ResponseWriter, r *http.Request, id int64, form roleForm, errs formErrors) {
	data, err := h.service.NewFormData(r.Context())
	if err != nil {
		h.logger.Error("load role form failed", slog.Any("error", err))
		rbac.RedirectWithFlash(w, r, "/roles", shared.FlashError, rbac.Message(err))
		return
	}
	data.Role.ID = id
	status := http.StatusUnprocessableEntity
	if _, ok := errs["general"]; ok {
		status = http.StatusInternalServerError
	}
	h.renderForm(w, r, data, form, errs, status)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, data FormData, form roleForm, errs formErrors, status int) {
	action := "/roles"
	if data.Role.ID > 0 {
		action = "/roles/" + strconv.FormatInt(data.Role.ID, 10)
	}
	if errs == nil {
		errs = formErrors{}
	}
	h.render(w, r, "pages/roles/form.html", map[string]any{
		"Form":        form,
		"Errors":      errs,
		"Role":        data.Role,
		"Permissions": data.Permissions,
		"Action":      action,
		"Protected":   data.Role.Protected(),
	}, status)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/not-found.html", nil, http.StatusNotFound)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	if err := h.templates.Render(w, status, template, rbac.PageData(r, h.csrf, "Roles", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
