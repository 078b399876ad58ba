package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rolekeeper/rolekeeper/internal/shared"
	"github.com/rolekeeper/rolekeeper/internal/view"
)

// PermissionsHandler manages the permission registry pages.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapManagePermissions))
		r.Get("/", h.listPermissions)
		r.Get("/new", h.showCreateForm)
		r.Post("/", h.createPermission)
		r.Get("/{id}/edit", h.showEditForm)
		r.Post("/{id}", h.updatePermission)
		r.Post("/{id}/delete", h.deletePermission)
	})
}

type permissionForm struct {
	Name string `form:"name" validate:"required,max=255"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions failed", slog.Any("error", err))
		h.render(w, r, "pages/permissions/list.html", map[string]any{"Errors": map[string]string{"general": Message(err)}}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/permissions/list.html", map[string]any{"Permissions": perms}, http.StatusOK)
}

func (h *PermissionsHandler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, permissionForm{}, nil, 0, http.StatusOK)
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := permissionForm{Name: strings.TrimSpace(r.PostFormValue("name"))}
	if errs := shared.ValidateForm(form); len(errs) > 0 {
		h.renderForm(w, r, form, errs, 0, http.StatusUnprocessableEntity)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), form.Name)
	if err != nil {
		h.writeFailure(w, r, form, 0, err)
		return
	}
	h.logger.Info("permission created", slog.Int64("permission_id", perm.ID), slog.String("name", perm.Name))
	RedirectWithFlash(w, r, "/permissions", shared.FlashSuccess, "Permission created successfully.")
}

func (h *PermissionsHandler) showEditForm(w http.ResponseWriter, r *http.Request) {
	id, ok := URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.notFound(w, r)
			return
		}
		h.logger.Error("get permission failed", slog.Any("error", err))
		RedirectWithFlash(w, r, "/permissions", shared.FlashError, Message(err))
		return
	}
	h.renderForm(w, r, permissionForm{Name: perm.Name}, nil, perm.ID, http.StatusOK)
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := permissionForm{Name: strings.TrimSpace(r.PostFormValue("name"))}
	if errs := shared.ValidateForm(form); len(errs) > 0 {
		h.renderForm(w, r, form, errs, id, http.StatusUnprocessableEntity)
		return
	}
	if _, err := h.service.RenamePermission(r.Context(), id, form.Name); err != nil {
		h.writeFailure(w, r, form, id, err)
		return
	}
	RedirectWithFlash(w, r, "/permissions", shared.FlashSuccess, "Permission updated successfully.")
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := URLParamID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Error("delete permission failed", slog.Int64("permission_id", id), slog.Any("error", err))
		}
		RedirectWithFlash(w, r, "/permissions", shared.FlashError, Message(err))
		return
	}
	RedirectWithFlash(w, r, "/permissions", shared.FlashSuccess, "Permission deleted successfully.")
}

func (h *PermissionsHandler) writeFailure(w http.ResponseWriter, r *http.Request, form permissionForm, id int64, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.notFound(w, r)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDuplicateName):
		h.renderForm(w, r, form, FieldErrors(err), id, http.StatusUnprocessableEntity)
	default:
		h.logger.Error("save permission failed", slog.Any("error", err))
		h.renderForm(w, r, form, FieldErrors(err), id, http.StatusInternalServerError)
	}
}

func (h *PermissionsHandler) renderForm(w http.ResponseWriter, r *http.Request, form permissionForm, errs map[string]string, id int64, status int) {
	action := "/permissions"
	if id > 0 {
		action = "/permissions/" + strconv.FormatInt(id, 10)
	}
	if errs == nil {
		errs = map[string]string{}
	}
	h.render(w, r, "pages/permissions/form.html", map[string]any{
		"Form":   form,
		"Errors": errs,
		"ID":     id,
		"Action": action,
	}, status)
}

func (h *PermissionsHandler) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/not-found.html", nil, http.StatusNotFound)
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	if err := h.templates.Render(w, status, template, PageData(r, h.csrf, "Permissions", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// PageData assembles the values every page needs: CSRF token, the pending
// flash and the signed in viewer.
func PageData(r *http.Request, csrf *shared.CSRFManager, title string, data any) view.TemplateData {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	csrfToken, _ := csrf.EnsureToken(ctx, sess)
	td := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if g := GrantsFromContext(ctx); g != nil {
		td.Viewer = g
		td.ViewerName = g.Name
	}
	return td
}

// URLParamID parses a positive int64 route parameter.
func URLParamID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// RedirectWithFlash queues a flash and answers 303 to location.
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	shared.AddFlash(r.Context(), kind, message)
	http.Redirect(w, r, location, http.StatusSeeOther)
}
