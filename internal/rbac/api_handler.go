package rbac

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rolekeeper/rolekeeper/internal/platform/httpx"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

// APIHandler exposes the signed in principal's grants as JSON so client
// code can hide controls with the same rules the server enforces.
type APIHandler struct {
	service *Service
	rbac    Middleware
}

// NewAPIHandler builds an APIHandler. Guards answer problem documents
// instead of redirects.
func NewAPIHandler(service *Service, mw Middleware) *APIHandler {
	return &APIHandler{service: service, rbac: mw.ForAPI()}
}

// MountRoutes registers the JSON endpoints.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/me", h.me)
		r.Get("/authorize", h.authorize)
		r.With(h.rbac.RequireAny(shared.CapViewUsers)).Get("/principals/{id}/grants", h.principalGrants)
	})
}

type authorizeResponse struct {
	Capability string `json:"capability"`
	OwnerID    int64  `json:"owner_id,omitempty"`
	Decision
}

func (h *APIHandler) me(w http.ResponseWriter, r *http.Request) {
	writeGrants(w, *GrantsFromContext(r.Context()))
}

func (h *APIHandler) principalGrants(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	grants, err := h.service.Grants(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, HTTPStatus(err), Message(err))
		return
	}
	writeGrants(w, *grants)
}

func writeGrants(w http.ResponseWriter, grants Grants) {
	if grants.Roles == nil {
		grants.Roles = []string{}
	}
	if grants.Permissions == nil {
		grants.Permissions = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capability := strings.TrimSpace(q.Get("capability"))
	if capability == "" {
		httpx.RespondError(w, http.StatusBadRequest, "capability is required")
		return
	}
	resp := authorizeResponse{Capability: capability}
	var resource Resource
	if raw := strings.TrimSpace(q.Get("owner_id")); raw != "" {
		owner, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || owner <= 0 {
			httpx.RespondError(w, http.StatusBadRequest, "owner_id must be a positive integer")
			return
		}
		resp.OwnerID = owner
		resource = OwnedBy(owner)
	}
	resp.Decision = h.service.Decide(GrantsFromContext(r.Context()), capability, resource)
	httpx.JSON(w, http.StatusOK, resp)
}
