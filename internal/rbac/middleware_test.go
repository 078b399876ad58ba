package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolekeeper/rolekeeper/internal/platform/httpx"
	"github.com/rolekeeper/rolekeeper/internal/shared"
)

func sessionRequest(t *testing.T, method, target string, principalID int64) (*http.Request, *shared.Session) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	req := httptest.NewRequest(method, target, nil)
	sess, err := sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if principalID > 0 {
		sess.SetPrincipal(principalID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequireAnyRedirectsAnonymousToLogin(t *testing.T) {
	f := newFixture(t)
	mw := Middleware{Service: f.svc}
	req, sess := sessionRequest(t, http.MethodGet, "/roles?page=2", 0)

	res := httptest.NewRecorder()
	mw.RequireAny("MANAGE_ROLES")(okHandler).ServeHTTP(res, req)

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, LoginPath, res.Header().Get("Location"))
	assert.Equal(t, "/roles?page=2", sess.Get(ReturnToSessionKey))
}

func TestRequireAnyRedirectsDeniedToUnauthorized(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "nobody@example.com")
	mw := Middleware{Service: f.svc}
	req, _ := sessionRequest(t, http.MethodGet, "/roles", p.ID)

	res := httptest.NewRecorder()
	mw.RequireAny("MANAGE_ROLES")(okHandler).ServeHTTP(res, req)

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, UnauthorizedPath, res.Header().Get("Location"))
}

func TestRequireAnyAllowsGrantedAndSuperUser(t *testing.T) {
	f := newFixture(t)
	manage := f.permission(t, "MANAGE_ROLES")
	admin := f.role(t, "role_admin", manage)
	super := f.role(t, SuperAdminRole)
	grantee := f.principal(t, "grantee@example.com", admin)
	root := f.principal(t, "root@example.com", super)
	mw := Middleware{Service: f.svc}

	for _, id := range []int64{grantee.ID, root.ID} {
		req, _ := sessionRequest(t, http.MethodGet, "/roles", id)
		res := httptest.NewRecorder()
		mw.RequireAny("EDIT_USER", "MANAGE_ROLES")(okHandler).ServeHTTP(res, req)
		assert.Equal(t, http.StatusNoContent, res.Code)
	}
}

func TestRequireAllNeedsEveryCapability(t *testing.T) {
	f := newFixture(t)
	edit := f.permission(t, "EDIT_USER")
	f.permission(t, "DELETE_USER")
	writer := f.role(t, "writer", edit)
	p := f.principal(t, "w@example.com", writer)
	mw := Middleware{Service: f.svc}

	req, _ := sessionRequest(t, http.MethodGet, "/users", p.ID)
	res := httptest.NewRecorder()
	mw.RequireAll("EDIT_USER", "DELETE_USER")(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusSeeOther, res.Code)

	req, _ = sessionRequest(t, http.MethodGet, "/users", p.ID)
	res = httptest.NewRecorder()
	mw.RequireAll("EDIT_USER")(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusNoContent, res.Code)
}

func TestRequireAppliesOwnerRule(t *testing.T) {
	f := newFixture(t)
	bob := f.principal(t, "bob@example.com")
	mw := Middleware{Service: f.svc}
	resolve := func(r *http.Request) Resource { return OwnedBy(bob.ID) }

	req, _ := sessionRequest(t, http.MethodGet, "/users/1/edit", bob.ID)
	res := httptest.NewRecorder()
	mw.Require("EDIT_USER", resolve)(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusNoContent, res.Code)

	req, _ = sessionRequest(t, http.MethodGet, "/users/1/edit", bob.ID)
	res = httptest.NewRecorder()
	mw.Require("EDIT_USER", nil)(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusSeeOther, res.Code)
}

func TestDeletedPrincipalIsSignedOut(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "gone@example.com")
	require.NoError(t, f.store.DeletePrincipal(f.ctx, p.ID))
	mw := Middleware{Service: f.svc}

	req, sess := sessionRequest(t, http.MethodGet, "/", p.ID)
	res := httptest.NewRecorder()
	mw.RequireAuthenticated(okHandler).ServeHTTP(res, req)

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, LoginPath, res.Header().Get("Location"))
	_, ok := sess.PrincipalID()
	assert.False(t, ok)
}

func TestAPIMiddlewareAnswersProblems(t *testing.T) {
	f := newFixture(t)
	p := f.principal(t, "nobody@example.com")
	mw := Middleware{Service: f.svc}.ForAPI()

	req, _ := sessionRequest(t, http.MethodGet, "/api/me", 0)
	res := httptest.NewRecorder()
	mw.RequireAuthenticated(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	req, _ = sessionRequest(t, http.MethodGet, "/api/roles", p.ID)
	res = httptest.NewRecorder()
	mw.RequireAny("MANAGE_ROLES")(okHandler).ServeHTTP(res, req)
	assert.Equal(t, http.StatusForbidden, res.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&problem))
	assert.Equal(t, http.StatusForbidden, problem.Status)
}

func TestLoadGrantsPassesAnonymous(t *testing.T) {
	f := newFixture(t)
	mw := Middleware{Service: f.svc}
	req, _ := sessionRequest(t, http.MethodGet, "/unauthorized", 0)

	var seen *Grants
	res := httptest.NewRecorder()
	mw.LoadGrants(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GrantsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, seen)
}
