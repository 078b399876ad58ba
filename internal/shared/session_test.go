package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false), mr
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == "test_session" {
			return c
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("k", "v")
	sess.SetPrincipal(42)
	sess.AddFlash(FlashMessage{Kind: FlashSuccess, Message: "saved"})

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, nil, sess))
	cookie := sessionCookie(t, res)
	assert.Equal(t, sess.ID, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, mr.Exists("rolekeeper:session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.Get("k"))
	id, ok := loaded.PrincipalID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "42", loaded.PrincipalKey())

	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "saved", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionLoadIgnoresUnknownCookies(t *testing.T) {
	sm, _ := newTestSessions(t)
	ctx := context.Background()

	for _, value := range []string{"not-a-uuid", "1b4e28ba-2fa1-11d2-883f-0016d3cca427"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "test_session", Value: value})
		sess, err := sm.Load(ctx, req)
		require.NoError(t, err)
		assert.NotEqual(t, value, sess.ID)
		_, ok := sess.PrincipalID()
		assert.False(t, ok)
	}
}

func TestSessionRenewDropsPreviousKey(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))
	oldID := sess.ID

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: oldID})
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)

	sm.Renew(loaded)
	loaded.SetPrincipal(7)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, loaded))

	assert.NotEqual(t, oldID, loaded.ID)
	assert.False(t, mr.Exists("rolekeeper:session:"+oldID))
	assert.True(t, mr.Exists("rolekeeper:session:"+loaded.ID))
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	sm.Destroy(sess)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, nil, sess))

	assert.Equal(t, -1, sessionCookie(t, res).MaxAge)
	assert.False(t, mr.Exists("rolekeeper:session:"+sess.ID))
}

func TestSessionTTLApplied(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	assert.Equal(t, time.Hour, mr.TTL("rolekeeper:session:"+sess.ID))
	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("rolekeeper:session:"+sess.ID))
}

func TestNilSessionHelpers(t *testing.T) {
	var sess *Session
	_, ok := sess.PrincipalID()
	assert.False(t, ok)
	assert.Nil(t, sess.PopFlash())

	_, ok = PrincipalFromContext(context.Background())
	assert.False(t, ok)
	AddFlash(context.Background(), FlashError, "ignored")
}

func TestSessionMiddlewareCommitsBeforeBody(t *testing.T) {
	sm, mr := newTestSessions(t)
	handler := sm.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddFlash(r.Context(), FlashSuccess, "hello")
		_, _ = w.Write([]byte("ok"))
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := sessionCookie(t, res)
	assert.Equal(t, "ok", res.Body.String())
	stored, err := mr.Get("rolekeeper:session:" + cookie.Value)
	require.NoError(t, err)
	assert.Contains(t, stored, "hello")
}
