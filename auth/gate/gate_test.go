package gate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/auth/gate"
	"github.com/cenecahq/ceneca/auth/session"
	"github.com/cenecahq/ceneca/auth/session/inmem"
)

func newGate(t *testing.T) (*gate.Gate, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager(inmem.New(), time.Hour, map[string]string{"admins": "admin"})
	require.NoError(t, err)
	return gate.New(mgr, true, "/auth/login"), mgr
}

func login(t *testing.T, mgr *session.Manager, groups ...string) string {
	t.Helper()
	id, err := mgr.Create(context.Background(), "u1", "a@b", "Ada", groups, nil, "okta")
	require.NoError(t, err)
	return id
}

func TestPublicRoutes(t *testing.T) {
	public := []string{
		"/health", "/auth/login", "/auth/callback", "/auth/health",
		"/docs", "/openapi.json", "/favicon.ico",
		"/auth/anything", "/static/app.js", "/assets/logo.png",
	}
	for _, p := range public {
		require.True(t, gate.IsPublic(p), p)
	}
	private := []string{"/", "/query", "/healthz", "/authx", "/api/auth/login"}
	for _, p := range private {
		require.False(t, gate.IsPublic(p), p)
	}
}

func TestExtractSessionID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/query", nil)
	require.Empty(t, gate.ExtractSessionID(r))

	r.Header.Set("Authorization", "Bearer tok-1")
	require.Equal(t, "tok-1", gate.ExtractSessionID(r))

	// Cookie wins over bearer.
	r.AddCookie(&http.Cookie{Name: gate.CookieName, Value: "cookie-1"})
	require.Equal(t, "cookie-1", gate.ExtractSessionID(r))
}

func TestStrictModes(t *testing.T) {
	g, mgr := newGate(t)
	id := login(t, mgr)

	t.Run("valid cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/query", nil)
		r.AddCookie(&http.Cookie{Name: gate.CookieName, Value: id})
		s, err := g.Authenticate(r)
		require.NoError(t, err)
		require.Equal(t, "u1", s.UserID)
	})

	t.Run("no credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/query", nil)
		_, err := g.Authenticate(r)
		var ae *gate.AuthError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, http.StatusUnauthorized, ae.Status)
		require.Equal(t, "/auth/login", ae.LoginURL)
	})

	t.Run("stale session deleted", func(t *testing.T) {
		staleID := login(t, mgr)
		_, err := mgr.Delete(context.Background(), staleID)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/query", nil)
		r.Header.Set("Authorization", "Bearer "+staleID)
		_, err = g.Authenticate(r)
		var ae *gate.AuthError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, http.StatusUnauthorized, ae.Status)
	})

	t.Run("disabled", func(t *testing.T) {
		disabled := gate.New(mgr, false, "/auth/login")
		r := httptest.NewRequest(http.MethodGet, "/query", nil)
		_, err := disabled.Authenticate(r)
		var ae *gate.AuthError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, http.StatusServiceUnavailable, ae.Status)
	})

	t.Run("uninitialized", func(t *testing.T) {
		uninit := gate.New(nil, true, "/auth/login")
		r := httptest.NewRequest(http.MethodGet, "/query", nil)
		_, err := uninit.Authenticate(r)
		var ae *gate.AuthError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, http.StatusServiceUnavailable, ae.Status)
	})
}

func TestOptionalNeverFails(t *testing.T) {
	g, mgr := newGate(t)
	id := login(t, mgr)

	r := httptest.NewRequest(http.MethodGet, "/query", nil)
	require.Nil(t, g.AuthenticateOptional(r))

	r.AddCookie(&http.Cookie{Name: gate.CookieName, Value: id})
	s := g.AuthenticateOptional(r)
	require.NotNil(t, s)
	require.Equal(t, "u1", s.UserID)

	disabled := gate.New(mgr, false, "/auth/login")
	require.Nil(t, disabled.AuthenticateOptional(r))
}

func TestRoleChecks(t *testing.T) {
	admin := &session.Session{Roles: []string{"admin"}}
	user := &session.Session{Roles: []string{"user"}}

	require.NoError(t, gate.RequireAdmin(admin))
	require.NoError(t, gate.RequireRole(user, "user", "admin"))

	err := gate.RequireAdmin(user)
	var ae *gate.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusForbidden, ae.Status)

	err = gate.RequireAdmin(nil)
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusUnauthorized, ae.Status)
}

func TestMiddleware(t *testing.T) {
	g, mgr := newGate(t)
	id := login(t, mgr)

	var got *session.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = gate.SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := g.Middleware()(next)

	// Public route passes through without a session.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, got)

	// Private route without credentials is rejected.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "login_url")

	// Private route with a valid session reaches the handler.
	r := httptest.NewRequest(http.MethodGet, "/query", nil)
	r.AddCookie(&http.Cookie{Name: gate.CookieName, Value: id})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	require.Equal(t, "u1", got.UserID)
}
