package httpapi_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/auth/gate"
	"github.com/cenecahq/ceneca/auth/httpapi"
	"github.com/cenecahq/ceneca/auth/oidc"
	"github.com/cenecahq/ceneca/auth/session"
	"github.com/cenecahq/ceneca/auth/session/inmem"
	"github.com/cenecahq/ceneca/config"
)

type fixture struct {
	router   chi.Router
	sessions *session.Manager
	idp      *httptest.Server
}

// newFixture wires a fake identity provider, session manager, gate, and the
// auth routes into a router, mirroring the production wiring.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	var idpURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 idpURL,
			"authorization_endpoint": idpURL + "/authorize",
			"token_endpoint":         idpURL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		seg := func(v any) string {
			data, _ := json.Marshal(v)
			return base64.RawURLEncoding.EncodeToString(data)
		}
		idToken := seg(map[string]string{"alg": "RS256"}) + "." + seg(map[string]any{
			"sub":   "u1",
			"email": "a@b",
			"name":  "Ada",
			"iss":   idpURL,
			"aud":   "ceneca-client",
			"exp":   time.Now().Add(time.Hour).Unix(),
		}) + "." + seg("sig")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	})
	idp := httptest.NewServer(mux)
	t.Cleanup(idp.Close)
	idpURL = idp.URL

	mgr, err := session.NewManager(inmem.New(), time.Hour, nil)
	require.NoError(t, err)

	handler, err := oidc.New(config.OIDC{
		Provider:      "okta",
		ClientID:      "ceneca-client",
		ClientSecret:  "secret",
		Issuer:        idp.URL,
		RedirectURI:   "https://app.example.com/auth/callback",
		ClaimsMapping: config.ClaimsMapping{Email: "email", Name: "name", Groups: "groups"},
	}, mgr, oidc.WithHTTPClient(idp.Client()))
	require.NoError(t, err)

	svc, err := httpapi.New(httpapi.Options{
		OIDC:           handler,
		Sessions:       mgr,
		Gate:           gate.New(mgr, true, "/auth/login"),
		FrontendURL:    "https://app.example.com",
		SSOEnabled:     true,
		Provider:       "okta",
		SessionTimeout: time.Hour,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	svc.Mount(r)
	return &fixture{router: r, sessions: mgr, idp: idp}
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func TestLoginRoundTrip(t *testing.T) {
	f := newFixture(t)

	// Start the flow.
	w := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var start struct {
		AuthorizationURL string `json:"authorization_url"`
		State            string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &start))
	require.NotEmpty(t, start.State)
	require.Contains(t, start.AuthorizationURL, "code_challenge=")

	// Complete it.
	w = f.do(httptest.NewRequest(http.MethodGet, "/auth/callback?code=C&state="+url.QueryEscape(start.State), nil))
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	require.Equal(t, "ceneca_session", c.Name)
	require.NotEmpty(t, c.Value)
	require.True(t, c.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Equal(t, "/", c.Path)
	require.Equal(t, 3600, c.MaxAge)
	require.False(t, c.Secure)

	// The cookie now authenticates /auth/user.
	r := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	r.AddCookie(c)
	w = f.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	var user session.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	require.Equal(t, "u1", user.UserID)
	require.Equal(t, "a@b", user.Email)
	require.Equal(t, []string{"user"}, user.Roles)
}

func TestCallbackReplay(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	var start struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &start))

	target := "/auth/callback?code=C&state=" + url.QueryEscape(start.State)
	w = f.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, w.Code)

	// Replaying the same state redirects with auth_error and creates no
	// second session.
	w = f.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "auth_error=callback")

	n, err := f.sessions.CountActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCallbackProviderError(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&error_description=nope", nil))
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "auth_error=callback")
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	id, err := f.sessions.Create(context.Background(), "u1", "a@b", "Ada", nil, nil, "okta")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(&http.Cookie{Name: "ceneca_session", Value: id})
	w := f.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Empty(t, cookies[0].Value)
	require.Negative(t, cookies[0].MaxAge)

	s, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/auth/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var h httpapi.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	require.Equal(t, "healthy", h.Status)
	require.True(t, h.SSOEnabled)
	require.Equal(t, "okta", h.Provider)
	require.Equal(t, "enterprise", h.Mode)
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.sessions.Create(ctx, "u1", "a@b", "Ada", nil, nil, "okta")
	require.NoError(t, err)
	adminID, err := f.sessions.Create(ctx, "u2", "c@d", "Grace", nil, []string{"admin"}, "okta")
	require.NoError(t, err)

	// Non-admin is forbidden.
	r := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+userID)
	w := f.do(r)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Admin sees the counts.
	r = httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	r.Header.Set("Authorization", "Bearer "+adminID)
	w = f.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"active_sessions":2`)

	r = httptest.NewRequest(http.MethodPost, "/auth/sessions/cleanup", nil)
	r.Header.Set("Authorization", "Bearer "+adminID)
	w = f.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"cleaned":0`)
}
