// Package gate authenticates incoming HTTP requests against the session
// store.
//
// The gate runs in one of two modes. Strict mode rejects unauthenticated
// requests with typed errors that map onto HTTP statuses; optional mode
// resolves a session when one is present and silently yields nil otherwise.
// Public routes bypass the gate entirely in both modes.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenecahq/ceneca/auth/session"
	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Gate resolves sessions for incoming requests.
	Gate struct {
		sessions *session.Manager
		enabled  bool
		loginURL string
		logger   telemetry.Logger
	}

	// Option configures a Gate.
	Option func(*Gate)

	// AuthError is a typed authentication failure carrying the HTTP status
	// it maps to and, for 401s, the login URL clients should visit.
	AuthError struct {
		Status   int    `json:"-"`
		Detail   string `json:"detail"`
		LoginURL string `json:"login_url,omitempty"`
	}

	ctxKey struct{}
)

// CookieName is the session cookie set after a successful login.
const CookieName = "ceneca_session"

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %d: %s", e.Status, e.Detail)
}

// publicExact are routes served without authentication.
var publicExact = map[string]struct{}{
	"/health":        {},
	"/auth/login":    {},
	"/auth/callback": {},
	"/auth/health":   {},
	"/docs":          {},
	"/openapi.json":  {},
	"/favicon.ico":   {},
}

// publicPrefixes are route prefixes served without authentication.
var publicPrefixes = []string{"/auth/", "/static/", "/assets/"}

// WithLogger configures the gate logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New builds a Gate. sessions may be nil when authentication is not yet
// initialized; strict checks then fail with 503 until it is wired.
func New(sessions *session.Manager, enabled bool, loginURL string, opts ...Option) *Gate {
	g := &Gate{
		sessions: sessions,
		enabled:  enabled,
		loginURL: loginURL,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	return g
}

// IsPublic reports whether path is served without authentication.
func IsPublic(path string) bool {
	if _, ok := publicExact[path]; ok {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ExtractSessionID pulls the session ID from the request: the ceneca_session
// cookie first, then an Authorization bearer token.
func ExtractSessionID(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate resolves the request session in strict mode. It returns a
// *AuthError when the request must be rejected.
func (g *Gate) Authenticate(r *http.Request) (*session.Session, error) {
	if !g.enabled {
		return nil, &AuthError{Status: http.StatusServiceUnavailable, Detail: "authentication is disabled"}
	}
	if g.sessions == nil {
		return nil, &AuthError{Status: http.StatusServiceUnavailable, Detail: "authentication is not initialized"}
	}
	id := ExtractSessionID(r)
	if id == "" {
		return nil, &AuthError{Status: http.StatusUnauthorized, Detail: "authentication required", LoginURL: g.loginURL}
	}
	s, err := g.sessions.Get(r.Context(), id)
	if err != nil {
		g.logger.Error(r.Context(), "session lookup failed", "err", err)
		return nil, &AuthError{Status: http.StatusServiceUnavailable, Detail: "session store unavailable"}
	}
	if s == nil {
		// Stale cookie or token; make sure nothing lingers server-side.
		if _, err := g.sessions.Delete(r.Context(), id); err != nil {
			g.logger.Warn(r.Context(), "stale session delete failed", "err", err)
		}
		return nil, &AuthError{Status: http.StatusUnauthorized, Detail: "session expired or invalid", LoginURL: g.loginURL}
	}
	return s, nil
}

// AuthenticateOptional resolves the request session when one is present.
// It never fails: disabled auth, missing credentials, and invalid sessions
// all yield nil.
func (g *Gate) AuthenticateOptional(r *http.Request) *session.Session {
	if !g.enabled || g.sessions == nil {
		return nil
	}
	id := ExtractSessionID(r)
	if id == "" {
		return nil
	}
	s, err := g.sessions.Get(r.Context(), id)
	if err != nil {
		g.logger.Warn(r.Context(), "optional session lookup failed", "err", err)
		return nil
	}
	return s
}

// RequireRole checks that the session carries at least one of the given
// roles.
func RequireRole(s *session.Session, roles ...string) error {
	if s == nil {
		return &AuthError{Status: http.StatusUnauthorized, Detail: "authentication required"}
	}
	if !s.HasRole(roles...) {
		return &AuthError{Status: http.StatusForbidden, Detail: fmt.Sprintf("requires one of roles %v", roles)}
	}
	return nil
}

// RequireAdmin checks that the session carries the admin role.
func RequireAdmin(s *session.Session) error {
	return RequireRole(s, "admin")
}

// ContextWithSession stores the session in the context.
func ContextWithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFromContext returns the session stored by the middleware, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ctxKey{}).(*session.Session)
	return s
}

// Middleware returns an HTTP middleware enforcing strict authentication on
// non-public routes and stashing the session in the request context.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			s, err := g.Authenticate(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// WriteError writes an authentication failure as a JSON response. Non
// AuthError values map to 500.
func WriteError(w http.ResponseWriter, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		ae = &AuthError{Status: http.StatusInternalServerError, Detail: "internal error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(ae)
}
