// Package httpapi exposes the authentication endpoints over HTTP.
//
// Routes (mounted under /auth):
//
//	POST /auth/login            start an OIDC login flow
//	GET  /auth/callback         complete the flow, set the session cookie
//	GET  /auth/user             current session data
//	POST /auth/logout           delete the session, clear the cookie
//	GET  /auth/health           auth subsystem health
//	GET  /auth/sessions         active session count (admin)
//	POST /auth/sessions/cleanup sweep expired sessions (admin)
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cenecahq/ceneca/auth/gate"
	"github.com/cenecahq/ceneca/auth/oidc"
	"github.com/cenecahq/ceneca/auth/session"
	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Service wires the OIDC handler, session manager, and gate into HTTP
	// handlers.
	Service struct {
		oidc        *oidc.Handler
		sessions    *session.Manager
		gate        *gate.Gate
		frontendURL string
		ssoEnabled  bool
		provider    string
		timeout     time.Duration
		production  bool
		logger      telemetry.Logger
	}

	// Options configures a Service.
	Options struct {
		// OIDC drives login flows. Nil when SSO is disabled.
		OIDC *oidc.Handler
		// Sessions manages session records.
		Sessions *session.Manager
		// Gate authenticates requests.
		Gate *gate.Gate
		// FrontendURL is the UI base URL for post-login redirects.
		FrontendURL string
		// SSOEnabled mirrors the sso.enabled configuration flag.
		SSOEnabled bool
		// Provider names the configured identity provider.
		Provider string
		// SessionTimeout sets the cookie Max-Age.
		SessionTimeout time.Duration
		// Production toggles Secure cookies.
		Production bool
		// Logger is optional.
		Logger telemetry.Logger
	}

	// Health is the /auth/health response.
	Health struct {
		Status         string                `json:"status"`
		SSOEnabled     bool                  `json:"sso_enabled"`
		Provider       string                `json:"provider"`
		SessionManager session.HealthReport  `json:"session_manager"`
		OIDCHandler    string                `json:"oidc_handler"`
		Mode           string                `json:"mode"`
	}
)

// New builds the auth HTTP service.
func New(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("auth gate is required")
	}
	if opts.SessionTimeout <= 0 {
		return nil, errors.New("session timeout must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{
		oidc:        opts.OIDC,
		sessions:    opts.Sessions,
		gate:        opts.Gate,
		frontendURL: opts.FrontendURL,
		ssoEnabled:  opts.SSOEnabled,
		provider:    opts.Provider,
		timeout:     opts.SessionTimeout,
		production:  opts.Production,
		logger:      logger,
	}, nil
}

// Mount registers the auth routes on the given router.
func (s *Service) Mount(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/callback", s.handleCallback)
		r.Get("/user", s.handleUser)
		r.Post("/logout", s.handleLogout)
		r.Get("/health", s.handleHealth)
		r.Get("/sessions", s.handleSessions)
		r.Post("/sessions/cleanup", s.handleCleanup)
	})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.ssoEnabled || s.oidc == nil {
		gate.WriteError(w, &gate.AuthError{Status: http.StatusServiceUnavailable, Detail: "sso is not enabled"})
		return
	}
	login, err := s.oidc.StartLogin(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "login start failed", "err", err)
		gate.WriteError(w, &gate.AuthError{Status: http.StatusServiceUnavailable, Detail: "identity provider unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": login.AuthorizationURL,
		"state":             login.State,
		"message":           "redirect the browser to authorization_url",
	})
}

func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.logger.Warn(r.Context(), "provider returned error", "error", e, "description", q.Get("error_description"))
		s.redirectError(w, r, oidc.KindCallback)
		return
	}
	if s.oidc == nil {
		s.redirectError(w, r, oidc.KindCallback)
		return
	}
	id, err := s.oidc.Callback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		kind := oidc.KindCallback
		var fe *oidc.FlowError
		if errors.As(err, &fe) {
			kind = fe.Kind
		}
		s.logger.Warn(r.Context(), "login callback failed", "kind", string(kind), "err", err)
		s.redirectError(w, r, kind)
		return
	}
	http.SetCookie(w, s.sessionCookie(id, int(s.timeout.Seconds())))
	http.Redirect(w, r, s.frontendURL, http.StatusFound)
}

func (s *Service) handleUser(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gate.Authenticate(r)
	if err != nil {
		gate.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := gate.ExtractSessionID(r); id != "" {
		if _, err := s.sessions.Delete(r.Context(), id); err != nil {
			s.logger.Warn(r.Context(), "logout delete failed", "err", err)
		}
	}
	http.SetCookie(w, s.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.sessions.Health(r.Context())
	h := Health{
		Status:         report.Status,
		SSOEnabled:     s.ssoEnabled,
		Provider:       s.provider,
		SessionManager: report,
		OIDCHandler:    "ready",
		Mode:           "enterprise",
	}
	if s.oidc == nil {
		h.OIDCHandler = "not configured"
		if s.ssoEnabled {
			h.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gate.Authenticate(r)
	if err != nil {
		gate.WriteError(w, err)
		return
	}
	if err := gate.RequireAdmin(sess); err != nil {
		gate.WriteError(w, err)
		return
	}
	count, err := s.sessions.CountActive(r.Context())
	if err != nil {
		gate.WriteError(w, err)
		return
	}
	report := s.sessions.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": count,
		"storage":         report.Storage,
	})
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gate.Authenticate(r)
	if err != nil {
		gate.WriteError(w, err)
		return
	}
	if err := gate.RequireAdmin(sess); err != nil {
		gate.WriteError(w, err)
		return
	}
	n, err := s.sessions.CleanupExpired(r.Context())
	if err != nil {
		gate.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": n})
}

func (s *Service) redirectError(w http.ResponseWriter, r *http.Request, kind oidc.FlowErrorKind) {
	target := s.frontendURL
	u, err := url.Parse(target)
	if err != nil {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	q := u.Query()
	q.Set("auth_error", string(kind))
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (s *Service) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     gate.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.production,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
