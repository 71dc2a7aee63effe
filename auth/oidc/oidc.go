// Package oidc implements the OpenID Connect authorization-code flow with
// PKCE and hands successful logins to the session manager.
//
// Each login is an explicit flow: Login generates the PKCE material and
// authorization URL, Callback exchanges the code, validates the ID token,
// provisions identity, and creates a session. Flow failures are *FlowError
// values tagged with the phase that failed; no partial session is ever
// created.
//
// Contract:
//   - state is single-use: a second callback with the same state fails with
//     a callback error.
//   - code_challenge = base64url(sha256(code_verifier)), method S256.
//   - ID tokens are checked for exp, nbf, iss, and aud before any identity
//     claim is read.
//   - userinfo is best-effort; a userinfo failure never aborts the flow.
package oidc

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenecahq/ceneca/auth/session"
	"github.com/cenecahq/ceneca/config"
	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Handler drives OIDC login flows against a single provider.
	Handler struct {
		cfg      config.OIDC
		sessions *session.Manager
		logger   telemetry.Logger
		client   *http.Client
		now      func() time.Time

		mu      sync.Mutex
		pending map[string]pendingFlow
		disco   *Discovery
	}

	// Option configures a Handler.
	Option func(*Handler)

	// Login is the result of starting a flow: the URL to send the browser
	// to and the state the callback must echo.
	Login struct {
		AuthorizationURL string `json:"authorization_url"`
		State            string `json:"state"`
	}

	// FlowError reports a failed login flow, tagged with the phase that
	// failed. Callers map Kind to the auth_error redirect parameter.
	FlowError struct {
		Kind   FlowErrorKind
		Detail string
		Err    error
	}

	// FlowErrorKind identifies the flow phase that failed.
	FlowErrorKind string

	// pendingFlow is the server-side half of an in-flight login.
	pendingFlow struct {
		verifier string
		nonce    string
		started  time.Time
	}
)

const (
	// KindCallback covers invalid, expired, or replayed state.
	KindCallback FlowErrorKind = "callback"
	// KindTokenExchange covers token-endpoint failures.
	KindTokenExchange FlowErrorKind = "token_exchange"
	// KindTokenValidation covers malformed or invalid ID tokens.
	KindTokenValidation FlowErrorKind = "token_validation"
	// KindIdentity covers missing required identity claims.
	KindIdentity FlowErrorKind = "identity"
)

// pendingTTL bounds how long a login may sit between Login and Callback.
const pendingTTL = 10 * time.Minute

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("oidc %s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *FlowError) Unwrap() error { return e.Err }

func flowErr(kind FlowErrorKind, detail string, err error) *FlowError {
	return &FlowError{Kind: kind, Detail: detail, Err: err}
}

// WithLogger configures the handler logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		if client != nil {
			h.client = client
		}
	}
}

// WithClock overrides the handler clock; tests use this to control token
// validation.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New builds a Handler for the configured provider.
func New(cfg config.OIDC, sessions *session.Manager, opts ...Option) (*Handler, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oidc client credentials are required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("oidc redirect uri is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		logger:   telemetry.NewNoopLogger(),
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
		pending:  make(map[string]pendingFlow),
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h, nil
}

// PendingCount returns the number of in-flight login flows.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
