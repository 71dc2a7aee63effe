// Package session defines server-side session records and their lifecycle.
//
// A Session is created after a successful OIDC flow and handed to clients as
// an opaque session ID (cookie or bearer token). The Manager owns TTL
// enforcement, role derivation, and last-access refresh; Store
// implementations only persist records.
//
// Contract:
//   - expires_at > created_at for every stored session.
//   - A session is valid iff now < expires_at.
//   - Get deletes expired sessions on sight and reports them as missing.
//   - Every successful Get refreshes last_accessed and re-persists.
//
// Switching the backing store (in-memory, Redis) must not change the
// observable contract.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	// Session captures an authenticated user handle.
	Session struct {
		// ID is the opaque session identifier handed to clients.
		ID string `json:"session_id"`
		// UserID is the identity-provider subject.
		UserID string `json:"user_id"`
		// Email is the user's email address.
		Email string `json:"email"`
		// DisplayName is the user's human-readable name.
		DisplayName string `json:"display_name"`
		// Groups are the identity-provider groups at login time.
		Groups []string `json:"groups"`
		// Roles are the application roles derived from Groups.
		Roles []string `json:"roles"`
		// Provider names the SSO provider that authenticated the user.
		Provider string `json:"provider"`
		// CreatedAt records session creation (UTC).
		CreatedAt time.Time `json:"created_at"`
		// LastAccessed records the most recent successful Get (UTC).
		LastAccessed time.Time `json:"last_accessed"`
		// ExpiresAt is the hard expiry; always after CreatedAt.
		ExpiresAt time.Time `json:"expires_at"`
	}

	// Store persists session records. Implementations must be safe for
	// concurrent use. Reads and writes are atomic per session ID;
	// last-writer-wins is acceptable because updates are monotonic
	// (last_accessed and expires_at only move forward).
	Store interface {
		// Put stores a session. ttl is a hint for backends with native
		// expiry (Redis); it slightly exceeds the session TTL so the
		// manager, not the backend, decides validity.
		Put(ctx context.Context, s Session, ttl time.Duration) error

		// Get retrieves a session by ID. Returns ErrNotFound when missing.
		// Expiry is NOT checked here; the Manager owns validity.
		Get(ctx context.Context, id string) (Session, error)

		// Delete removes a session, reporting whether it existed.
		Delete(ctx context.Context, id string) (bool, error)

		// ActiveCount returns the number of stored sessions.
		ActiveCount(ctx context.Context) (int, error)

		// DeleteExpired removes sessions whose expiry precedes now and
		// returns how many were removed. Backends with native expiry may
		// return zero.
		DeleteExpired(ctx context.Context, now time.Time) (int, error)

		// Health verifies the backend is reachable.
		Health(ctx context.Context) error

		// Kind names the backend ("memory", "redis") for health reports.
		Kind() string
	}

	// HealthReport summarizes session-manager health for /auth/health.
	HealthReport struct {
		Status         string `json:"status"`
		Storage        string `json:"storage"`
		ActiveSessions int    `json:"active_sessions"`
		Error          string `json:"error,omitempty"`
	}
)

// ErrNotFound indicates a session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// DefaultRole is assigned when no role mapping matches the user's groups.
const DefaultRole = "user"

// Valid reports whether the session has not expired at the given instant.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasRole reports whether the session carries any of the given roles.
func (s Session) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range s.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}
