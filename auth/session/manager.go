package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Manager enforces the session lifecycle contract over a Store.
	Manager struct {
		store  Store
		ttl    time.Duration
		roles  map[string]string
		logger telemetry.Logger
		now    func() time.Time
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)
)

// storeTTLSlack is added to the backend TTL hint so records outlive the
// logical expiry and the manager can observe (and delete) expired sessions.
const storeTTLSlack = 5 * time.Minute

// WithLogger configures the manager logger. When nil, the manager uses a
// noop logger.
func WithLogger(logger telemetry.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the manager clock; tests use this to control expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager with the given backing store, session TTL, and
// group-to-role mapping.
func NewManager(store Store, ttl time.Duration, roleMappings map[string]string, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	m := &Manager{
		store:  store,
		ttl:    ttl,
		roles:  roleMappings,
		logger: telemetry.NewNoopLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m, nil
}

// Create stores a new session and returns its ID. When roles is empty, roles
// are derived from groups via the configured mapping, defaulting to
// DefaultRole when nothing matches.
func (m *Manager) Create(ctx context.Context, userID, email, displayName string, groups, roles []string, provider string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if len(roles) == 0 {
		roles = m.DeriveRoles(groups)
	}
	now := m.now().UTC()
	s := Session{
		ID:           NewID(),
		UserID:       userID,
		Email:        email,
		DisplayName:  displayName,
		Groups:       append([]string(nil), groups...),
		Roles:        roles,
		Provider:     provider,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, s, m.ttl+storeTTLSlack); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	m.logger.Info(ctx, "session created", "user_id", userID, "provider", provider, "roles", fmt.Sprint(roles))
	return s.ID, nil
}

// Get returns the session for id, or nil when it is missing or expired.
// Expired sessions are deleted on sight; valid sessions get their
// last_accessed refreshed and are re-persisted.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := m.now().UTC()
	if !s.Valid(now) {
		if _, err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn(ctx, "delete expired session failed", "session_id", id, "err", err)
		}
		return nil, nil
	}
	s.LastAccessed = now
	if err := m.store.Put(ctx, s, m.ttl+storeTTLSlack); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &s, nil
}

// Delete removes a session, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(ctx, id)
}

// Extend pushes the session expiry out by extra (defaulting to the
// configured TTL) from now. Returns false when the session is missing or
// already expired.
func (m *Manager) Extend(ctx context.Context, id string, extra time.Duration) (bool, error) {
	if extra <= 0 {
		extra = m.ttl
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	now := m.now().UTC()
	if !s.Valid(now) {
		return false, nil
	}
	s.ExpiresAt = now.Add(extra)
	if err := m.store.Put(ctx, s, extra+storeTTLSlack); err != nil {
		return false, fmt.Errorf("persist session: %w", err)
	}
	return true, nil
}

// CountActive returns the number of stored sessions.
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	return m.store.ActiveCount(ctx)
}

// CleanupExpired removes expired sessions and returns how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info(ctx, "expired sessions cleaned", "count", n)
	}
	return n, nil
}

// Health reports manager and backend health.
func (m *Manager) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "healthy", Storage: m.store.Kind()}
	if err := m.store.Health(ctx); err != nil {
		report.Status = "error"
		report.Error = err.Error()
		return report
	}
	if n, err := m.store.ActiveCount(ctx); err == nil {
		report.ActiveSessions = n
	}
	return report
}

// DeriveRoles maps identity-provider groups to application roles via the
// configured mapping. The result is sorted and deduplicated; DefaultRole is
// returned when nothing matches.
func (m *Manager) DeriveRoles(groups []string) []string {
	seen := make(map[string]struct{})
	for _, g := range groups {
		if role, ok := m.roles[g]; ok {
			seen[role] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []string{DefaultRole}
	}
	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
