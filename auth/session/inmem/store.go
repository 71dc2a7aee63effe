// Package inmem provides an in-memory implementation of session.Store.
//
// It is the default backend for single-process deployments and tests.
// Clustered deployments should use the Redis implementation
// (auth/session/redis) so sessions survive restarts and are shared across
// replicas.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenecahq/ceneca/auth/session"
)

// Store is an in-memory implementation of session.Store.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]session.Session)}
}

// Put implements session.Store. The ttl hint is ignored; expiry is enforced
// by the manager and DeleteExpired.
func (s *Store) Put(_ context.Context, sess session.Session, _ time.Duration) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, id string) (session.Session, error) {
	if id == "" {
		return session.Session{}, errors.New("session id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return cloneSession(sess), nil
}

// Delete implements session.Store.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// ActiveCount implements session.Store.
func (s *Store) ActiveCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// DeleteExpired implements session.Store.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if !sess.Valid(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Health implements session.Store.
func (s *Store) Health(context.Context) error { return nil }

// Kind implements session.Store.
func (s *Store) Kind() string { return "memory" }

func cloneSession(in session.Session) session.Session {
	out := in
	out.Groups = append([]string(nil), in.Groups...)
	out.Roles = append([]string(nil), in.Roles...)
	return out
}
