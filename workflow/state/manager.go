package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Manager owns all in-flight workflow states and bridges graph session
	// IDs to legacy session IDs. Updates go through a single-writer protocol:
	// each state has its own lock, patches run under it, and Get returns a
	// snapshot so readers never observe a half-applied patch.
	Manager struct {
		mu      sync.RWMutex
		states  map[string]*entry
		legacy  map[string]string // legacy id -> graph id
		bridge  LegacyBridge
		logger  telemetry.Logger
		metrics telemetry.Metrics
		now     func() time.Time
	}

	// LegacyBridge mirrors workflow results into the legacy session layer.
	// Sync is invoked after every Update with sync enabled; implementations
	// decide which fields to carry over (final result, tool executions).
	LegacyBridge interface {
		Sync(legacyID string, snapshot *State) error
	}

	// ManagerOption configures a Manager.
	ManagerOption func(*Manager)

	entry struct {
		mu    sync.Mutex
		state *State
	}
)

// ErrUnknownSession is returned when neither ID flavor resolves to a state.
var ErrUnknownSession = errors.New("state: unknown session")

// WithLogger configures the manager logger. When nil, the manager uses a
// noop logger.
func WithLogger(logger telemetry.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics configures the manager metrics sink.
func WithMetrics(metrics telemetry.Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithLegacyBridge configures the legacy session mirror.
func WithLegacyBridge(bridge LegacyBridge) ManagerOption {
	return func(m *Manager) { m.bridge = bridge }
}

// WithClock overrides the manager clock; tests use this to control
// timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds an empty state manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		states:  make(map[string]*entry),
		legacy:  make(map[string]string),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		now:     time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// CreateGraphSession creates a new workflow state for the question and
// returns its graph session ID. When legacyID is non-empty, the two IDs are
// bridged bidirectionally so Get and Update accept either flavor.
func (m *Manager) CreateGraphSession(question, kind, legacyID string) (string, error) {
	id := uuid.NewString()
	now := m.now().UTC()
	s := &State{
		SessionID:        id,
		LegacySessionID:  legacyID,
		Question:         question,
		Kind:             kind,
		OperationResults: make(map[string]OperationResult),
		PartialResults:   make(map[string]any),
		Metrics:          make(map[string]float64),
		Quality:          DefaultQuality(),
		Timeouts:         DefaultTimeouts(),
		CreatedAt:        now,
		LastUpdate:       now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if legacyID != "" {
		if existing, ok := m.legacy[legacyID]; ok {
			return "", fmt.Errorf("legacy session %s already bridged to %s", legacyID, existing)
		}
		m.legacy[legacyID] = id
	}
	m.states[id] = &entry{state: s}
	m.metrics.RecordGauge("workflow.sessions.active", float64(len(m.states)))
	return id, nil
}

// Get returns a snapshot of the state for either ID flavor, or nil when the
// session is unknown. The snapshot is safe to read without synchronization;
// writes still go through Update.
func (m *Manager) Get(id string) *State {
	e := m.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Update applies the patch under the state's write lock, refreshes
// LastUpdate, and, when syncLegacy is set and the state is bridged, mirrors
// the updated snapshot into the legacy layer. Bridge failures are logged,
// not returned: the graph state is authoritative.
func (m *Manager) Update(id string, patch Patch, syncLegacy bool) error {
	e := m.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	e.mu.Lock()
	patch(e.state)
	e.state.LastUpdate = m.now().UTC()
	var snapshot *State
	legacyID := e.state.LegacySessionID
	if syncLegacy && m.bridge != nil && legacyID != "" {
		snapshot = e.state.clone()
	}
	e.mu.Unlock()

	if snapshot != nil {
		if err := m.bridge.Sync(legacyID, snapshot); err != nil {
			m.logger.Warn(context.Background(), "legacy session sync failed", "legacy_id", legacyID, "err", err)
		}
	}
	return nil
}

// AddStreamingEvent appends an event to the state's bounded stream buffer.
func (m *Manager) AddStreamingEvent(id string, event stream.Event) error {
	return m.Update(id, func(s *State) { s.appendEvent(event) }, false)
}

// AddOperationResult records a scheduler result for an operation.
func (m *Manager) AddOperationResult(id string, res OperationResult) error {
	return m.Update(id, func(s *State) {
		if s.OperationResults == nil {
			s.OperationResults = make(map[string]OperationResult)
		}
		s.OperationResults[res.OperationID] = res
	}, false)
}

// RecordError appends a failure to the state's error history.
func (m *Manager) RecordError(id, node string, err error) error {
	if err == nil {
		return nil
	}
	at := m.now().UTC()
	return m.Update(id, func(s *State) {
		s.ErrorHistory = append(s.ErrorHistory, ErrorRecord{Node: node, Message: err.Error(), At: at})
	}, false)
}

// Destroy removes the state and its legacy bridge entry. Idempotent.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	graphID := id
	if mapped, ok := m.legacy[id]; ok {
		graphID = mapped
	}
	e, ok := m.states[graphID]
	if !ok {
		return
	}
	e.mu.Lock()
	legacyID := e.state.LegacySessionID
	e.mu.Unlock()
	delete(m.states, graphID)
	if legacyID != "" {
		delete(m.legacy, legacyID)
	}
	m.metrics.RecordGauge("workflow.sessions.active", float64(len(m.states)))
}

// Active returns the number of in-flight workflow states.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// lookup resolves either ID flavor to the state entry.
func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.states[id]; ok {
		return e
	}
	if graphID, ok := m.legacy[id]; ok {
		return m.states[graphID]
	}
	return nil
}
