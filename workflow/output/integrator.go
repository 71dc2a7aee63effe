package output

import (
	"sync"
	"time"

	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Factory builds per-session aggregators. The integrator's test seam:
	// swap it for one that returns in-memory fakes.
	Factory func(sessionID string, metadata map[string]any) (*Aggregator, error)

	// Integrator is the process-scoped registry of per-session aggregators.
	// It is injected into the orchestrator at startup; nothing reaches for a
	// global. Safe for concurrent use.
	Integrator struct {
		mu      sync.Mutex
		dir     string
		factory Factory
		logger  telemetry.Logger
		open    map[string]*Aggregator
	}

	// IntegratorOption configures an Integrator.
	IntegratorOption func(*Integrator)
)

// WithFactory overrides aggregator construction.
func WithFactory(f Factory) IntegratorOption {
	return func(i *Integrator) {
		if f != nil {
			i.factory = f
		}
	}
}

// WithIntegratorLogger configures the integrator logger.
func WithIntegratorLogger(logger telemetry.Logger) IntegratorOption {
	return func(i *Integrator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIntegrator builds an integrator writing aggregator files under dir.
func NewIntegrator(dir string, opts ...IntegratorOption) *Integrator {
	i := &Integrator{
		dir:    dir,
		logger: telemetry.NewNoopLogger(),
		open:   make(map[string]*Aggregator),
	}
	i.factory = func(sessionID string, metadata map[string]any) (*Aggregator, error) {
		return NewAggregator(sessionID, i.dir, metadata)
	}
	for _, o := range opts {
		if o != nil {
			o(i)
		}
	}
	return i
}

// GetOrCreate returns the session's aggregator, creating it on first use.
// Metadata is only applied on creation.
func (i *Integrator) GetOrCreate(sessionID string, metadata map[string]any) (*Aggregator, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if a, ok := i.open[sessionID]; ok {
		return a, nil
	}
	if metadata == nil {
		metadata = map[string]any{"created_at": time.Now().UTC().Format(time.RFC3339)}
	}
	a, err := i.factory(sessionID, metadata)
	if err != nil {
		return nil, err
	}
	i.open[sessionID] = a
	return a, nil
}

// Get returns the session's aggregator when it is open.
func (i *Integrator) Get(sessionID string) (*Aggregator, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.open[sessionID]
	return a, ok
}

// Release drops the session's aggregator from the registry, optionally
// removing its on-disk artifact. The file survives unless cleanup is
// requested so partial outputs remain inspectable after cancellation.
func (i *Integrator) Release(sessionID string, cleanup bool) error {
	i.mu.Lock()
	a, ok := i.open[sessionID]
	delete(i.open, sessionID)
	i.mu.Unlock()
	if !ok || !cleanup {
		return nil
	}
	return a.Cleanup()
}

// Open returns the number of registered aggregators.
func (i *Integrator) Open() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.open)
}
