// Package nodes implements the workflow phases: classification, metadata,
// planning, execution, and visualization.
//
// A node computes its result first and returns a state patch; the runner
// applies the patch only on success, so a failed node never leaves partial
// state mutations behind. Nodes are idempotent on identical inputs modulo
// clock-dependent timestamps.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Node is one workflow phase. Run receives a read-only state snapshot and
	// returns the patch to apply plus a short result preview for the
	// node_complete event.
	Node interface {
		Name() string
		Run(ctx context.Context, s *state.State, emit stream.Emitter) (state.Patch, string, error)
	}

	// Completer is the narrow completion surface model-assisted nodes need.
	// *completion.Service satisfies it.
	Completer interface {
		Complete(ctx context.Context, req completion.Request) (*completion.Response, error)
	}

	// Error wraps a node failure with the node that produced it.
	Error struct {
		Node string
		Err  error
	}

	// Runner executes nodes against managed sessions: it brackets each run
	// with node_start/node_complete events, applies the node's patch through
	// the state manager, and records step history and failures.
	Runner struct {
		states  *state.Manager
		logger  telemetry.Logger
		metrics telemetry.Metrics
		now     func() time.Time
	}

	// RunnerOption configures a Runner.
	RunnerOption func(*Runner)
)

// ErrUnknownSession is returned when the runner is asked to execute a node
// for a session the manager does not track.
var ErrUnknownSession = state.ErrUnknownSession

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s node: %v", e.Node, e.Err)
}

// Unwrap exposes the underlying failure.
func (e *Error) Unwrap() error { return e.Err }

// newError wraps err as a failure of the named node. Errors already wrapped
// for the same node pass through unchanged.
func newError(node string, err error) error {
	var ne *Error
	if errors.As(err, &ne) && ne.Node == node {
		return err
	}
	return &Error{Node: node, Err: err}
}

// WithRunnerLogger configures the runner logger.
func WithRunnerLogger(logger telemetry.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerMetrics configures the runner metrics sink.
func WithRunnerMetrics(metrics telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithRunnerClock overrides the runner clock.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a Runner bound to the state manager.
func NewRunner(states *state.Manager, opts ...RunnerOption) (*Runner, error) {
	if states == nil {
		return nil, errors.New("nodes: state manager is required")
	}
	r := &Runner{
		states:  states,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		now:     time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r, nil
}

// Run executes one node for the session. The node sees a snapshot of the
// current state; its patch is applied atomically on success. Failures are
// recorded into the session's error history and returned wrapped in *Error.
func (r *Runner) Run(ctx context.Context, sessionID string, node Node, emit stream.Emitter) error {
	s := r.states.Get(sessionID)
	if s == nil {
		return newError(node.Name(), fmt.Errorf("%w: %s", ErrUnknownSession, sessionID))
	}

	var patch state.Patch
	start := r.now()
	err := stream.RunNode(ctx, emit, sessionID, node.Name(), s.Snapshot(), func(ctx context.Context, emit stream.Emitter) (string, error) {
		p, preview, err := node.Run(ctx, s, emit)
		if err != nil {
			return "", err
		}
		patch = p
		return preview, nil
	})
	duration := r.now().Sub(start)
	r.metrics.RecordTimer("workflow.node", duration, "node", node.Name(), "ok", fmt.Sprint(err == nil))

	step := state.Step{
		Node:       node.Name(),
		Status:     "completed",
		DurationMs: duration.Milliseconds(),
		At:         r.now().UTC(),
	}
	if err != nil {
		step.Status = "failed"
		werr := newError(node.Name(), err)
		r.logger.Warn(ctx, "node failed", "node", node.Name(), "session_id", sessionID, "err", err)
		if rerr := r.states.RecordError(sessionID, node.Name(), werr); rerr != nil {
			r.logger.Error(ctx, "record node error", "session_id", sessionID, "err", rerr)
		}
		_ = r.states.Update(sessionID, func(s *state.State) { s.StepHistory = append(s.StepHistory, step) }, false)
		return werr
	}

	return r.states.Update(sessionID, func(s *state.State) {
		if patch != nil {
			patch(s)
		}
		s.StepHistory = append(s.StepHistory, step)
	}, true)
}

// CrossSource reports whether the identified sources span more than one
// source kind.
func CrossSource(sources []state.IdentifiedSource) bool {
	kinds := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		kinds[src.Kind] = struct{}{}
	}
	return len(kinds) > 1
}
