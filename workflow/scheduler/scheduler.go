// Package scheduler turns a validated operation DAG into executed results
// while honoring per-source concurrency limits, per-batch weight caps, and a
// global parallelism cap.
//
// Execution proceeds in dependency-ordered batches. Within a batch all
// operations run concurrently; each acquires the global semaphore and its
// source kind's semaphore before touching a driver. A failed operation never
// aborts its batch; operations depending on a definitively failed operation
// are skipped and reported as skipped_due_to_dependency.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Limits bounds scheduler concurrency. Per-kind limits cap simultaneous
	// operations against one source class; Global caps the whole process and
	// overrides per-kind sums; WeightCap bounds the summed complexity weight
	// of a single batch.
	Limits struct {
		PerKind   map[string]int
		Default   int
		Global    int
		WeightCap int
	}

	// Scheduler executes operation DAGs. Its semaphores are process-wide:
	// concurrent workflows share the same per-kind budgets. Safe for
	// concurrent use.
	Scheduler struct {
		registry *adapter.Registry
		limits   Limits
		retry    adapter.RetryPolicy
		logger   telemetry.Logger
		metrics  telemetry.Metrics

		mu     sync.Mutex
		sems   map[string]*semaphore.Weighted
		global *semaphore.Weighted
	}

	// Option configures a Scheduler.
	Option func(*Scheduler)

	// ExecOptions tunes one Execute call.
	ExecOptions struct {
		// SessionID stamps emitted events.
		SessionID string
		// Emit receives operation events when non-nil.
		Emit stream.Emitter
		// PerOpTimeout bounds each operation. Zero means no per-op bound
		// beyond the caller's context.
		PerOpTimeout time.Duration
		// OnResult observes each result as it lands (state updates,
		// aggregator captures). Called from worker goroutines.
		OnResult func(state.OperationResult)
	}

	// Outcome is the aggregated result of one Execute call.
	Outcome struct {
		// Results indexes per-operation results by operation ID.
		Results map[string]state.OperationResult
		// Rows concatenates completed operations' rows in plan order, so
		// aggregation is deterministic given the result set.
		Rows adapter.Rows
		// Batches counts the dependency batches that were executed.
		Batches int
		// Completed, Failed, and Skipped count operations by outcome.
		Completed, Failed, Skipped int
	}
)

// Operation result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped_due_to_dependency"
)

// DefaultLimits returns the scheduler's stock limits.
func DefaultLimits() Limits {
	return Limits{
		PerKind: map[string]int{
			"relational": 8,
			"document":   6,
			"vector":     4,
			"chat-log":   2,
			"e-commerce": 3,
		},
		Default:   4,
		Global:    16,
		WeightCap: 20,
	}
}

// limit returns the per-kind concurrency limit.
func (l Limits) limit(kind string) int {
	if n, ok := l.PerKind[kind]; ok && n > 0 {
		return n
	}
	if l.Default > 0 {
		return l.Default
	}
	return 4
}

// WithLimits overrides the scheduler limits.
func WithLimits(limits Limits) Option {
	return func(s *Scheduler) {
		if limits.Global > 0 {
			s.limits = limits
		}
	}
}

// WithRetryPolicy overrides the retry policy for retryable driver failures.
func WithRetryPolicy(policy adapter.RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = policy }
}

// WithLogger configures the scheduler logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics configures the scheduler metrics sink.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(s *Scheduler) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// New builds a Scheduler over the adapter registry.
func New(registry *adapter.Registry, opts ...Option) (*Scheduler, error) {
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	s := &Scheduler{
		registry: registry,
		limits:   DefaultLimits(),
		retry:    adapter.DefaultRetryPolicy(),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		sems:     make(map[string]*semaphore.Weighted),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.global = semaphore.NewWeighted(int64(s.limits.Global))
	return s, nil
}

// Execute validates the plan, batches it, and runs every operation. A plan
// validation failure returns before any adapter call. Operation failures do
// not fail Execute; they are reported in the Outcome. Execute returns an
// error only for plan failures and context cancellation.
func (s *Scheduler) Execute(ctx context.Context, p *plan.Plan, opts ExecOptions) (*Outcome, error) {
	if err := p.Validate(s.registry.Kinds()); err != nil {
		return nil, err
	}
	batches, err := Batches(p, s.limits)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Results: make(map[string]state.OperationResult, len(p.Operations))}
	var outMu sync.Mutex

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, op := range batch {
			op := op
			outMu.Lock()
			skip, reason := s.dependencyFailed(op, out.Results)
			outMu.Unlock()
			if skip {
				res := state.OperationResult{
					OperationID: op.ID,
					SourceKind:  op.SourceKind,
					Status:      StatusSkipped,
					Error:       reason,
				}
				outMu.Lock()
				out.Results[op.ID] = res
				out.Skipped++
				outMu.Unlock()
				s.report(opts, res)
				continue
			}
			g.Go(func() error {
				res := s.runOne(gctx, op, opts)
				outMu.Lock()
				out.Results[op.ID] = res
				if res.Status == StatusCompleted {
					out.Completed++
				} else {
					out.Failed++
				}
				outMu.Unlock()
				s.report(opts, res)
				return nil
			})
		}
		out.Batches++
		if err := g.Wait(); err != nil {
			return out, err
		}
	}

	// Deterministic aggregation: rows in plan order, completed ops only.
	for _, op := range p.Operations {
		if res, ok := out.Results[op.ID]; ok && res.Status == StatusCompleted {
			out.Rows = append(out.Rows, res.Rows...)
		}
	}
	return out, nil
}

// dependencyFailed reports whether any of op's dependencies failed or were
// skipped, making op unrunnable.
func (s *Scheduler) dependencyFailed(op plan.Operation, results map[string]state.OperationResult) (bool, string) {
	for _, dep := range op.DependsOn {
		if res, ok := results[dep]; ok && res.Status != StatusCompleted {
			return true, fmt.Sprintf("dependency %s %s", dep, res.Status)
		}
	}
	return false, ""
}

// runOne executes one operation: semaphore acquisition, adapter dispatch
// with retries, and result construction.
func (s *Scheduler) runOne(ctx context.Context, op plan.Operation, opts ExecOptions) state.OperationResult {
	res := state.OperationResult{OperationID: op.ID, SourceKind: op.SourceKind}

	if err := s.global.Acquire(ctx, 1); err != nil {
		return s.fail(res, err, false)
	}
	defer s.global.Release(1)
	sem := s.kindSem(op.SourceKind)
	if err := sem.Acquire(ctx, 1); err != nil {
		return s.fail(res, err, false)
	}
	defer sem.Release(1)

	a, ok := s.registry.Lookup(op.SourceKind)
	if !ok {
		// Validate checks kinds up front; a miss here means the registry
		// changed mid-flight.
		return s.fail(res, fmt.Errorf("no adapter for kind %q", op.SourceKind), false)
	}

	if opts.PerOpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.PerOpTimeout)
		defer cancel()
	}

	start := time.Now()
	attempts := 0
	rows, err := adapter.WithRetry(ctx, s.retry, func(ctx context.Context) (adapter.Rows, error) {
		attempts++
		return dispatch(ctx, a, op, opts.PerOpTimeout)
	})
	res.DurationMs = time.Since(start).Milliseconds()
	res.Attempts = attempts
	s.metrics.RecordTimer("scheduler.operation", time.Since(start), "kind", op.SourceKind)
	if err != nil {
		return s.fail(res, err, adapter.Retryable(err))
	}
	res.Status = StatusCompleted
	res.Rows = rows
	return res
}

// fail finalizes a result as failed.
func (s *Scheduler) fail(res state.OperationResult, err error, retryable bool) state.OperationResult {
	res.Status = StatusFailed
	res.Error = err.Error()
	res.Retryable = retryable
	return res
}

// report emits the operation's stream event and invokes the result observer.
func (s *Scheduler) report(opts ExecOptions, res state.OperationResult) {
	if opts.Emit != nil {
		switch res.Status {
		case StatusCompleted:
			opts.Emit(stream.NewOperationComplete(opts.SessionID, stream.OperationCompletePayload{
				OperationID: res.OperationID,
				SourceKind:  res.SourceKind,
				Rows:        len(res.Rows),
				DurationMs:  res.DurationMs,
			}))
		default:
			opts.Emit(stream.NewOperationError(opts.SessionID, stream.OperationErrorPayload{
				OperationID: res.OperationID,
				SourceKind:  res.SourceKind,
				Status:      res.Status,
				Error:       res.Error,
			}))
		}
	}
	if opts.OnResult != nil {
		opts.OnResult(res)
	}
}

// kindSem returns the process-wide semaphore for a source kind.
func (s *Scheduler) kindSem(kind string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sem, ok := s.sems[kind]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(int64(s.limits.limit(kind)))
	s.sems[kind] = sem
	return sem
}

// dispatch routes the operation to the right adapter call based on its
// params. Operations carry a driver-native "query"; "sample_n" switches to
// sampling, "summary_table" to statistics.
func dispatch(ctx context.Context, a adapter.Adapter, op plan.Operation, timeout time.Duration) (adapter.Rows, error) {
	if table, ok := op.Params["summary_table"].(string); ok && table != "" {
		stats, err := a.RunSummary(ctx, table, stringSlice(op.Params["columns"]))
		if err != nil {
			return nil, err
		}
		return statsRows(table, stats), nil
	}
	query, _ := op.Params["query"].(string)
	if query == "" {
		return nil, adapter.NewError(adapter.ErrBadRequest, fmt.Sprintf("operation %s carries no query", op.ID), nil)
	}
	if n, ok := intParam(op.Params["sample_n"]); ok && n > 0 {
		method := adapter.SampleMethod("first")
		if m, ok := op.Params["sample_method"].(string); ok && m != "" {
			method = adapter.SampleMethod(m)
		}
		return a.SampleData(ctx, query, n, method)
	}
	return a.RunTargeted(ctx, query, timeout)
}

// statsRows flattens summary statistics into the uniform row shape.
func statsRows(table string, stats adapter.Statistics) adapter.Rows {
	cols := make([]string, 0, len(stats))
	for col := range stats {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	rows := make(adapter.Rows, 0, len(cols))
	for _, col := range cols {
		row := map[string]any{"table": table, "column": col}
		for k, v := range stats[col] {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intParam(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
