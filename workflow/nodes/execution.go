package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/scheduler"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Execution runs the plan through the scheduler and folds the outcome
	// into the state. When an output integrator is configured every plan,
	// operation result, and raw row set is captured to the session's
	// aggregator as it happens.
	Execution struct {
		scheduler *scheduler.Scheduler
		outputs   *output.Integrator
		logger    telemetry.Logger

		// partition/partitions select a slice of the plan's independent
		// components when the graph splits execution into parallel siblings.
		// partitions == 0 means the node runs the whole plan.
		partition  int
		partitions int
	}

	// ExecutionOption configures an Execution node.
	ExecutionOption func(*Execution)
)

// successRateFloor is the minimum tool success rate for a successful run.
const successRateFloor = 0.5

// WithExecutionOutputs enables output capture through the integrator.
func WithExecutionOutputs(outputs *output.Integrator) ExecutionOption {
	return func(e *Execution) { e.outputs = outputs }
}

// WithExecutionLogger configures the execution node logger.
func WithExecutionLogger(logger telemetry.Logger) ExecutionOption {
	return func(e *Execution) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecution builds the execution node over the scheduler.
func NewExecution(sched *scheduler.Scheduler, opts ...ExecutionOption) (*Execution, error) {
	if sched == nil {
		return nil, fmt.Errorf("nodes: execution requires a scheduler")
	}
	e := &Execution{scheduler: sched, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e, nil
}

// Name implements Node.
func (e *Execution) Name() string {
	if e.partitions > 1 {
		return fmt.Sprintf("execution-%d", e.partition+1)
	}
	return "execution"
}

// Partition returns a sibling execution node that runs only the index-th of
// total slices of the plan's independent components. Siblings share the
// scheduler and output integrator; a merge node recombines their results.
func (e *Execution) Partition(index, total int) *Execution {
	sibling := *e
	sibling.partition = index
	sibling.partitions = total
	return &sibling
}

// Run implements Node. An empty plan completes immediately without rows and
// without success.
func (e *Execution) Run(ctx context.Context, s *state.State, emit stream.Emitter) (state.Patch, string, error) {
	if s.Plan == nil || len(s.Plan.Operations) == 0 {
		final := &state.FinalResult{Rows: adapter.Rows{}, Success: false}
		return func(s *state.State) { s.FinalResult = final }, "no operations to execute", nil
	}

	target := s.Plan
	if e.partitions > 1 {
		target = e.slice(s.Plan)
		if len(target.Operations) == 0 {
			return nil, "no operations in partition", nil
		}
	}

	agg := e.aggregator(ctx, s.SessionID)
	if agg != nil && e.partition == 0 {
		if _, err := agg.CaptureExecutionPlan(*s.Plan, e.Name()); err != nil {
			e.logger.Warn(ctx, "capture execution plan", "session_id", s.SessionID, "err", err)
		}
	}

	out, err := e.scheduler.Execute(ctx, target, scheduler.ExecOptions{
		SessionID:    s.SessionID,
		Emit:         emit,
		PerOpTimeout: s.Timeouts.PerOperation,
		OnResult: func(res state.OperationResult) {
			if agg == nil {
				return
			}
			e.capture(ctx, agg, res)
		},
	})
	if err != nil {
		return nil, "", newError(e.Name(), err)
	}

	executed := out.Completed + out.Failed
	rate := 1.0
	if executed > 0 {
		rate = float64(out.Completed) / float64(executed)
	}
	final := &state.FinalResult{
		Rows:    out.Rows,
		SQL:     primaryQuery(target.Operations),
		Success: len(out.Rows) > 0 && rate >= successRateFloor,
	}
	tools := toolHistory(out.Results)

	return func(s *state.State) {
		if s.OperationResults == nil {
			s.OperationResults = make(map[string]state.OperationResult, len(out.Results))
		}
		for id, res := range out.Results {
			s.OperationResults[id] = res
		}
		s.ToolHistory = append(s.ToolHistory, tools...)
		if e.partitions <= 1 {
			// Parallel siblings leave the final result to the merge node.
			s.FinalResult = final
		}
		if s.Metrics == nil {
			s.Metrics = make(map[string]float64)
		}
		s.Metrics["execution_batches"] = float64(out.Batches)
		s.Metrics["operations_completed"] = float64(out.Completed)
		s.Metrics["operations_failed"] = float64(out.Failed)
		s.Metrics["operations_skipped"] = float64(out.Skipped)
		s.Metrics["tool_success_rate"] = rate
	}, fmt.Sprintf("%d rows from %d operations", len(out.Rows), out.Completed), nil
}

// slice filters the plan to this sibling's share of independent components.
// Dependencies never cross components, so the sub-plan stays valid.
func (e *Execution) slice(p *plan.Plan) *plan.Plan {
	sub := &plan.Plan{Strategy: p.Strategy}
	for i, comp := range p.Components() {
		if i%e.partitions == e.partition {
			sub.Operations = append(sub.Operations, comp...)
		}
	}
	return sub
}

func (e *Execution) aggregator(ctx context.Context, sessionID string) *output.Aggregator {
	if e.outputs == nil {
		return nil
	}
	agg, err := e.outputs.GetOrCreate(sessionID, nil)
	if err != nil {
		e.logger.Warn(ctx, "open output aggregator", "session_id", sessionID, "err", err)
		return nil
	}
	return agg
}

// capture records one operation outcome. Capture failures are logged, never
// surfaced: output capture must not fail the run.
func (e *Execution) capture(ctx context.Context, agg *output.Aggregator, res state.OperationResult) {
	_, err := agg.CaptureToolExecution(output.ToolExecCapture{
		Tool:        "query:" + res.SourceKind,
		OperationID: res.OperationID,
		Success:     res.Status == scheduler.StatusCompleted,
		DurationMs:  res.DurationMs,
		RowCount:    len(res.Rows),
		Error:       res.Error,
	}, e.Name())
	if err != nil {
		e.logger.Warn(ctx, "capture tool execution", "operation_id", res.OperationID, "err", err)
	}
	if res.Status == scheduler.StatusCompleted && len(res.Rows) > 0 {
		if _, err := agg.CaptureRawData(res.SourceKind, res.OperationID, res.Rows, e.Name()); err != nil {
			e.logger.Warn(ctx, "capture raw data", "operation_id", res.OperationID, "err", err)
		}
	}
}

// toolHistory renders scheduler results as tool executions in operation ID
// order.
func toolHistory(results map[string]state.OperationResult) []state.ToolExecution {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tools := make([]state.ToolExecution, 0, len(ids))
	for _, id := range ids {
		res := results[id]
		tools = append(tools, state.ToolExecution{
			Tool:       "query:" + res.SourceKind,
			Success:    res.Status == scheduler.StatusCompleted,
			DurationMs: res.DurationMs,
			Detail:     res.Status,
		})
	}
	return tools
}

// primaryQuery returns the first SQL-looking query in the plan, used as the
// result's echo query.
func primaryQuery(ops []plan.Operation) string {
	for _, op := range ops {
		if q, ok := op.Params["query"].(string); ok && looksLikeSQL(q) {
			return q
		}
	}
	return ""
}

func looksLikeSQL(q string) bool {
	for _, prefix := range []string{"SELECT ", "select ", "WITH ", "with "} {
		if len(q) > len(prefix) && q[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
