package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/scheduler"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

func newExecution(t *testing.T, kinds map[string]adapter.Adapter, opts ...nodes.ExecutionOption) *nodes.Execution {
	t.Helper()
	reg := adapter.NewRegistry()
	for kind, a := range kinds {
		require.NoError(t, reg.Register(kind, a))
	}
	sched, err := scheduler.New(reg)
	require.NoError(t, err)
	node, err := nodes.NewExecution(sched, opts...)
	require.NoError(t, err)
	return node
}

func TestExecutionEmptyPlan(t *testing.T) {
	node := newExecution(t, nil)

	s, preview := runNode(t, node, &state.State{SessionID: "s1", Plan: &plan.Plan{}})
	require.NotNil(t, s.FinalResult)
	require.False(t, s.FinalResult.Success)
	require.Empty(t, s.FinalResult.Rows)
	require.Equal(t, "no operations to execute", preview)
}

func TestExecutionFoldsOutcomeIntoState(t *testing.T) {
	node := newExecution(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})

	s := &state.State{
		SessionID: "s1",
		Timeouts:  state.DefaultTimeouts(),
		Plan: &plan.Plan{Strategy: plan.StrategySimple, Operations: []plan.Operation{
			{ID: "q1", SourceKind: "relational", SourceID: "pg-main",
				Params: map[string]any{"query": "SELECT region FROM orders"}},
		}},
	}
	s, preview := runNode(t, node, s)

	require.Equal(t, "completed", s.OperationResults["q1"].Status)
	require.True(t, s.FinalResult.Success)
	require.Equal(t, adapter.Rows{{"query": "SELECT region FROM orders"}}, s.FinalResult.Rows)
	require.Equal(t, "SELECT region FROM orders", s.FinalResult.SQL)

	require.Len(t, s.ToolHistory, 1)
	require.Equal(t, "query:relational", s.ToolHistory[0].Tool)
	require.True(t, s.ToolHistory[0].Success)

	require.Equal(t, 1.0, s.Metrics["tool_success_rate"])
	require.Equal(t, 1.0, s.Metrics["operations_completed"])
	require.Contains(t, preview, "1 rows from 1 operations")
}

func TestExecutionFailedRunIsNotSuccessful(t *testing.T) {
	failing := &stubAdapter{run: func(string) (adapter.Rows, error) {
		return nil, adapter.NewError(adapter.ErrBadRequest, "bad query", nil)
	}}
	node := newExecution(t, map[string]adapter.Adapter{"relational": failing})

	s := &state.State{
		SessionID: "s1",
		Timeouts:  state.DefaultTimeouts(),
		Plan: &plan.Plan{Operations: []plan.Operation{
			{ID: "q1", SourceKind: "relational", SourceID: "pg-main",
				Params: map[string]any{"query": "SELECT nope"}},
		}},
	}
	s, _ = runNode(t, node, s)

	require.Equal(t, "failed", s.OperationResults["q1"].Status)
	require.False(t, s.FinalResult.Success)
	require.Empty(t, s.FinalResult.Rows)
	require.Equal(t, 0.0, s.Metrics["tool_success_rate"])
	require.False(t, s.ToolHistory[0].Success)
}

func TestExecutionCyclePlanFailsNode(t *testing.T) {
	node := newExecution(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})

	s := &state.State{
		SessionID: "s1",
		Plan: &plan.Plan{Operations: []plan.Operation{
			{ID: "a", SourceKind: "relational", SourceID: "pg", Params: map[string]any{"query": "SELECT 1"}, DependsOn: []string{"b"}},
			{ID: "b", SourceKind: "relational", SourceID: "pg", Params: map[string]any{"query": "SELECT 2"}, DependsOn: []string{"a"}},
		}},
	}
	_, _, err := node.Run(context.Background(), s, func(stream.Event) {})
	var nerr *nodes.Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "execution", nerr.Node)
	var perr *plan.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, plan.ErrCycle, perr.Code)
}

func TestExecutionCapturesOutputs(t *testing.T) {
	outputs := output.NewIntegrator(t.TempDir())
	node := newExecution(t, map[string]adapter.Adapter{"relational": &stubAdapter{}},
		nodes.WithExecutionOutputs(outputs))

	s := &state.State{
		SessionID: "sess-cap",
		Timeouts:  state.DefaultTimeouts(),
		Plan: &plan.Plan{Strategy: plan.StrategySimple, Operations: []plan.Operation{
			{ID: "q1", SourceKind: "relational", SourceID: "pg-main",
				Params: map[string]any{"query": "SELECT 1"}},
		}},
	}
	_, _ = runNode(t, node, s)

	agg, ok := outputs.Get("sess-cap")
	require.True(t, ok)
	result := agg.CreateUnifiedResult()
	require.NotNil(t, result.PlanInfo)
	require.Len(t, result.OperationResults, 1)
	require.Equal(t, "q1", result.OperationResults[0].OperationID)
	require.Len(t, result.Rows, 1)
}
