package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/state"
)

func twoChainPlan() *plan.Plan {
	return &plan.Plan{Strategy: plan.StrategyParallel, Operations: []plan.Operation{
		{ID: "a", SourceKind: "relational", SourceID: "pg", Params: map[string]any{"query": "SELECT a"}},
		{ID: "b", SourceKind: "relational", SourceID: "pg", Params: map[string]any{"query": "SELECT b"}},
	}}
}

func TestPartitionedSiblingsCoverThePlan(t *testing.T) {
	node := newExecution(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})

	s := &state.State{SessionID: "s1", Timeouts: state.DefaultTimeouts(), Plan: twoChainPlan()}
	for i := 0; i < 2; i++ {
		sibling := node.Partition(i, 2)
		require.Equal(t, []string{"execution-1", "execution-2"}[i], sibling.Name())
		s, _ = runNode(t, sibling, s)
	}

	// Each sibling ran exactly one component; the merge recombines them.
	require.Len(t, s.OperationResults, 2)
	require.Nil(t, s.FinalResult)

	s, preview := runNode(t, nodes.NewMerge(), s)
	require.NotNil(t, s.FinalResult)
	require.True(t, s.FinalResult.Success)
	require.Equal(t, adapter.Rows{{"query": "SELECT a"}, {"query": "SELECT b"}}, s.FinalResult.Rows)
	require.Contains(t, preview, "merged 2 rows")
}

func TestMergeCountsFailures(t *testing.T) {
	s := &state.State{
		SessionID: "s1",
		Plan:      twoChainPlan(),
		OperationResults: map[string]state.OperationResult{
			"a": {OperationID: "a", Status: "completed", Rows: adapter.Rows{{"n": 1}}},
			"b": {OperationID: "b", Status: "failed", Error: "bad query"},
		},
	}
	s, _ = runNode(t, nodes.NewMerge(), s)
	// Half the tools succeeded and rows exist, which meets the success bar.
	require.True(t, s.FinalResult.Success)
	require.Equal(t, 0.5, s.Metrics["tool_success_rate"])
	require.Len(t, s.FinalResult.Rows, 1)
}

func TestMergeWithoutPlanFails(t *testing.T) {
	_, _, err := nodes.NewMerge().Run(context.Background(), &state.State{SessionID: "s1"}, nil)
	var nerr *nodes.Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "merge", nerr.Node)
}
