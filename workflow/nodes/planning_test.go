package nodes_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/state"
)

func planState(question string, sources ...state.IdentifiedSource) *state.State {
	return &state.State{SessionID: "s1", Question: question, IdentifiedSources: sources}
}

func TestPlanEmptySources(t *testing.T) {
	node, err := nodes.NewPlanner(newAdapters(t, nil))
	require.NoError(t, err)

	s, preview := runNode(t, node, planState(""))
	require.NotNil(t, s.Plan)
	require.Empty(t, s.Plan.Operations)
	require.Equal(t, plan.StrategySimple, s.Plan.Strategy)
	require.Equal(t, "empty plan", preview)
}

func TestPlanCrossDatabaseStrategy(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{
		"relational": &stubAdapter{},
		"document":   &stubAdapter{},
	})
	node, err := nodes.NewPlanner(adapters)
	require.NoError(t, err)

	s, _ := runNode(t, node, planState("join users across stores",
		state.IdentifiedSource{SourceID: "pg-main", Kind: "relational"},
		state.IdentifiedSource{SourceID: "mongo-main", Kind: "document"},
	))
	require.Equal(t, plan.StrategyCrossDatabase, s.Plan.Strategy)
	require.Len(t, s.Plan.Operations, 2)
	for _, op := range s.Plan.Operations {
		require.Equal(t, plan.ComplexityCrossJoin, op.Complexity)
	}
	require.ElementsMatch(t, []string{"query:relational", "query:document"}, s.SelectedTools)
}

func TestPlanParallelStrategyForDecomposableQuestion(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})
	node, err := nodes.NewPlanner(adapters)
	require.NoError(t, err)

	s, _ := runNode(t, node, planState("revenue by region and also churn by cohort",
		state.IdentifiedSource{SourceID: "pg-main", Kind: "relational"},
	))
	require.Equal(t, plan.StrategyParallel, s.Plan.Strategy)
}

func TestPlanSimpleAddsKeyTablePreStep(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})
	node, err := nodes.NewPlanner(adapters)
	require.NoError(t, err)

	s := planState("total revenue",
		state.IdentifiedSource{SourceID: "pg-main", Kind: "relational"},
	)
	s.Metadata = &state.MetadataBundle{Databases: map[string]state.DatabaseMetadata{
		"relational": {Status: "ok", KeyTables: []string{"orders", "users"}},
	}}
	s, _ = runNode(t, node, s)

	require.Equal(t, plan.StrategySimple, s.Plan.Strategy)
	require.Len(t, s.Plan.Operations, 2)

	pre := s.Plan.Operations[0]
	require.Equal(t, "summary-pg-main", pre.ID)
	require.Equal(t, "orders", pre.Params["summary_table"])

	main := s.Plan.Operations[1]
	require.Equal(t, "op-pg-main", main.ID)
	require.Equal(t, []string{pre.ID}, main.DependsOn)
	require.Equal(t, "SELECT * FROM orders LIMIT 100", main.Params["query"])
}

func TestPlanNonRelationalFallbackUsesQuestion(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{"vector": &stubAdapter{}})
	node, err := nodes.NewPlanner(adapters)
	require.NoError(t, err)

	s, _ := runNode(t, node, planState("find similar tickets",
		state.IdentifiedSource{SourceID: "qdrant-main", Kind: "vector"},
	))
	require.Len(t, s.Plan.Operations, 1)
	require.Equal(t, "find similar tickets", s.Plan.Operations[0].Params["query"])
}

func TestPlanByModel(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})
	completer := &fakeCompleter{text: `{
		"strategy": "simple",
		"operations": [
			{"id": "q1", "source_kind": "relational", "source_id": "pg-main",
			 "query": "SELECT region, SUM(total) FROM orders GROUP BY region",
			 "depends_on": [], "complexity": "aggregation"}
		]
	}`}
	node, err := nodes.NewPlanner(adapters, nodes.WithPlannerCompleter(completer))
	require.NoError(t, err)

	s, _ := runNode(t, node, planState("revenue by region",
		state.IdentifiedSource{SourceID: "pg-main", Kind: "relational"},
	))
	require.Len(t, s.Plan.Operations, 1)
	require.Equal(t, "q1", s.Plan.Operations[0].ID)
	require.Equal(t, plan.ComplexityAggregation, s.Plan.Operations[0].Complexity)
}

func TestPlanInvalidModelOutputFallsBack(t *testing.T) {
	adapters := newAdapters(t, map[string]adapter.Adapter{"relational": &stubAdapter{}})
	// Unknown source kind makes the model plan invalid.
	completer := &fakeCompleter{text: `{
		"strategy": "simple",
		"operations": [{"id": "q1", "source_kind": "graph", "source_id": "neo", "query": "MATCH (n)"}]
	}`}
	node, err := nodes.NewPlanner(adapters, nodes.WithPlannerCompleter(completer))
	require.NoError(t, err)

	s, _ := runNode(t, node, planState("count the users table",
		state.IdentifiedSource{SourceID: "pg-main", Kind: "relational"},
	))
	require.Len(t, s.Plan.Operations, 1)
	require.Equal(t, "op-pg-main", s.Plan.Operations[0].ID)
}
