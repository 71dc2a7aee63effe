package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/workflow/graph"
	"github.com/cenecahq/ceneca/workflow/state"
)

func names(g *graph.Graph) [][]string {
	out := make([][]string, len(g.Stages))
	for i, stage := range g.Stages {
		for _, spec := range stage {
			out[i] = append(out[i], spec.Name)
		}
	}
	return out
}

func TestSimpleQueryTemplate(t *testing.T) {
	b := graph.NewBuilder()
	g := b.Build("total revenue", []state.IdentifiedSource{
		{SourceID: "pg-main", Kind: "relational"},
	}, nil, graph.Requirements{})

	require.Equal(t, graph.TemplateSimpleQuery, g.Template)
	require.Equal(t, [][]string{
		{"classification"}, {"metadata"}, {"planning"}, {"execution"},
	}, names(g))
}

func TestComplexAnalysisTemplateForCrossSource(t *testing.T) {
	b := graph.NewBuilder()
	g := b.Build("join users across stores", []state.IdentifiedSource{
		{SourceID: "pg-main", Kind: "relational"},
		{SourceID: "mongo-main", Kind: "document"},
	}, nil, graph.Requirements{})

	require.Equal(t, graph.TemplateComplexAnalysis, g.Template)
	require.Equal(t, [][]string{
		{"classification"}, {"metadata"}, {"planning"}, {"execution"}, {"visualization"},
	}, names(g))
}

func TestComplexAnalysisTemplateForAnalyticQuestion(t *testing.T) {
	g := graph.NewBuilder().Build("analyze churn", []state.IdentifiedSource{
		{SourceID: "pg-main", Kind: "relational"},
	}, nil, graph.Requirements{})
	require.Equal(t, graph.TemplateComplexAnalysis, g.Template)
}

func TestParallelExecutionSplitsSiblings(t *testing.T) {
	sources := []state.IdentifiedSource{
		{SourceID: "pg-main", Kind: "relational"},
		{SourceID: "mongo-main", Kind: "document"},
		{SourceID: "qdrant-main", Kind: "vector"},
	}
	g := graph.NewBuilder().Build("revenue by region and also churn by cohort", sources, nil, graph.Requirements{})

	require.Equal(t, graph.TemplateParallelExecution, g.Template)
	require.Equal(t, [][]string{
		{"classification"}, {"metadata"}, {"planning"},
		{"execution", "execution", "execution"},
		{"merge"}, {"visualization"},
	}, names(g))

	split := g.Stages[3]
	for p, spec := range split {
		require.Equal(t, p, spec.Partition)
		require.Equal(t, 3, spec.Partitions)
	}
}

func TestSplitWidthIsCapped(t *testing.T) {
	sources := make([]state.IdentifiedSource, 6)
	for i := range sources {
		sources[i] = state.IdentifiedSource{SourceID: string(rune('a' + i)), Kind: "relational"}
	}
	g := graph.NewBuilder().Build("compare everything; then more", sources, nil, graph.Requirements{})
	require.Len(t, g.Stages[3], 4)
}

func TestTemplateOverrideAndCustomPhases(t *testing.T) {
	b := graph.NewBuilder()

	g := b.Build("total revenue", nil, map[string]any{"template": "complex_analysis"}, graph.Requirements{})
	require.Equal(t, graph.TemplateComplexAnalysis, g.Template)

	g = b.Build("total revenue", nil, map[string]any{"phases": []string{"classification", "execution"}}, graph.Requirements{})
	require.Equal(t, graph.TemplateCustom, g.Template)
	require.Equal(t, [][]string{{"classification"}, {"execution"}}, names(g))
}

func TestStreamingAttachedToEveryNode(t *testing.T) {
	g := graph.NewBuilder().Build("revenue by region and also churn", []state.IdentifiedSource{
		{SourceID: "a", Kind: "relational"}, {SourceID: "b", Kind: "document"}, {SourceID: "c", Kind: "vector"},
	}, nil, graph.Requirements{Streaming: true, LowMemory: true})

	for _, spec := range g.Nodes() {
		require.True(t, spec.Streaming, "node %s", spec.Name)
		require.Contains(t, spec.Hints, "reduce_memory", "node %s", spec.Name)
	}
}

func TestSplitInsertsMergeWhenMissing(t *testing.T) {
	g := &graph.Graph{Template: graph.TemplateCustom, Stages: []graph.Stage{
		{{Name: "planning"}}, {{Name: "execution"}}, {{Name: "visualization"}},
	}}
	graph.SplitExecution(g, 2)
	require.Equal(t, [][]string{
		{"planning"}, {"execution", "execution"}, {"merge"}, {"visualization"},
	}, names(g))
}
