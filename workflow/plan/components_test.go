package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/workflow/plan"
)

func TestComponentsSplitsIndependentChains(t *testing.T) {
	p := &plan.Plan{Operations: []plan.Operation{
		op("a1"),
		op("b1"),
		op("a2", "a1"),
		op("b2", "b1"),
		op("c1"),
	}}
	comps := p.Components()
	require.Len(t, comps, 3)

	ids := func(ops []plan.Operation) []string {
		out := make([]string, len(ops))
		for i, o := range ops {
			out[i] = o.ID
		}
		return out
	}
	require.Equal(t, []string{"a1", "a2"}, ids(comps[0]))
	require.Equal(t, []string{"b1", "b2"}, ids(comps[1]))
	require.Equal(t, []string{"c1"}, ids(comps[2]))
}

func TestComponentsSingleConnectedGraph(t *testing.T) {
	p := &plan.Plan{Operations: []plan.Operation{
		op("a"),
		op("b"),
		op("c", "a", "b"),
	}}
	comps := p.Components()
	require.Len(t, comps, 1)
	require.Len(t, comps[0], 3)
}

func TestComponentsEmptyPlan(t *testing.T) {
	require.Nil(t, (&plan.Plan{}).Components())
}
