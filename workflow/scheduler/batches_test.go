package scheduler_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/scheduler"
)

func TestBatchesRespectPerKindLimit(t *testing.T) {
	p := &plan.Plan{}
	for i := 0; i < 20; i++ {
		p.Operations = append(p.Operations, queryOp(fmt.Sprintf("op-%02d", i), "relational"))
	}
	batches, err := scheduler.Batches(p, scheduler.DefaultLimits())
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 8)
	require.Len(t, batches[1], 8)
	require.Len(t, batches[2], 4)
}

func TestBatchesRespectWeightCap(t *testing.T) {
	p := &plan.Plan{}
	for i := 0; i < 6; i++ {
		p.Operations = append(p.Operations, plan.Operation{
			ID:         fmt.Sprintf("heavy-%d", i),
			SourceKind: "document",
			SourceID:   "mongo-main",
			Complexity: plan.ComplexityComplexAnalytics,
		})
	}
	limits := scheduler.DefaultLimits()
	batches, err := scheduler.Batches(p, limits)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, batch := range batches {
		weight := 0
		for _, op := range batch {
			weight += op.Weight()
		}
		require.LessOrEqual(t, weight, limits.WeightCap)
	}
}

func TestBatchesForceProgressPastWeightCap(t *testing.T) {
	limits := scheduler.DefaultLimits()
	limits.WeightCap = 3
	p := &plan.Plan{Operations: []plan.Operation{
		{ID: "huge", SourceKind: "vector", SourceID: "qdrant", Complexity: plan.ComplexityComplexAnalytics},
	}}
	batches, err := scheduler.Batches(p, limits)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, "huge", batches[0][0].ID)
}

func TestBatchesHonorDependencies(t *testing.T) {
	p := &plan.Plan{Operations: []plan.Operation{
		queryOp("a", "relational"),
		queryOp("b", "relational"),
		queryOp("c", "relational", "a", "b"),
		queryOp("d", "relational", "c"),
	}}
	batches, err := scheduler.Batches(p, scheduler.DefaultLimits())
	require.NoError(t, err)
	require.Len(t, batches, 3)

	position := make(map[string]int)
	for i, batch := range batches {
		for _, op := range batch {
			position[op.ID] = i
		}
	}
	require.Less(t, position["a"], position["c"])
	require.Less(t, position["b"], position["c"])
	require.Less(t, position["c"], position["d"])
}

func TestBatchesRespectGlobalCap(t *testing.T) {
	// Three kinds with per-kind limits summing past the global cap.
	p := &plan.Plan{}
	for i := 0; i < 8; i++ {
		p.Operations = append(p.Operations, queryOp(fmt.Sprintf("rel-%d", i), "relational"))
	}
	for i := 0; i < 6; i++ {
		p.Operations = append(p.Operations, queryOp(fmt.Sprintf("doc-%d", i), "document"))
	}
	for i := 0; i < 4; i++ {
		p.Operations = append(p.Operations, queryOp(fmt.Sprintf("vec-%d", i), "vector"))
	}
	limits := scheduler.DefaultLimits()
	limits.WeightCap = 100
	batches, err := scheduler.Batches(p, limits)
	require.NoError(t, err)
	for _, batch := range batches {
		require.LessOrEqual(t, len(batch), limits.Global)
	}
	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	require.Equal(t, 18, total)
}

func TestBatchesDeterministic(t *testing.T) {
	p := &plan.Plan{Operations: []plan.Operation{
		queryOp("v1", "vector"),
		queryOp("r1", "relational"),
		queryOp("d1", "document"),
	}}
	first, err := scheduler.Batches(p, scheduler.DefaultLimits())
	require.NoError(t, err)
	second, err := scheduler.Batches(p, scheduler.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, first, second)
	// Kinds are visited in sorted order within a batch.
	require.Equal(t, []string{"d1", "r1", "v1"}, []string{
		first[0][0].ID, first[0][1].ID, first[0][2].ID,
	})
}
