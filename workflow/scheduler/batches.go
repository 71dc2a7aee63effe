package scheduler

import (
	"sort"

	"github.com/cenecahq/ceneca/workflow/plan"
)

// Batches assigns the plan's operations to dependency-ordered batches.
//
// Each round collects the ready set (operations whose dependencies were all
// assigned to earlier batches), groups it by source kind, and fills the batch
// subject to three caps: per-kind concurrency, summed complexity weight, and
// the global parallelism cap. A round that would otherwise assign nothing
// force-adds one ready operation so progress is guaranteed even when a single
// operation exceeds the weight cap on its own.
//
// Operations left with unsatisfiable dependencies indicate a cycle and fail
// with a plan error. Batching is deterministic: kinds are visited in sorted
// order and operations in plan order.
func Batches(p *plan.Plan, limits Limits) ([][]plan.Operation, error) {
	remaining := append([]plan.Operation(nil), p.Operations...)
	assigned := make(map[string]bool, len(remaining))
	var batches [][]plan.Operation

	for len(remaining) > 0 {
		var ready, blocked []plan.Operation
		for _, op := range remaining {
			if depsAssigned(op, assigned) {
				ready = append(ready, op)
			} else {
				blocked = append(blocked, op)
			}
		}
		if len(ready) == 0 {
			// Validate rejects cycles before batching; reaching this means
			// the plan was mutated after validation.
			return nil, plan.NewError(plan.ErrCycle, "no ready operations remain")
		}

		batch := fillBatch(ready, limits)
		if len(batch) == 0 {
			batch = ready[:1]
		}

		for _, op := range batch {
			assigned[op.ID] = true
		}
		batches = append(batches, batch)

		remaining = blocked
		for _, op := range ready {
			if !assigned[op.ID] {
				remaining = append(remaining, op)
			}
		}
	}
	return batches, nil
}

// fillBatch packs ready operations into one batch under the limits.
func fillBatch(ready []plan.Operation, limits Limits) []plan.Operation {
	byKind := make(map[string][]plan.Operation)
	for _, op := range ready {
		byKind[op.SourceKind] = append(byKind[op.SourceKind], op)
	}
	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var (
		batch     []plan.Operation
		weight    int
		kindCount = make(map[string]int)
	)
	for _, kind := range kinds {
		limit := limits.limit(kind)
		for _, op := range byKind[kind] {
			if len(batch) >= limits.Global {
				return batch
			}
			if kindCount[kind] >= limit {
				break
			}
			if weight+op.Weight() > limits.WeightCap {
				continue
			}
			batch = append(batch, op)
			kindCount[kind]++
			weight += op.Weight()
		}
	}
	return batch
}

// depsAssigned reports whether all of op's dependencies were assigned to
// earlier batches.
func depsAssigned(op plan.Operation, assigned map[string]bool) bool {
	for _, dep := range op.DependsOn {
		if !assigned[dep] {
			return false
		}
	}
	return true
}
