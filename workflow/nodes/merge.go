package nodes

import (
	"context"
	"fmt"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/scheduler"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

// Merge recombines the results of parallel execution siblings into the final
// result. Rows follow plan order so the merged result is deterministic
// regardless of sibling completion order.
type Merge struct{}

// NewMerge builds the merge node.
func NewMerge() *Merge { return &Merge{} }

// Name implements Node.
func (m *Merge) Name() string { return "merge" }

// Run implements Node.
func (m *Merge) Run(_ context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	if s.Plan == nil {
		return nil, "", newError(m.Name(), fmt.Errorf("no plan to merge"))
	}

	var (
		rows                = make(adapter.Rows, 0)
		completed, executed int
	)
	for _, op := range s.Plan.Operations {
		res, ok := s.OperationResults[op.ID]
		if !ok {
			continue
		}
		switch res.Status {
		case scheduler.StatusCompleted:
			completed++
			executed++
			rows = append(rows, res.Rows...)
		case scheduler.StatusFailed:
			executed++
		}
	}
	rate := 1.0
	if executed > 0 {
		rate = float64(completed) / float64(executed)
	}
	final := &state.FinalResult{
		Rows:    rows,
		SQL:     primaryQuery(s.Plan.Operations),
		Success: len(rows) > 0 && rate >= successRateFloor,
	}
	return func(s *state.State) {
		s.FinalResult = final
		if s.Metrics == nil {
			s.Metrics = make(map[string]float64)
		}
		s.Metrics["tool_success_rate"] = rate
	}, fmt.Sprintf("merged %d rows from %d operations", len(rows), completed), nil
}
