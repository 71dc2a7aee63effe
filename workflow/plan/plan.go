// Package plan defines the execution plan produced by the planning phase: a
// DAG of operations over registered data sources. Plans are validated before
// any operation is dispatched; a cycle, an unknown dependency, or an empty
// plan fails the request without touching a driver.
package plan

import (
	"fmt"
	"sort"
)

type (
	// Complexity classifies an operation's cost. The scheduler uses the
	// corresponding weight to bound per-batch load.
	Complexity string

	// Strategy names the planning approach used to build a plan.
	Strategy string

	// Operation is one unit of work dispatched by the scheduler.
	Operation struct {
		// ID uniquely identifies the operation within its plan.
		ID string `json:"id"`
		// SourceKind selects the adapter that executes the operation.
		SourceKind string `json:"source_kind"`
		// SourceID identifies the concrete data source.
		SourceID string `json:"source_id"`
		// Params carries driver-specific execution parameters. The core
		// reads the "query" key when dispatching targeted queries and
		// treats the rest as opaque.
		Params map[string]any `json:"params,omitempty"`
		// DependsOn lists operation IDs that must complete before this
		// operation runs.
		DependsOn []string `json:"depends_on,omitempty"`
		// Complexity classifies the operation's cost. Empty means
		// ComplexitySimpleSelect.
		Complexity Complexity `json:"complexity,omitempty"`
	}

	// Plan is a validated DAG of operations.
	Plan struct {
		// Strategy records how the plan was built.
		Strategy Strategy `json:"strategy"`
		// Operations holds the DAG nodes. Order is advisory; execution
		// order is determined by dependencies and batching.
		Operations []Operation `json:"operations"`
	}

	// ErrorCode classifies plan validation failures.
	ErrorCode string

	// Error is a plan validation failure. Plan errors fail the request and
	// are never retried.
	Error struct {
		Code   ErrorCode
		Detail string
	}
)

// Planning strategies.
const (
	StrategySimple        Strategy = "simple"
	StrategyParallel      Strategy = "parallel"
	StrategyCrossDatabase Strategy = "cross_database"
)

// Operation complexity classes.
const (
	ComplexitySimpleSelect     Complexity = "simple_select"
	ComplexityAggregation      Complexity = "aggregation"
	ComplexityVectorSearch     Complexity = "vector_search"
	ComplexityCrossJoin        Complexity = "cross_join"
	ComplexityComplexAnalytics Complexity = "complex_analytics"
)

// Plan validation failure codes.
const (
	ErrCycle         ErrorCode = "cycle"
	ErrUnknownSource ErrorCode = "unknown_source"
	ErrUnknownDep    ErrorCode = "unknown_dependency"
	ErrDuplicateID   ErrorCode = "duplicate_id"
	ErrEmptyPlan     ErrorCode = "empty_plan"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("plan %s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("plan %s", e.Code)
}

// NewError builds a plan validation failure.
func NewError(code ErrorCode, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Weight returns the scheduling weight of the complexity class. Unknown
// classes weigh the same as a simple select.
func (c Complexity) Weight() int {
	switch c {
	case ComplexityAggregation:
		return 2
	case ComplexityVectorSearch:
		return 3
	case ComplexityCrossJoin:
		return 4
	case ComplexityComplexAnalytics:
		return 5
	default:
		return 1
	}
}

// Weight returns the operation's scheduling weight.
func (o Operation) Weight() int { return o.Complexity.Weight() }

// Validate checks the plan's structural invariants: at least one operation,
// unique operation IDs, dependencies referencing known operations, known
// source kinds (when kinds is non-empty), and no dependency cycles.
//
// Validation runs before any adapter call so a broken plan costs nothing.
func (p *Plan) Validate(kinds []string) error {
	if len(p.Operations) == 0 {
		return NewError(ErrEmptyPlan, "plan has no operations")
	}
	known := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		known[k] = true
	}
	ids := make(map[string]bool, len(p.Operations))
	for _, op := range p.Operations {
		if ids[op.ID] {
			return NewError(ErrDuplicateID, fmt.Sprintf("operation %q declared twice", op.ID))
		}
		ids[op.ID] = true
		if len(kinds) > 0 && !known[op.SourceKind] {
			return NewError(ErrUnknownSource, fmt.Sprintf("operation %q targets unregistered kind %q", op.ID, op.SourceKind))
		}
	}
	for _, op := range p.Operations {
		for _, dep := range op.DependsOn {
			if !ids[dep] {
				return NewError(ErrUnknownDep, fmt.Sprintf("operation %q depends on unknown operation %q", op.ID, dep))
			}
		}
	}
	if cyclic := findCycle(p.Operations); len(cyclic) > 0 {
		return NewError(ErrCycle, fmt.Sprintf("operations form a cycle: %v", cyclic))
	}
	return nil
}

// Operation returns the operation with the given ID.
func (p *Plan) Operation(id string) (Operation, bool) {
	for _, op := range p.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// TotalWeight sums the weights of all operations in the plan.
func (p *Plan) TotalWeight() int {
	total := 0
	for _, op := range p.Operations {
		total += op.Weight()
	}
	return total
}

// findCycle runs Kahn's algorithm and returns the IDs left with unsatisfied
// dependencies, sorted for deterministic error messages. An empty result
// means the DAG is acyclic.
func findCycle(ops []Operation) []string {
	indegree := make(map[string]int, len(ops))
	dependents := make(map[string][]string, len(ops))
	for _, op := range ops {
		indegree[op.ID] += 0
		for _, dep := range op.DependsOn {
			indegree[op.ID]++
			dependents[dep] = append(dependents[dep], op.ID)
		}
	}
	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(ops) {
		return nil
	}
	var cyclic []string
	for id, deg := range indegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}
