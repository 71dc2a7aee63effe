// Package orchestrator is the workflow entry point. It decides how each
// question is executed — the legacy traditional path, the full graph
// workflow, or a hybrid of the two — runs the chosen route, and keeps
// per-route performance samples that inform future routing.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/graph"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/router"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Route is an execution path for a question.
	Route string

	// Level grades the parallelization opportunity of a question.
	Level string

	// Decision is the routing outcome for one question.
	Decision struct {
		// Route is the chosen execution path.
		Route Route `json:"route"`
		// Complexity is the estimated query complexity in [1,10].
		Complexity int `json:"complexity"`
		// CrossSource reports whether the question spans source kinds.
		CrossSource bool `json:"cross_source"`
		// Parallelization grades the parallelism opportunity.
		Parallelization Level `json:"parallelization"`
		// Confidence scores the decision in [0,1].
		Confidence float64 `json:"confidence"`
		// Reasoning explains the decision.
		Reasoning string `json:"reasoning"`
	}

	// LegacyDelegate is the pre-graph planning and execution pair the
	// traditional route preserves. Hybrid runs use only its planner.
	LegacyDelegate interface {
		// Plan builds an operation plan the legacy way.
		Plan(ctx context.Context, s *state.State) (*plan.Plan, error)
		// Run answers the question end to end the legacy way.
		Run(ctx context.Context, sessionID, question string) (*state.FinalResult, error)
	}

	// Options configures an Orchestrator. States, Coordinator, Runner,
	// Classification, Metadata, Planning, and Execution are required.
	Options struct {
		States      *state.Manager
		Coordinator *stream.Coordinator
		Runner      *nodes.Runner

		Classification nodes.Node
		Metadata       nodes.Node
		Planning       nodes.Node
		Execution      *nodes.Execution
		Visualization  nodes.Node

		// Router short-circuits trivial questions. Nil builds a
		// heuristic-only router.
		Router *router.Router
		// Graphs assembles langgraph workflows. Nil builds a default
		// builder.
		Graphs *graph.Builder
		// Legacy serves the traditional route. Nil routes traditional
		// requests through a simple graph instead.
		Legacy LegacyDelegate
		// Outputs persists per-session captures.
		Outputs *output.Integrator
		// Completions synthesizes the final analysis and answers trivial
		// questions. Nil disables both.
		Completions nodes.Completer

		// ComplexityThreshold is the upper complexity bound for the
		// traditional route. Zero means DefaultComplexityThreshold.
		ComplexityThreshold int
		// Debug disables the hybrid route's fallback to traditional so
		// graph failures surface during development.
		Debug bool

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Orchestrator routes and runs workflow requests.
	Orchestrator struct {
		states      *state.Manager
		coordinator *stream.Coordinator
		runner      *nodes.Runner

		classification nodes.Node
		metadata       nodes.Node
		planning       nodes.Node
		execution      *nodes.Execution
		visualization  nodes.Node

		router      *router.Router
		graphs      *graph.Builder
		legacy      LegacyDelegate
		outputs     *output.Integrator
		completions nodes.Completer

		threshold int
		debug     bool

		logger  telemetry.Logger
		metrics telemetry.Metrics
		now     func() time.Time

		perfMu sync.Mutex
		perf   map[Route][]perfSample
	}
)

// Execution routes.
const (
	RouteTraditional Route = "traditional"
	RouteLangGraph   Route = "langgraph"
	RouteHybrid      Route = "hybrid"

	// RouteTrivial is the short-circuit for conversational questions; it is
	// reported like a route but never enters the workflow.
	RouteTrivial Route = "trivial"
)

// Parallelization levels.
const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// DefaultComplexityThreshold is the largest complexity the traditional route
// handles.
const DefaultComplexityThreshold = 4

// langGraphComplexity is the complexity at which langgraph is always chosen.
const langGraphComplexity = 8

// New builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.States == nil:
		return nil, errors.New("orchestrator: state manager is required")
	case opts.Coordinator == nil:
		return nil, errors.New("orchestrator: stream coordinator is required")
	case opts.Runner == nil:
		return nil, errors.New("orchestrator: node runner is required")
	case opts.Classification == nil || opts.Metadata == nil || opts.Planning == nil:
		return nil, errors.New("orchestrator: classification, metadata, and planning nodes are required")
	case opts.Execution == nil:
		return nil, errors.New("orchestrator: execution node is required")
	}

	o := &Orchestrator{
		states:         opts.States,
		coordinator:    opts.Coordinator,
		runner:         opts.Runner,
		classification: opts.Classification,
		metadata:       opts.Metadata,
		planning:       opts.Planning,
		execution:      opts.Execution,
		visualization:  opts.Visualization,
		router:         opts.Router,
		graphs:         opts.Graphs,
		legacy:         opts.Legacy,
		outputs:        opts.Outputs,
		completions:    opts.Completions,
		threshold:      opts.ComplexityThreshold,
		debug:          opts.Debug,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            time.Now,
		perf:           make(map[Route][]perfSample),
	}
	if o.router == nil {
		o.router = router.New(nil)
	}
	if o.graphs == nil {
		o.graphs = graph.NewBuilder()
	}
	if o.threshold <= 0 {
		o.threshold = DefaultComplexityThreshold
	}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	return o, nil
}

// Decide picks the route for a question. Forced requests always take
// langgraph; otherwise the estimated complexity, cross-source flag, and
// parallelization level drive the choice.
func (o *Orchestrator) Decide(question string, forced bool) Decision {
	complexity, cross, par := estimate(question)
	d := Decision{
		Complexity:      complexity,
		CrossSource:     cross,
		Parallelization: par,
		Confidence:      0.7,
	}
	switch {
	case forced:
		d.Route = RouteLangGraph
		d.Reasoning = "heavy path forced by caller"
	case complexity <= o.threshold && !cross:
		d.Route = RouteTraditional
		d.Reasoning = "low complexity, single source kind"
	case complexity >= langGraphComplexity || par == LevelHigh:
		d.Route = RouteLangGraph
		d.Reasoning = "high complexity or highly parallelizable"
	default:
		d.Route = RouteHybrid
		d.Reasoning = "moderate complexity"
	}
	return d
}

// analysisMarkers raise the complexity estimate.
var analysisMarkers = []string{
	"join", "aggregate", "group by", "compare", "trend", "correlat",
	"average", "sum", "count", "distribution", "forecast", "analyze", "analyse",
}

// kindMarkers detect which source-kind vocabularies a question touches.
var kindMarkers = map[string][]string{
	"relational": {"sql", "table", "orders", "revenue", "invoice", "transaction"},
	"document":   {"document", "collection", "profile"},
	"vector":     {"similar", "semantic", "embedding"},
	"chat-log":   {"conversation", "message", "chat"},
	"e-commerce": {"product", "cart", "purchase", "checkout"},
}

// estimate derives (complexity in [1,10], cross-source flag, parallelization
// level) from the question text alone. It runs before classification, so it
// only sees vocabulary.
func estimate(question string) (int, bool, Level) {
	lower := strings.ToLower(question)

	complexity := 1
	for _, marker := range analysisMarkers {
		if strings.Contains(lower, marker) {
			complexity++
		}
	}

	kinds := 0
	for _, markers := range kindMarkers {
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				kinds++
				break
			}
		}
	}
	cross := kinds > 1
	if cross {
		complexity += 2
	}

	par := LevelLow
	if splittable(lower) {
		complexity += 2
		par = LevelMedium
		if cross {
			par = LevelHigh
		}
	}

	if complexity > 10 {
		complexity = 10
	}
	return complexity, cross, par
}

// splittable mirrors the graph builder's parallelizability check.
func splittable(lower string) bool {
	for _, marker := range []string{" and also ", " as well as ", "; ", " broken down by ", " compare "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Count(lower, "?") > 1
}
