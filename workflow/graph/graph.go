// Package graph assembles workflow graphs: it selects a template (or
// synthesizes a custom one) from the question and identified sources, applies
// optimization passes, and attaches streaming flags last so every node
// inherits them.
package graph

import (
	"strings"

	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/state"
)

type (
	// Template names a prebuilt graph shape.
	Template string

	// NodeSpec is one node of the assembled graph. Execution siblings carry
	// their partition assignment.
	NodeSpec struct {
		// Name is the phase node to run.
		Name string `json:"name"`
		// Streaming reports whether the node emits streamed events.
		Streaming bool `json:"streaming"`
		// Hints carries optimization hints such as "reduce_memory".
		Hints []string `json:"hints,omitempty"`
		// Partition and Partitions select a plan slice for execution
		// siblings. Partitions is zero for unsplit nodes.
		Partition  int `json:"partition,omitempty"`
		Partitions int `json:"partitions,omitempty"`
	}

	// Stage is a set of nodes that run concurrently. Most stages hold one
	// node; a split execution stage holds the parallel siblings.
	Stage []NodeSpec

	// Graph is the assembled workflow shape.
	Graph struct {
		Template Template `json:"template"`
		Stages   []Stage  `json:"stages"`
	}

	// Requirements tunes graph assembly.
	Requirements struct {
		// Streaming enables streamed node events; attached to every node.
		Streaming bool
		// LowMemory attaches reduce-memory hints to every node.
		LowMemory bool
		// Parallelism is the desired number of execution siblings. Zero
		// derives it from the source count.
		Parallelism int
	}

	// Builder assembles graphs.
	Builder struct {
		logger telemetry.Logger
	}

	// BuilderOption configures a Builder.
	BuilderOption func(*Builder)
)

// Graph templates.
const (
	TemplateSimpleQuery       Template = "simple_query"
	TemplateComplexAnalysis   Template = "complex_analysis"
	TemplateParallelExecution Template = "parallel_execution"
	TemplateCustom            Template = "custom"
)

// maxExecutionSiblings caps the execution split width.
const maxExecutionSiblings = 4

// WithBuilderLogger configures the builder logger.
func WithBuilderLogger(logger telemetry.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder builds a graph Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// Build assembles the graph for a question. ctxInfo may carry a "template"
// override or a "phases" list that synthesizes a custom graph. Optimization
// passes run after template selection; streaming flags are attached last.
func (b *Builder) Build(question string, sources []state.IdentifiedSource, ctxInfo map[string]any, reqs Requirements) *Graph {
	g := b.assemble(question, sources, ctxInfo)

	if g.Template == TemplateParallelExecution {
		siblings := reqs.Parallelism
		if siblings <= 0 {
			siblings = len(sources)
		}
		SplitExecution(g, siblings)
	}
	if reqs.LowMemory {
		ReduceMemory(g)
	}
	AttachStreaming(g, reqs.Streaming)
	return g
}

func (b *Builder) assemble(question string, sources []state.IdentifiedSource, ctxInfo map[string]any) *Graph {
	if phases, ok := ctxInfo["phases"].([]string); ok && len(phases) > 0 {
		return custom(phases)
	}
	template := TemplateFor(question, sources)
	if override, ok := ctxInfo["template"].(string); ok && override != "" {
		template = Template(override)
	}

	switch template {
	case TemplateComplexAnalysis:
		return chain(template, "classification", "metadata", "planning", "execution", "visualization")
	case TemplateParallelExecution:
		return chain(template, "classification", "metadata", "planning", "execution", "merge", "visualization")
	default:
		return chain(TemplateSimpleQuery, "classification", "metadata", "planning", "execution")
	}
}

// TemplateFor picks the template from the question shape and source spread.
func TemplateFor(question string, sources []state.IdentifiedSource) Template {
	switch {
	case parallelizable(question) || len(sources) > 2:
		return TemplateParallelExecution
	case nodes.CrossSource(sources) || analytic(question):
		return TemplateComplexAnalysis
	default:
		return TemplateSimpleQuery
	}
}

// SplitExecution rewrites the single execution stage into parallel siblings;
// the following merge stage recombines them. Graphs without an execution
// stage are left alone.
func SplitExecution(g *Graph, siblings int) {
	if siblings < 2 {
		return
	}
	if siblings > maxExecutionSiblings {
		siblings = maxExecutionSiblings
	}
	for i, stage := range g.Stages {
		if len(stage) != 1 || stage[0].Name != "execution" {
			continue
		}
		split := make(Stage, siblings)
		for p := range split {
			split[p] = NodeSpec{Name: "execution", Partition: p, Partitions: siblings}
		}
		g.Stages[i] = split
		if !hasStage(g, "merge") {
			rest := append([]Stage{{NodeSpec{Name: "merge"}}}, g.Stages[i+1:]...)
			g.Stages = append(g.Stages[:i+1], rest...)
		}
		return
	}
}

// ReduceMemory attaches a reduce-memory hint to every node.
func ReduceMemory(g *Graph) {
	for i, stage := range g.Stages {
		for j := range stage {
			g.Stages[i][j].Hints = append(g.Stages[i][j].Hints, "reduce_memory")
		}
	}
}

// AttachStreaming sets the streaming flag on every node. It runs last so
// nodes added by earlier passes inherit the flag too.
func AttachStreaming(g *Graph, streaming bool) {
	for i, stage := range g.Stages {
		for j := range stage {
			g.Stages[i][j].Streaming = streaming
		}
	}
}

// Nodes returns every node spec in stage order.
func (g *Graph) Nodes() []NodeSpec {
	var out []NodeSpec
	for _, stage := range g.Stages {
		out = append(out, stage...)
	}
	return out
}

func chain(template Template, names ...string) *Graph {
	g := &Graph{Template: template}
	for _, name := range names {
		g.Stages = append(g.Stages, Stage{NodeSpec{Name: name}})
	}
	return g
}

func custom(phases []string) *Graph {
	return chain(TemplateCustom, phases...)
}

func hasStage(g *Graph, name string) bool {
	for _, stage := range g.Stages {
		for _, spec := range stage {
			if spec.Name == name {
				return true
			}
		}
	}
	return false
}

// parallelizable reports whether the question splits into independent
// subqueries worth running as parallel siblings.
func parallelizable(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range []string{" and also ", " as well as ", "; ", " broken down by ", " compare "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Count(lower, "?") > 1
}

// analytic reports whether the question asks for analysis rather than a
// straight lookup.
func analytic(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range []string{"analyze", "analyse", "trend", "correlat", "why ", "insight", "chart"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
