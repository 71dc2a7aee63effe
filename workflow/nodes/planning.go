package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/registry"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Planner turns the question, identified sources, and metadata bundle
	// into an operation DAG. With a completer configured the plan is model
	// generated and validated; otherwise (or when the model output is
	// unusable) a deterministic per-source plan is built.
	Planner struct {
		adapters    *adapter.Registry
		completions Completer
		logger      telemetry.Logger
	}

	// PlannerOption configures a Planner.
	PlannerOption func(*Planner)

	// modelPlan is the JSON shape the planning model returns.
	modelPlan struct {
		Strategy   string `json:"strategy"`
		Operations []struct {
			ID         string   `json:"id"`
			SourceKind string   `json:"source_kind"`
			SourceID   string   `json:"source_id"`
			Query      string   `json:"query"`
			DependsOn  []string `json:"depends_on"`
			Complexity string   `json:"complexity"`
		} `json:"operations"`
	}
)

const plannerPrompt = "Build a query plan for the question over the given sources and tables. " +
	`Return JSON {"strategy": "simple"|"parallel"|"cross_database", "operations": ` +
	`[{"id", "source_kind", "source_id", "query", "depends_on": [], "complexity"}]}. ` +
	"Queries must be native to each source kind. Return JSON only."

// WithPlannerCompleter enables model-assisted planning.
func WithPlannerCompleter(c Completer) PlannerOption {
	return func(p *Planner) { p.completions = c }
}

// WithPlannerLogger configures the planner logger.
func WithPlannerLogger(logger telemetry.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlanner builds the planning node. The adapter registry is used to
// validate plans against the registered source kinds.
func NewPlanner(adapters *adapter.Registry, opts ...PlannerOption) (*Planner, error) {
	if adapters == nil {
		return nil, fmt.Errorf("nodes: planner requires an adapter registry")
	}
	p := &Planner{adapters: adapters, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p, nil
}

// Name implements Node.
func (p *Planner) Name() string { return "planning" }

// Run implements Node. Empty identified sources produce an empty plan; the
// scheduler then completes immediately without rows.
func (p *Planner) Run(ctx context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	if len(s.IdentifiedSources) == 0 {
		empty := &plan.Plan{Strategy: plan.StrategySimple}
		return func(s *state.State) { s.Plan = empty }, "empty plan", nil
	}

	strategy := planStrategy(s)
	var built *plan.Plan
	if p.completions != nil {
		built = p.planByModel(ctx, s, strategy)
	}
	if built == nil {
		built = p.planBySources(s, strategy)
	}
	if err := built.Validate(p.adapters.Kinds()); err != nil {
		return nil, "", newError(p.Name(), err)
	}

	return func(s *state.State) {
		s.Plan = built
		for _, op := range built.Operations {
			s.SelectedTools = append(s.SelectedTools, "query:"+op.SourceKind)
		}
	}, fmt.Sprintf("%d operations (%s)", len(built.Operations), built.Strategy), nil
}

// planStrategy applies the strategy rule: more than one source kind forces
// cross_database; a decomposable question plans parallel subqueries;
// everything else is simple.
func planStrategy(s *state.State) plan.Strategy {
	if CrossSource(s.IdentifiedSources) {
		return plan.StrategyCrossDatabase
	}
	if decomposable(s.Question) {
		return plan.StrategyParallel
	}
	return plan.StrategySimple
}

// decomposable reports whether the question splits into independent
// subqueries.
func decomposable(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range []string{" and also ", " as well as ", "; ", " broken down by ", " compare "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Count(lower, "?") > 1
}

// planByModel asks the model for a plan. Unusable output returns nil so the
// caller falls back to the deterministic plan.
func (p *Planner) planByModel(ctx context.Context, s *state.State, strategy plan.Strategy) *plan.Plan {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\nPreferred strategy: %s\nSources:\n", s.Question, strategy)
	for _, src := range s.IdentifiedSources {
		fmt.Fprintf(&prompt, "- %s (kind: %s)\n", src.SourceID, src.Kind)
	}
	if s.Metadata != nil {
		fmt.Fprintf(&prompt, "Tables: %s\n", strings.Join(s.Metadata.GlobalTables, ", "))
	}

	resp, err := p.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: plannerPrompt},
			{Role: completion.RoleUser, Content: prompt.String()},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		p.logger.Warn(ctx, "planning model call failed, using deterministic plan", "err", err)
		return nil
	}

	var mp modelPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &mp); err != nil {
		p.logger.Debug(ctx, "unparseable plan response, using deterministic plan", "err", err)
		return nil
	}
	if len(mp.Operations) == 0 {
		return nil
	}
	built := &plan.Plan{Strategy: plan.Strategy(mp.Strategy)}
	switch built.Strategy {
	case plan.StrategySimple, plan.StrategyParallel, plan.StrategyCrossDatabase:
	default:
		built.Strategy = strategy
	}
	for _, op := range mp.Operations {
		if op.Query == "" {
			return nil
		}
		built.Operations = append(built.Operations, plan.Operation{
			ID:         op.ID,
			SourceKind: op.SourceKind,
			SourceID:   op.SourceID,
			Params:     map[string]any{"query": op.Query},
			DependsOn:  op.DependsOn,
			Complexity: plan.Complexity(op.Complexity),
		})
	}
	if err := built.Validate(p.adapters.Kinds()); err != nil {
		p.logger.Debug(ctx, "invalid model plan, using deterministic plan", "err", err)
		return nil
	}
	return built
}

// planBySources builds one targeted operation per identified source. With a
// simple strategy and a known key table, a summary pre-step is added and the
// main operation depends on it.
func (p *Planner) planBySources(s *state.State, strategy plan.Strategy) *plan.Plan {
	built := &plan.Plan{Strategy: strategy}
	for _, src := range s.IdentifiedSources {
		table := keyTable(s.Metadata, src.Kind)
		opID := "op-" + src.SourceID
		op := plan.Operation{
			ID:         opID,
			SourceKind: src.Kind,
			SourceID:   src.SourceID,
			Params:     map[string]any{"query": buildQuery(src.Kind, table, s.Question)},
			Complexity: complexityFor(strategy),
		}
		if strategy == plan.StrategySimple && table != "" {
			preID := "summary-" + src.SourceID
			built.Operations = append(built.Operations, plan.Operation{
				ID:         preID,
				SourceKind: src.Kind,
				SourceID:   src.SourceID,
				Params:     map[string]any{"summary_table": table},
				Complexity: plan.ComplexitySimpleSelect,
			})
			op.DependsOn = []string{preID}
		}
		built.Operations = append(built.Operations, op)
	}
	return built
}

// keyTable returns the top key table for a kind, or "" when metadata has
// nothing for it.
func keyTable(bundle *state.MetadataBundle, kind string) string {
	if bundle == nil {
		return ""
	}
	db, ok := bundle.Databases[kind]
	if !ok || len(db.KeyTables) == 0 {
		return ""
	}
	return db.KeyTables[0]
}

// buildQuery renders the deterministic fallback query for a source kind.
// Relational kinds get SQL over the key table; the other kinds receive the
// question as a driver-native query.
func buildQuery(kind, table, question string) string {
	if (kind == string(registry.KindRelational) || kind == string(registry.KindECommerce)) && table != "" {
		return fmt.Sprintf("SELECT * FROM %s LIMIT 100", table)
	}
	return question
}

func complexityFor(strategy plan.Strategy) plan.Complexity {
	switch strategy {
	case plan.StrategyCrossDatabase:
		return plan.ComplexityCrossJoin
	case plan.StrategyParallel:
		return plan.ComplexityAggregation
	default:
		return plan.ComplexitySimpleSelect
	}
}
