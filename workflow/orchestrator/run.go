package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/workflow/graph"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/router"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Request is one question submitted to the orchestrator.
	Request struct {
		// Question is the natural-language question to answer.
		Question string
		// LegacySessionID bridges the graph session to a legacy session
		// when non-empty.
		LegacySessionID string
		// ForceGraph skips routing and always takes the langgraph path.
		ForceGraph bool
		// Streaming enables streamed node events for the run.
		Streaming bool
		// OnSession, when set, is invoked with the graph session ID as soon
		// as the session exists, before any node runs. Callers use it to
		// subscribe to the stream coordinator without racing the workflow.
		OnSession func(sessionID string)
	}

	// Result is the orchestrator's answer to one request.
	Result struct {
		// SessionID is the graph session that served the request. Empty for
		// trivial and legacy-served requests.
		SessionID string `json:"session_id,omitempty"`
		// Route is the path that produced the answer.
		Route Route `json:"route"`
		// Decision explains the routing choice. Nil for trivial requests.
		Decision *Decision `json:"decision,omitempty"`
		// Routing is the trivial-classifier output when it ran.
		Routing *router.Decision `json:"routing,omitempty"`
		// Answer is the final text answer.
		Answer string `json:"answer,omitempty"`
		// Final is the synthesized workflow result. Nil for trivial requests.
		Final *state.FinalResult `json:"final,omitempty"`
		// Unified composes the session's aggregator captures. Nil when no
		// aggregator was opened for the run.
		Unified *output.UnifiedResult `json:"unified,omitempty"`
		// DurationMs is the request's wall-clock time.
		DurationMs int64 `json:"duration_ms"`
	}
)

// trivialPrompt answers conversational questions without touching any data
// source so the short path stays up when the heavy path is down.
const trivialPrompt = "You are a helpful data assistant. Answer the user " +
	"directly and briefly. Do not query or reference any data source."

// trivialFallbackAnswer serves trivial questions when no completion provider
// is reachable.
const trivialFallbackAnswer = "I can help you query and analyze your connected data sources. Ask me about your data to get started."

// Answer routes and runs one request end to end. Trivial questions
// short-circuit through the router; everything else takes the traditional,
// hybrid, or langgraph route per Decide. The returned result carries partial
// outputs even when err is non-nil.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Result, error) {
	start := o.now()

	if !req.ForceGraph {
		rd := o.router.Route(ctx, req.Question)
		if rd.Tier == router.TierTrivial {
			res := &Result{
				Route:   RouteTrivial,
				Routing: &rd,
				Answer:  o.trivialAnswer(ctx, req.Question),
			}
			res.DurationMs = o.now().Sub(start).Milliseconds()
			o.record(RouteTrivial, o.now().Sub(start), true)
			return res, nil
		}
	}

	d := o.Decide(req.Question, req.ForceGraph)
	o.logger.Info(ctx, "route decided",
		"route", string(d.Route), "complexity", d.Complexity, "cross_source", d.CrossSource)

	var (
		res *Result
		err error
	)
	switch d.Route {
	case RouteTraditional:
		res, err = o.runTraditional(ctx, req, d)
	case RouteHybrid:
		res, err = o.runWorkflow(ctx, req, d, true)
		if err != nil && !o.debug {
			o.logger.Warn(ctx, "hybrid route failed, falling back to traditional", "err", err)
			res, err = o.runTraditional(ctx, req, d)
		}
	default:
		res, err = o.runWorkflow(ctx, req, d, false)
	}

	duration := o.now().Sub(start)
	success := err == nil && (res == nil || res.Final == nil || res.Final.Success)
	o.record(d.Route, duration, success)
	o.metrics.RecordTimer("orchestrator.request", duration, "route", string(d.Route), "ok", fmt.Sprint(err == nil))
	if res != nil {
		res.DurationMs = duration.Milliseconds()
	}
	return res, err
}

// Subscribe attaches a consumer to a session's event stream. Callers
// subscribe from Request.OnSession so no events are missed.
func (o *Orchestrator) Subscribe(sessionID string) *stream.Subscription {
	return o.coordinator.Subscribe(sessionID)
}

// trivialAnswer serves the short path. Completion failures of any kind
// degrade to a canned answer rather than an error: the trivial path must
// work with every provider down.
func (o *Orchestrator) trivialAnswer(ctx context.Context, question string) string {
	if o.completions == nil {
		return trivialFallbackAnswer
	}
	resp, err := o.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: trivialPrompt},
			{Role: completion.RoleUser, Content: question},
		},
		MaxTokens: 300,
	})
	if err != nil {
		o.logger.Warn(ctx, "trivial completion failed, using canned answer", "err", err)
		return trivialFallbackAnswer
	}
	return strings.TrimSpace(resp.Text)
}

// runTraditional serves the legacy route. Without a legacy delegate the
// request runs through a simple-query graph instead so prior callers keep
// getting answers.
func (o *Orchestrator) runTraditional(ctx context.Context, req Request, d Decision) (*Result, error) {
	if o.legacy == nil {
		return o.runTemplate(ctx, req, d, graph.TemplateSimpleQuery)
	}
	final, err := o.legacy.Run(ctx, req.LegacySessionID, req.Question)
	if err != nil {
		return &Result{Route: RouteTraditional, Decision: &d}, fmt.Errorf("traditional route: %w", err)
	}
	res := &Result{Route: RouteTraditional, Decision: &d, Final: final}
	if final != nil {
		res.Answer = final.Analysis
	}
	return res, nil
}

func (o *Orchestrator) runTemplate(ctx context.Context, req Request, d Decision, t graph.Template) (*Result, error) {
	return o.run(ctx, req, d, map[string]any{"template": string(t)}, false)
}

// runWorkflow drives the graph route. Hybrid runs swap the graph planner for
// the legacy delegate's planner when one is configured.
func (o *Orchestrator) runWorkflow(ctx context.Context, req Request, d Decision, hybrid bool) (*Result, error) {
	return o.run(ctx, req, d, nil, hybrid && o.legacy != nil)
}

func (o *Orchestrator) run(ctx context.Context, req Request, d Decision, ctxInfo map[string]any, legacyPlanner bool) (*Result, error) {
	sessionID, err := o.states.CreateGraphSession(req.Question, "analysis", req.LegacySessionID)
	if err != nil {
		return &Result{Route: d.Route, Decision: &d}, err
	}
	if req.OnSession != nil {
		req.OnSession(sessionID)
	}
	if req.Streaming {
		_ = o.states.Update(sessionID, func(s *state.State) { s.Preferences.Streaming = true }, false)
	}

	timeout := state.DefaultTimeouts().Total
	if s := o.states.Get(sessionID); s != nil && s.Timeouts.Total > 0 {
		timeout = s.Timeouts.Total
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runErr := stream.Run(ctx, o.coordinator, sessionID, req.Question, string(d.Route), func(ctx context.Context, emit stream.Emitter) error {
		if err := o.runner.Run(ctx, sessionID, o.classification, emit); err != nil {
			return err
		}
		cur := o.states.Get(sessionID)
		if cur == nil {
			return fmt.Errorf("session %s vanished after classification", sessionID)
		}
		g := o.graphs.Build(req.Question, cur.IdentifiedSources, ctxInfo, graph.Requirements{Streaming: req.Streaming})
		for _, stage := range g.Stages {
			if err := o.runStage(ctx, sessionID, stage, legacyPlanner, emit); err != nil {
				return err
			}
		}
		o.synthesize(ctx, sessionID, emit)
		return nil
	})

	res := o.finish(ctx, sessionID, d, o.now())
	o.states.Destroy(sessionID)
	if runErr != nil {
		return res, fmt.Errorf("%s route: %w", d.Route, runErr)
	}
	return res, nil
}

// runStage executes one graph stage. Single-node stages run inline; split
// execution stages fan their siblings out concurrently.
func (o *Orchestrator) runStage(ctx context.Context, sessionID string, stage graph.Stage, legacyPlanner bool, emit stream.Emitter) error {
	specs := make([]graph.NodeSpec, 0, len(stage))
	for _, spec := range stage {
		// Classification already ran to seed graph assembly.
		if spec.Name != "classification" {
			specs = append(specs, spec)
		}
	}
	switch len(specs) {
	case 0:
		return nil
	case 1:
		node := o.node(specs[0], legacyPlanner)
		if node == nil {
			return nil
		}
		return o.runner.Run(ctx, sessionID, node, emit)
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		node := o.node(spec, legacyPlanner)
		if node == nil {
			continue
		}
		eg.Go(func() error {
			return o.runner.Run(ctx, sessionID, node, emit)
		})
	}
	return eg.Wait()
}

// node resolves a graph node spec to the phase node serving it. Unknown
// specs and skippable nodes missing their implementation resolve to nil.
func (o *Orchestrator) node(spec graph.NodeSpec, legacyPlanner bool) nodes.Node {
	switch spec.Name {
	case "classification":
		return o.classification
	case "metadata":
		return o.metadata
	case "planning":
		if legacyPlanner {
			return &legacyPlanNode{legacy: o.legacy}
		}
		return o.planning
	case "execution":
		if spec.Partitions > 1 {
			return o.execution.Partition(spec.Partition, spec.Partitions)
		}
		return o.execution
	case "merge":
		return nodes.NewMerge()
	case "visualization":
		return o.visualization
	}
	return nil
}

// synthesisRowSample caps how many rows the synthesis prompt includes.
const synthesisRowSample = 5

// synthesize asks the completion service for a natural-language analysis of
// the collected rows and mirrors it into the state and aggregator. Synthesis
// is best-effort: failures leave the row-level result intact.
func (o *Orchestrator) synthesize(ctx context.Context, sessionID string, emit stream.Emitter) {
	if o.completions == nil {
		return
	}
	s := o.states.Get(sessionID)
	if s == nil || s.FinalResult == nil || len(s.FinalResult.Rows) == 0 {
		return
	}

	sample := s.FinalResult.Rows
	if len(sample) > synthesisRowSample {
		sample = sample[:synthesisRowSample]
	}
	data, err := json.Marshal(sample)
	if err != nil {
		o.logger.Warn(ctx, "marshal synthesis sample", "session_id", sessionID, "err", err)
		return
	}
	resp, err := o.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: "Summarize the query results for the user. Be concise and factual."},
			{Role: completion.RoleUser, Content: fmt.Sprintf(
				"Question: %s\nTotal rows: %d\nSample rows: %s", s.Question, len(s.FinalResult.Rows), data)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		o.logger.Warn(ctx, "final synthesis failed", "session_id", sessionID, "err", err)
		return
	}
	analysis := strings.TrimSpace(resp.Text)
	if analysis == "" {
		return
	}
	emit(stream.NewAnalysisChunk(sessionID, analysis, 1))

	_ = o.states.Update(sessionID, func(s *state.State) {
		if s.FinalResult != nil {
			s.FinalResult.Analysis = analysis
		}
	}, true)
	if o.outputs != nil {
		if agg, ok := o.outputs.Get(sessionID); ok {
			if _, err := agg.CaptureFinalSynthesis(analysis, s.FinalResult.SQL, s.FinalResult.Rows, "synthesis"); err != nil {
				o.logger.Warn(ctx, "capture final synthesis", "session_id", sessionID, "err", err)
			}
		}
	}
}

// finish captures run metrics, finalizes the session's aggregator, and
// composes the result. Cancelled and failed runs keep whatever the
// aggregator captured so far.
func (o *Orchestrator) finish(ctx context.Context, sessionID string, d Decision, done time.Time) *Result {
	res := &Result{SessionID: sessionID, Route: d.Route, Decision: &d}
	s := o.states.Get(sessionID)
	if s != nil && s.FinalResult != nil {
		res.Final = s.FinalResult
		res.Answer = s.FinalResult.Analysis
	}
	if o.outputs == nil {
		return res
	}
	agg, ok := o.outputs.Get(sessionID)
	if !ok {
		return res
	}
	if s != nil {
		if _, err := agg.CapturePerformanceMetrics(s.Metrics, done.Sub(s.CreatedAt)); err != nil {
			o.logger.Warn(ctx, "capture performance metrics", "session_id", sessionID, "err", err)
		}
	}
	if err := agg.Finalize(); err != nil {
		o.logger.Warn(ctx, "finalize aggregator", "session_id", sessionID, "err", err)
	}
	unified := agg.CreateUnifiedResult()
	res.Unified = &unified
	if err := o.outputs.Release(sessionID, false); err != nil {
		o.logger.Warn(ctx, "release aggregator", "session_id", sessionID, "err", err)
	}
	return res
}

// legacyPlanNode runs the legacy delegate's planner inside the graph's
// planning slot so hybrid runs keep prior planning behavior.
type legacyPlanNode struct {
	legacy LegacyDelegate
}

// Name implements nodes.Node.
func (n *legacyPlanNode) Name() string { return "planning" }

// Run implements nodes.Node.
func (n *legacyPlanNode) Run(ctx context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	p, err := n.legacy.Plan(ctx, s)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		p = &plan.Plan{}
	}
	if len(p.Operations) > 0 {
		if err := p.Validate(nil); err != nil {
			return nil, "", err
		}
	}
	return func(s *state.State) { s.Plan = p },
		fmt.Sprintf("legacy plan with %d operations", len(p.Operations)), nil
}
