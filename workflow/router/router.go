// Package router implements the trivial-vs-analysis classifier that decides
// whether a question takes the short-circuit path or the full workflow.
//
// The classifier makes a very small model call that must return exactly one
// of two tokens; anything else falls back to a keyword heuristic. The
// heuristic keeps routing functional when every completion provider is down.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Tier is the chosen execution path.
	Tier string

	// Decision is the routing output for one question.
	Decision struct {
		// Tier selects the execution path.
		Tier Tier `json:"tier"`
		// Confidence scores the decision in [0,1].
		Confidence float64 `json:"confidence"`
		// Reasoning explains how the decision was made.
		Reasoning string `json:"reasoning"`
		// EstimatedTimeMs predicts the response time for the tier.
		EstimatedTimeMs int64 `json:"estimated_time_ms"`
		// OperationType names the kind of work the tier performs.
		OperationType string `json:"operation_type"`
	}

	// Completer is the narrow completion surface the router needs.
	// *completion.Service satisfies it.
	Completer interface {
		Complete(ctx context.Context, req completion.Request) (*completion.Response, error)
	}

	// Router classifies questions into tiers.
	Router struct {
		completions Completer
		logger      telemetry.Logger
		metrics     telemetry.Metrics
	}

	// Option configures a Router.
	Option func(*Router)
)

// Routing tiers.
const (
	TierTrivial      Tier = "trivial"
	TierDataAnalysis Tier = "data_analysis"
)

// classifyPrompt forces a one-token answer so the call stays cheap and the
// response parse stays unambiguous.
const classifyPrompt = "You are a router. Reply with exactly one token: " +
	"TRIVIAL if the user message is conversational or answerable without querying data, " +
	"DATA_ANALYSIS if answering requires querying, aggregating, or charting stored data. " +
	"Reply with the token only."

// analysisKeywords is the heuristic fallback: questions mentioning analysis
// verbs or data vocabulary take the heavy path.
var analysisKeywords = regexp.MustCompile(`(?i)\b(analy[sz]e|chart|graph|plot|database|join|aggregate|average|count|sum|trend|compare)`)

// WithLogger configures the router logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics configures the router metrics sink.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(r *Router) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// New builds a Router. completions may be nil; the router then always uses
// the heuristic.
func New(completions Completer, opts ...Option) *Router {
	r := &Router{
		completions: completions,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Route classifies the question. Model failures of any kind (provider errors,
// open breakers, ambiguous output) degrade to the keyword heuristic rather
// than failing the request.
func (r *Router) Route(ctx context.Context, question string) Decision {
	if r.completions != nil {
		if d, ok := r.routeByModel(ctx, question); ok {
			r.metrics.IncCounter("router.decisions", 1, "tier", string(d.Tier), "via", "model")
			return d
		}
	}
	d := r.routeByHeuristic(question)
	r.metrics.IncCounter("router.decisions", 1, "tier", string(d.Tier), "via", "heuristic")
	return d
}

func (r *Router) routeByModel(ctx context.Context, question string) (Decision, bool) {
	resp, err := r.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: classifyPrompt},
			{Role: completion.RoleUser, Content: question},
		},
		MaxTokens: 4,
	})
	if err != nil {
		r.logger.Warn(ctx, "router model call failed, using heuristic", "err", err)
		return Decision{}, false
	}
	switch strings.ToUpper(strings.TrimSpace(resp.Text)) {
	case "TRIVIAL":
		return decision(TierTrivial, 0.9, "model classified as trivial"), true
	case "DATA_ANALYSIS":
		return decision(TierDataAnalysis, 0.9, "model classified as data analysis"), true
	default:
		r.logger.Debug(ctx, "ambiguous router response, using heuristic", "response", resp.Text)
		return Decision{}, false
	}
}

func (r *Router) routeByHeuristic(question string) Decision {
	if match := analysisKeywords.FindString(question); match != "" {
		return decision(TierDataAnalysis, 0.6, "heuristic keyword match: "+strings.ToLower(match))
	}
	return decision(TierTrivial, 0.6, "heuristic: no analysis keywords")
}

func decision(tier Tier, confidence float64, reasoning string) Decision {
	d := Decision{Tier: tier, Confidence: confidence, Reasoning: reasoning}
	switch tier {
	case TierDataAnalysis:
		d.EstimatedTimeMs = 5000
		d.OperationType = "data_query"
	default:
		d.EstimatedTimeMs = 500
		d.OperationType = "direct_answer"
	}
	return d
}
