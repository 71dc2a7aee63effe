package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/registry"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Classifier identifies which registered sources a question touches.
	// Results are cached per (session, question hash) so repeated
	// classification within a session does no re-work.
	Classifier struct {
		catalog     registry.Store
		completions Completer
		logger      telemetry.Logger

		mu    sync.Mutex
		cache map[string][]state.IdentifiedSource
	}

	// ClassifierOption configures a Classifier.
	ClassifierOption func(*Classifier)

	// sourcePick is the JSON shape the classification model returns.
	sourcePick struct {
		SourceID   string  `json:"source_id"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
)

const classifierPrompt = "Given the user question and the list of registered data sources, " +
	"return a JSON array of the sources needed to answer it. Each element is " +
	`{"source_id": string, "confidence": number in [0,1], "reasoning": string}. ` +
	"Return [] when no source applies. Return JSON only."

// kindKeywords drives the heuristic fallback: a question mentioning one of a
// kind's keywords selects the sources of that kind.
var kindKeywords = map[registry.SourceKind][]string{
	registry.KindRelational:   {"sql", "table", "join", "revenue", "orders", "invoice", "transaction"},
	registry.KindDocument:     {"document", "collection", "profile", "json"},
	registry.KindVector:       {"similar", "semantic", "embedding", "nearest", "related to"},
	registry.KindChatLog:      {"conversation", "message", "chat", "thread"},
	registry.KindECommerce:    {"product", "cart", "checkout", "purchase", "sku"},
	registry.KindAnalyticsAPI: {"pageview", "traffic", "campaign", "funnel", "session count"},
}

// WithClassifierCompleter enables model-assisted classification. Without it
// the classifier is purely heuristic.
func WithClassifierCompleter(c Completer) ClassifierOption {
	return func(n *Classifier) { n.completions = c }
}

// WithClassifierLogger configures the classifier logger.
func WithClassifierLogger(logger telemetry.Logger) ClassifierOption {
	return func(n *Classifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewClassifier builds the classification node over the source catalog.
func NewClassifier(catalog registry.Store, opts ...ClassifierOption) (*Classifier, error) {
	if catalog == nil {
		return nil, fmt.Errorf("nodes: classifier requires a catalog")
	}
	n := &Classifier{
		catalog: catalog,
		logger:  telemetry.NewNoopLogger(),
		cache:   make(map[string][]state.IdentifiedSource),
	}
	for _, o := range opts {
		if o != nil {
			o(n)
		}
	}
	return n, nil
}

// Name implements Node.
func (n *Classifier) Name() string { return "classification" }

// Run implements Node. An empty question identifies no sources. Model
// failures degrade to the keyword heuristic.
func (n *Classifier) Run(ctx context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	question := strings.TrimSpace(s.Question)
	if question == "" {
		return func(s *state.State) { s.IdentifiedSources = nil }, "no sources identified", nil
	}

	key := cacheKey(s.SessionID, question)
	n.mu.Lock()
	cached, hit := n.cache[key]
	n.mu.Unlock()
	if hit {
		picks := append([]state.IdentifiedSource(nil), cached...)
		return n.patch(picks), fmt.Sprintf("%d sources identified (cached)", len(picks)), nil
	}

	sources, err := n.catalog.ListSources(ctx)
	if err != nil {
		return nil, "", newError(n.Name(), fmt.Errorf("list sources: %w", err))
	}

	var picks []state.IdentifiedSource
	if n.completions != nil {
		picks = n.classifyByModel(ctx, question, sources)
	}
	if picks == nil {
		picks = classifyByKeywords(question, sources)
	}
	sort.Slice(picks, func(i, j int) bool { return picks[i].SourceID < picks[j].SourceID })

	n.mu.Lock()
	n.cache[key] = append([]state.IdentifiedSource(nil), picks...)
	n.mu.Unlock()

	return n.patch(picks), fmt.Sprintf("%d sources identified", len(picks)), nil
}

func (n *Classifier) patch(picks []state.IdentifiedSource) state.Patch {
	return func(s *state.State) {
		s.IdentifiedSources = picks
		if len(picks) > 0 {
			if s.Metrics == nil {
				s.Metrics = make(map[string]float64)
			}
			s.Metrics["classification_confidence"] = meanConfidence(picks)
		}
	}
}

// classifyByModel asks the model to pick sources. Any failure, including
// unparseable output or unknown source IDs, returns nil so the caller falls
// back to the heuristic.
func (n *Classifier) classifyByModel(ctx context.Context, question string, sources []registry.DataSource) []state.IdentifiedSource {
	var list strings.Builder
	byID := make(map[string]registry.DataSource, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
		fmt.Fprintf(&list, "- %s (kind: %s)\n", src.ID, src.Kind)
	}

	resp, err := n.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: classifierPrompt},
			{Role: completion.RoleUser, Content: "Question: " + question + "\nSources:\n" + list.String()},
		},
		MaxTokens: 512,
	})
	if err != nil {
		n.logger.Warn(ctx, "classification model call failed, using heuristic", "err", err)
		return nil
	}

	var raw []sourcePick
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &raw); err != nil {
		n.logger.Debug(ctx, "unparseable classification response, using heuristic", "err", err)
		return nil
	}
	picks := make([]state.IdentifiedSource, 0, len(raw))
	for _, p := range raw {
		src, ok := byID[p.SourceID]
		if !ok {
			continue
		}
		if p.Confidence <= 0 || p.Confidence > 1 {
			p.Confidence = 0.5
		}
		picks = append(picks, state.IdentifiedSource{
			SourceID:   src.ID,
			Kind:       string(src.Kind),
			Reasoning:  p.Reasoning,
			Confidence: p.Confidence,
		})
	}
	if len(picks) == 0 {
		return nil
	}
	return picks
}

// classifyByKeywords matches the question against per-kind vocabulary and
// source IDs. With no keyword signal every source is considered at low
// confidence so downstream phases still have something to work with.
func classifyByKeywords(question string, sources []registry.DataSource) []state.IdentifiedSource {
	lower := strings.ToLower(question)
	picks := make([]state.IdentifiedSource, 0, len(sources))
	for _, src := range sources {
		confidence := 0.0
		var reasons []string
		for _, kw := range kindKeywords[src.Kind] {
			if strings.Contains(lower, kw) {
				confidence += 0.15
				reasons = append(reasons, "mentions "+kw)
			}
		}
		if strings.Contains(lower, strings.ToLower(src.ID)) {
			confidence += 0.3
			reasons = append(reasons, "names the source")
		}
		if confidence == 0 {
			continue
		}
		if confidence > 0.95 {
			confidence = 0.95
		}
		picks = append(picks, state.IdentifiedSource{
			SourceID:   src.ID,
			Kind:       string(src.Kind),
			Reasoning:  strings.Join(reasons, "; "),
			Confidence: 0.5 + confidence/2,
		})
	}
	if len(picks) == 0 {
		for _, src := range sources {
			picks = append(picks, state.IdentifiedSource{
				SourceID:   src.ID,
				Kind:       string(src.Kind),
				Reasoning:  "no keyword signal; considering all sources",
				Confidence: 0.3,
			})
		}
	}
	return picks
}

func cacheKey(sessionID, question string) string {
	h := fnv.New64a()
	h.Write([]byte(question))
	return fmt.Sprintf("%s:%x", sessionID, h.Sum64())
}

func meanConfidence(picks []state.IdentifiedSource) float64 {
	if len(picks) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range picks {
		sum += p.Confidence
	}
	return sum / float64(len(picks))
}
