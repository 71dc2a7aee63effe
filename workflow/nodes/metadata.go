package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/telemetry"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Metadata collects schema metadata from the adapters of every identified
	// source kind, in parallel up to a bounded fan-out, and unifies the
	// results into the state's metadata bundle.
	Metadata struct {
		adapters *adapter.Registry
		fanOut   int
		logger   telemetry.Logger
	}

	// MetadataOption configures a Metadata node.
	MetadataOption func(*Metadata)

	// CollectionStrategy is how aggressively the metadata node fans out.
	CollectionStrategy string

	// kindBundle pairs a source kind with its collected schema snapshot.
	kindBundle struct {
		kind     string
		sourceID string
		bundle   adapter.SchemaBundle
		err      error
	}
)

// Collection strategies, picked from classification confidence and target
// count.
const (
	StrategyFocused       CollectionStrategy = "focused"
	StrategyBalanced      CollectionStrategy = "balanced"
	StrategyBroadParallel CollectionStrategy = "broad-parallel"
	StrategyExploratory   CollectionStrategy = "exploratory"
)

// defaultFanOut bounds concurrent get_metadata calls.
const defaultFanOut = 4

// keyTableCount caps the key-table list per kind.
const keyTableCount = 5

// WithMetadataFanOut overrides the metadata fan-out bound.
func WithMetadataFanOut(n int) MetadataOption {
	return func(m *Metadata) {
		if n > 0 {
			m.fanOut = n
		}
	}
}

// WithMetadataLogger configures the metadata node logger.
func WithMetadataLogger(logger telemetry.Logger) MetadataOption {
	return func(m *Metadata) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMetadata builds the metadata node over the adapter registry.
func NewMetadata(adapters *adapter.Registry, opts ...MetadataOption) (*Metadata, error) {
	if adapters == nil {
		return nil, fmt.Errorf("nodes: metadata requires an adapter registry")
	}
	m := &Metadata{
		adapters: adapters,
		fanOut:   defaultFanOut,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m, nil
}

// Name implements Node.
func (m *Metadata) Name() string { return "metadata" }

// StrategyFor picks the collection strategy from classification confidence
// and the number of identified sources.
func StrategyFor(confidence float64, targets int) CollectionStrategy {
	switch {
	case targets > 3:
		return StrategyBroadParallel
	case confidence < 0.5:
		return StrategyExploratory
	case confidence >= 0.8 && targets <= 2:
		return StrategyFocused
	default:
		return StrategyBalanced
	}
}

// Run implements Node. A per-kind collection failure is recorded in the
// bundle's status; the node itself fails only when every kind fails.
func (m *Metadata) Run(ctx context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	if len(s.IdentifiedSources) == 0 {
		bundle := &state.MetadataBundle{Databases: map[string]state.DatabaseMetadata{}}
		return func(s *state.State) { s.Metadata = bundle }, "no sources to describe", nil
	}

	strategy := StrategyFor(meanConfidence(s.IdentifiedSources), len(s.IdentifiedSources))
	focus := focusTables(strategy, s)

	// One collection per distinct kind; an adapter describes its whole kind.
	kinds := make(map[string]string)
	for _, src := range s.IdentifiedSources {
		if _, seen := kinds[src.Kind]; !seen {
			kinds[src.Kind] = src.SourceID
		}
	}

	var (
		mu      sync.Mutex
		results []kindBundle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fanOut)
	for kind, sourceID := range kinds {
		kind, sourceID := kind, sourceID
		g.Go(func() error {
			kb := kindBundle{kind: kind, sourceID: sourceID}
			if a, ok := m.adapters.Lookup(kind); !ok {
				kb.err = fmt.Errorf("metadata: no adapter for source kind %q", kind)
			} else {
				kb.bundle, kb.err = a.GetMetadata(gctx, focus[kind])
			}
			mu.Lock()
			results = append(results, kb)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", newError(m.Name(), err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].kind < results[j].kind })

	bundle, failures := unifyBundles(results)
	if failures == len(results) {
		return nil, "", newError(m.Name(), fmt.Errorf("metadata collection failed for all %d source kinds", failures))
	}

	tables := append([]string(nil), bundle.GlobalTables...)
	return func(s *state.State) {
		s.Metadata = bundle
		s.AvailableTables = tables
		if s.PartialResults == nil {
			s.PartialResults = make(map[string]any)
		}
		s.PartialResults["metadata_strategy"] = string(strategy)
	}, fmt.Sprintf("strategy=%s kinds=%d tables=%d", strategy, len(results), len(tables)), nil
}

// focusTables returns the per-kind table filter. Only the focused strategy
// restricts collection; the others describe everything.
func focusTables(strategy CollectionStrategy, s *state.State) map[string][]string {
	focus := make(map[string][]string)
	if strategy != StrategyFocused || s.Metadata == nil {
		return focus
	}
	for kind, db := range s.Metadata.Databases {
		focus[kind] = append([]string(nil), db.KeyTables...)
	}
	return focus
}

// unifyBundles merges per-kind snapshots into the unified bundle and reports
// how many kinds failed to collect.
func unifyBundles(results []kindBundle) (*state.MetadataBundle, int) {
	bundle := &state.MetadataBundle{Databases: make(map[string]state.DatabaseMetadata, len(results))}
	tablesByKind := make(map[string][]string)
	failures := 0

	for _, kb := range results {
		if kb.err != nil {
			failures++
			bundle.Databases[kb.kind] = state.DatabaseMetadata{Status: "error: " + kb.err.Error()}
			continue
		}
		db := state.DatabaseMetadata{
			Status:              "ok",
			ColumnTypeHistogram: make(map[string]int),
			IndexingInfo:        make(map[string][]string),
		}
		sourceID := kb.bundle.SourceID
		if sourceID == "" {
			sourceID = kb.sourceID
		}
		tables := append([]adapter.TableSchema(nil), kb.bundle.Tables...)
		sort.Slice(tables, func(i, j int) bool {
			if tables[i].RowCount != tables[j].RowCount {
				return tables[i].RowCount > tables[j].RowCount
			}
			return tables[i].Name < tables[j].Name
		})
		for i, t := range tables {
			if i < keyTableCount {
				db.KeyTables = append(db.KeyTables, t.Name)
			}
			for _, typ := range t.Columns {
				db.ColumnTypeHistogram[typ]++
			}
			if len(t.Indexes) > 0 {
				db.IndexingInfo[t.Name] = append([]string(nil), t.Indexes...)
			}
			tablesByKind[kb.kind] = append(tablesByKind[kb.kind], t.Name)
			bundle.GlobalTables = append(bundle.GlobalTables, sourceID+"."+t.Name)
		}
		bundle.Databases[kb.kind] = db
	}
	sort.Strings(bundle.GlobalTables)
	bundle.CommonPatterns = commonPatterns(tablesByKind)
	return bundle, failures
}

// commonPatterns finds table names shared across kinds; shared names hint at
// cross-source join keys.
func commonPatterns(tablesByKind map[string][]string) state.CommonPatterns {
	kindsByTable := make(map[string][]string)
	for kind, tables := range tablesByKind {
		for _, t := range tables {
			kindsByTable[t] = append(kindsByTable[t], kind)
		}
	}
	var patterns state.CommonPatterns
	for table, kinds := range kindsByTable {
		if len(kinds) < 2 {
			continue
		}
		sort.Strings(kinds)
		patterns.CommonTableNames = append(patterns.CommonTableNames, table)
		patterns.CrossDatabaseRelationships = append(patterns.CrossDatabaseRelationships,
			table+": "+strings.Join(kinds, ","))
	}
	sort.Strings(patterns.CommonTableNames)
	sort.Strings(patterns.CrossDatabaseRelationships)
	return patterns
}
