package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Visualization inspects the final rows and, when a chart is meaningful,
	// attaches a chart specification to the state. It may be skipped without
	// affecting correctness.
	Visualization struct{}

	// ChartSpec describes the chart a client should render.
	ChartSpec struct {
		// Kind is "bar" or "line".
		Kind string `json:"kind"`
		// X is the category or time column.
		X string `json:"x"`
		// Y is the primary value column.
		Y string `json:"y"`
		// Series lists additional value columns.
		Series []string `json:"series,omitempty"`
	}
)

// chartMinRows is the minimum row count worth charting.
const chartMinRows = 2

// chartMaxSeries caps the number of secondary series.
const chartMaxSeries = 3

// NewVisualization builds the visualization node.
func NewVisualization() *Visualization { return &Visualization{} }

// Name implements Node.
func (v *Visualization) Name() string { return "visualization" }

// Run implements Node. A chart needs at least one numeric column, one
// category or time column, and chartMinRows rows; anything else skips
// charting without failing.
func (v *Visualization) Run(_ context.Context, s *state.State, _ stream.Emitter) (state.Patch, string, error) {
	if s.FinalResult == nil || len(s.FinalResult.Rows) < chartMinRows {
		return nil, "chart skipped: not enough rows", nil
	}
	spec, ok := chartFor(s.FinalResult.Rows)
	if !ok {
		return nil, "chart skipped: no chartable columns", nil
	}
	return func(s *state.State) {
		if s.PartialResults == nil {
			s.PartialResults = make(map[string]any)
		}
		s.PartialResults["chart"] = spec
	}, fmt.Sprintf("%s chart: %s by %s", spec.Kind, spec.Y, spec.X), nil
}

// chartFor derives a chart spec from the row shape. Columns are classified
// from the first row; a time-like x-axis selects a line chart.
func chartFor(rows adapter.Rows) (ChartSpec, bool) {
	var numeric, categorical []string
	for col, val := range rows[0] {
		switch val.(type) {
		case float64, float32, int, int32, int64, json.Number:
			numeric = append(numeric, col)
		case string, time.Time:
			categorical = append(categorical, col)
		}
	}
	if len(numeric) == 0 || len(categorical) == 0 {
		return ChartSpec{}, false
	}
	sort.Strings(numeric)
	sort.Strings(categorical)

	x := categorical[0]
	for _, col := range categorical {
		if timeLike(col) {
			x = col
			break
		}
	}
	spec := ChartSpec{Kind: "bar", X: x, Y: numeric[0]}
	if timeLike(x) {
		spec.Kind = "line"
	}
	if len(numeric) > 1 {
		series := numeric[1:]
		if len(series) > chartMaxSeries {
			series = series[:chartMaxSeries]
		}
		spec.Series = series
	}
	return spec, true
}

func timeLike(col string) bool {
	lower := strings.ToLower(col)
	for _, marker := range []string{"date", "time", "day", "week", "month", "year"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
