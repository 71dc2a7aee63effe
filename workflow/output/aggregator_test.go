package output_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/stream"
)

func newAggregator(t *testing.T) *output.Aggregator {
	t.Helper()
	a, err := output.NewAggregator("sess-1", t.TempDir(), map[string]any{"route": "langgraph"})
	require.NoError(t, err)
	return a
}

func rows(n int) adapter.Rows {
	out := make(adapter.Rows, n)
	for i := range out {
		out[i] = map[string]any{"id": float64(i)}
	}
	return out
}

func TestCapturePersistsImmediately(t *testing.T) {
	dir := t.TempDir()
	a, err := output.NewAggregator("sess-1", dir, nil)
	require.NoError(t, err)

	id, err := a.CaptureRawData("relational", "SELECT 1", rows(2), "execute")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	raw, err := os.ReadFile(filepath.Join(dir, "sess-1_aggregator.json"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.Equal(t, "sess-1", rec["session_id"])
	require.Equal(t, false, rec["finalized"])
	require.Len(t, rec["outputs"], 1)
	require.Contains(t, rec, "start_time")
	require.Contains(t, rec, "saved_at")
}

func TestTimestampsMonotonic(t *testing.T) {
	frozen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a, err := output.NewAggregator("sess-1", t.TempDir(), nil,
		output.WithAggregatorClock(func() time.Time { return frozen }))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := a.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", Success: true}, "")
		require.NoError(t, err)
	}
	timeline := a.WorkflowTimeline()
	require.Len(t, timeline, 5)
	for i := 1; i < len(timeline); i++ {
		require.True(t, timeline[i].Timestamp.After(timeline[i-1].Timestamp))
	}
}

func TestFinalizeMakesRecordImmutable(t *testing.T) {
	a := newAggregator(t)
	_, err := a.CaptureRawData("relational", "", rows(1), "")
	require.NoError(t, err)

	require.NoError(t, a.Finalize())
	require.True(t, a.Finalized())
	require.NoError(t, a.Finalize())

	_, err = a.CaptureRawData("relational", "", rows(1), "")
	require.ErrorIs(t, err, output.ErrFinalized)
	_, err = a.CaptureStreamingEvent(stream.NewStatus("sess-1", "late"))
	require.ErrorIs(t, err, output.ErrFinalized)
}

func TestUnifiedResultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := output.NewAggregator("sess-1", dir, map[string]any{"route": "langgraph"})
	require.NoError(t, err)

	_, err = a.CaptureExecutionPlan(plan.Plan{
		Strategy:   plan.StrategySimple,
		Operations: []plan.Operation{{ID: "op-1", SourceKind: "relational", SourceID: "pg-main"}},
	}, "plan")
	require.NoError(t, err)
	_, err = a.CaptureRawData("relational", "SELECT * FROM orders", rows(3), "execute")
	require.NoError(t, err)
	_, err = a.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", OperationID: "op-1", Success: true, RowCount: 3}, "execute")
	require.NoError(t, err)
	_, err = a.CaptureFinalSynthesis("three orders found", "SELECT * FROM orders", rows(3), "synthesize")
	require.NoError(t, err)
	_, err = a.CapturePerformanceMetrics(map[string]float64{"classify_ms": 12}, 340*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, a.Finalize())

	want := a.CreateUnifiedResult()
	require.True(t, want.Success)
	require.Len(t, want.Rows, 3)
	require.Equal(t, "three orders found", want.Analysis)
	require.Equal(t, 1, want.QualityIndicators.SourcesQueried)
	require.NotNil(t, want.PlanInfo)
	require.Equal(t, float64(340), want.PerformanceMetrics["total_duration_ms"])

	// The persisted file yields the identical unified result.
	loaded, err := output.Load("sess-1", dir)
	require.NoError(t, err)
	require.True(t, loaded.Finalized())
	require.Equal(t, want, loaded.CreateUnifiedResult())
}

func TestSuccessCriterion(t *testing.T) {
	// Rows captured but tool success rate below 0.5.
	a := newAggregator(t)
	_, err := a.CaptureRawData("relational", "", rows(1), "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = a.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", Success: false, Error: "boom"}, "")
		require.NoError(t, err)
	}
	_, err = a.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", Success: true}, "")
	require.NoError(t, err)
	require.False(t, a.CreateUnifiedResult().Success)

	// No rows at all.
	b := newAggregator(t)
	_, err = b.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", Success: true}, "")
	require.NoError(t, err)
	u := b.CreateUnifiedResult()
	require.False(t, u.Success)
	require.Empty(t, u.Rows)

	// Zero-row capture: success depends on the rate, rows stay empty.
	c := newAggregator(t)
	_, err = c.CaptureRawData("relational", "", nil, "")
	require.NoError(t, err)
	u = c.CreateUnifiedResult()
	require.False(t, u.Success)
	require.Equal(t, 1.0, u.ExecutionDetails.SuccessRate)
}

func TestTypedAccessors(t *testing.T) {
	a := newAggregator(t)
	_, err := a.CaptureRawData("relational", "q1", rows(1), "")
	require.NoError(t, err)
	_, err = a.CaptureRawData("document", "q2", rows(2), "")
	require.NoError(t, err)
	_, err = a.CaptureFinalSynthesis("first", "", nil, "")
	require.NoError(t, err)
	_, err = a.CaptureFinalSynthesis("second", "", nil, "")
	require.NoError(t, err)
	_, err = a.CapturePerformanceMetrics(map[string]float64{"a": 1}, 0)
	require.NoError(t, err)
	_, err = a.CapturePerformanceMetrics(map[string]float64{"a": 2, "b": 3}, 0)
	require.NoError(t, err)

	require.Len(t, a.AllRawData(), 2)
	require.Equal(t, "q2", a.AllRawData()[1].Query)
	require.Equal(t, "second", a.FinalSynthesis().Analysis)
	require.Equal(t, map[string]float64{"a": 2, "b": 3}, a.PerformanceSummary())
}

func TestCleanupRemovesFile(t *testing.T) {
	dir := t.TempDir()
	a, err := output.NewAggregator("sess-1", dir, nil)
	require.NoError(t, err)
	_, err = a.CaptureRawData("relational", "", rows(1), "")
	require.NoError(t, err)

	path := filepath.Join(dir, "sess-1_aggregator.json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, a.Cleanup())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, a.Cleanup())
}

func TestAPIResponseShape(t *testing.T) {
	a := newAggregator(t)
	_, err := a.CaptureRawData("relational", "SELECT 1", rows(2), "")
	require.NoError(t, err)
	_, err = a.CaptureToolExecution(output.ToolExecCapture{Tool: "sql", Success: true}, "")
	require.NoError(t, err)
	_, err = a.CaptureFinalSynthesis("two rows", "SELECT 1", rows(2), "")
	require.NoError(t, err)

	resp := a.CreateAPIResponse()
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.RowCount)
	require.Equal(t, "two rows", resp.Analysis)
	require.Equal(t, "langgraph", resp.Metadata["route"])
	require.Equal(t, 1, resp.Metadata["tools_executed"])
	require.NotEmpty(t, resp.Timeline)
}

func TestIntegratorLifecycle(t *testing.T) {
	dir := t.TempDir()
	integ := output.NewIntegrator(dir)

	a, err := integ.GetOrCreate("sess-1", map[string]any{"route": "hybrid"})
	require.NoError(t, err)
	again, err := integ.GetOrCreate("sess-1", nil)
	require.NoError(t, err)
	require.Same(t, a, again)
	require.Equal(t, 1, integ.Open())

	_, err = a.CaptureRawData("relational", "", rows(1), "")
	require.NoError(t, err)

	// Release without cleanup keeps the file for debugging.
	require.NoError(t, integ.Release("sess-1", false))
	require.Zero(t, integ.Open())
	_, err = os.Stat(a.Path())
	require.NoError(t, err)

	b, err := integ.GetOrCreate("sess-2", nil)
	require.NoError(t, err)
	_, err = b.CaptureRawData("relational", "", rows(1), "")
	require.NoError(t, err)
	require.NoError(t, integ.Release("sess-2", true))
	_, err = os.Stat(b.Path())
	require.True(t, os.IsNotExist(err))
}
