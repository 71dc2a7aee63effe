package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Aggregator owns the output record of one session. Captures update the
	// in-memory log first and then persist the whole record to disk, so the
	// on-disk file is always a consistent snapshot. After Finalize the record
	// is immutable and further captures fail with ErrFinalized.
	//
	// Single-writer per session: the owning workflow is the only caller of
	// capture methods. External readers observe snapshots via the persisted
	// file.
	Aggregator struct {
		mu        sync.Mutex
		sessionID string
		path      string
		meta      map[string]any
		startTime time.Time
		finalized bool
		outputs   []Capture
		lastTS    time.Time
		savedAt   time.Time
		now       func() time.Time
	}

	// AggregatorOption configures an Aggregator.
	AggregatorOption func(*Aggregator)

	// record is the on-disk shape of an aggregator.
	record struct {
		SessionID        string         `json:"session_id"`
		WorkflowMetadata map[string]any `json:"workflow_metadata,omitempty"`
		StartTime        time.Time      `json:"start_time"`
		Finalized        bool           `json:"finalized"`
		Outputs          []Capture      `json:"outputs"`
		SavedAt          time.Time      `json:"saved_at"`
	}
)

// ErrFinalized is returned by capture methods after Finalize.
var ErrFinalized = errors.New("output: aggregator finalized")

// WithAggregatorClock overrides the aggregator clock; tests use this to
// control capture timestamps.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates the session's aggregator rooted at dir. The data
// directory is created when missing.
func NewAggregator(sessionID, dir string, metadata map[string]any, opts ...AggregatorOption) (*Aggregator, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	a := &Aggregator{
		sessionID: sessionID,
		path:      filepath.Join(dir, sessionID+"_aggregator.json"),
		meta:      metadata,
		now:       time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	a.startTime = a.now().UTC()
	a.lastTS = a.startTime
	return a, nil
}

// Load re-reads a persisted aggregator record from dir. The returned
// aggregator continues the session: captures resume with monotonic
// timestamps, and a finalized record stays immutable.
func Load(sessionID, dir string, opts ...AggregatorOption) (*Aggregator, error) {
	path := filepath.Join(dir, sessionID+"_aggregator.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aggregator file: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode aggregator file: %w", err)
	}
	a := &Aggregator{
		sessionID: rec.SessionID,
		path:      path,
		meta:      rec.WorkflowMetadata,
		startTime: rec.StartTime,
		finalized: rec.Finalized,
		outputs:   rec.Outputs,
		savedAt:   rec.SavedAt,
		now:       time.Now,
	}
	a.lastTS = rec.StartTime
	if n := len(rec.Outputs); n > 0 {
		a.lastTS = rec.Outputs[n-1].Timestamp
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a, nil
}

// SessionID returns the owning session's ID.
func (a *Aggregator) SessionID() string { return a.sessionID }

// Path returns the aggregator's on-disk file path.
func (a *Aggregator) Path() string { return a.path }

// CaptureRawData records rows fetched from a data source and returns the
// capture's output ID.
func (a *Aggregator) CaptureRawData(sourceKind, query string, rows adapter.Rows, nodeID string) (string, error) {
	payload := &RawDataCapture{SourceKind: sourceKind, Query: query, Rows: rows}
	return a.add(CaptureRawData, nodeID, payload, func(c *Capture) { c.RawData = payload })
}

// CaptureExecutionPlan records the validated plan.
func (a *Aggregator) CaptureExecutionPlan(p plan.Plan, nodeID string) (string, error) {
	payload := &PlanCapture{Plan: p}
	return a.add(CaptureExecutionPlan, nodeID, payload, func(c *Capture) { c.Plan = payload })
}

// CaptureToolExecution records one tool invocation outcome.
func (a *Aggregator) CaptureToolExecution(exec ToolExecCapture, nodeID string) (string, error) {
	payload := &exec
	return a.add(CaptureToolExecution, nodeID, payload, func(c *Capture) { c.ToolExec = payload })
}

// CaptureFinalSynthesis records the synthesized answer.
func (a *Aggregator) CaptureFinalSynthesis(analysis, sql string, rows adapter.Rows, nodeID string) (string, error) {
	payload := &SynthesisCapture{Analysis: analysis, SQL: sql, Rows: rows}
	return a.add(CaptureFinalSynthesis, nodeID, payload, func(c *Capture) { c.Synthesis = payload })
}

// CapturePerformanceMetrics records run-level performance numbers.
func (a *Aggregator) CapturePerformanceMetrics(metrics map[string]float64, totalDuration time.Duration) (string, error) {
	payload := &PerfCapture{Metrics: metrics, TotalDurationMs: totalDuration.Milliseconds()}
	return a.add(CapturePerformanceMetrics, "", payload, func(c *Capture) { c.Perf = payload })
}

// CaptureStreamingEvent preserves a streaming event for the timeline.
func (a *Aggregator) CaptureStreamingEvent(event stream.Event) (string, error) {
	payload := &StreamEventCapture{EventType: string(event.Type()), Payload: event.Payload()}
	return a.add(CaptureStreamingEvent, "", payload, func(c *Capture) { c.StreamEvent = payload })
}

// Finalize marks the record immutable and persists it one last time.
// Idempotent.
func (a *Aggregator) Finalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return nil
	}
	a.finalized = true
	return a.save()
}

// Finalized reports whether the record has been finalized.
func (a *Aggregator) Finalized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized
}

// Cleanup removes the on-disk artifact. The in-memory record is untouched;
// cleanup is explicit and never triggered by cancellation.
func (a *Aggregator) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove aggregator file: %w", err)
	}
	return nil
}

// add appends a capture and persists the record. set binds the typed payload
// pointer onto the capture.
func (a *Aggregator) add(t CaptureType, nodeID string, payload any, set func(*Capture)) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return "", ErrFinalized
	}
	ts := a.now().UTC()
	// Timestamps are strictly monotonic per session even under a coarse
	// clock.
	if !ts.After(a.lastTS) {
		ts = a.lastTS.Add(time.Microsecond)
	}
	a.lastTS = ts

	c := Capture{
		OutputID:  uuid.NewString(),
		Type:      t,
		Timestamp: ts,
		SessionID: a.sessionID,
		NodeID:    nodeID,
	}
	set(&c)
	if raw, err := json.Marshal(payload); err == nil {
		c.SizeBytes = len(raw)
	}
	a.outputs = append(a.outputs, c)
	if err := a.save(); err != nil {
		return "", err
	}
	return c.OutputID, nil
}

// save persists the record atomically (temp file + rename). Callers hold the
// lock.
func (a *Aggregator) save() error {
	a.savedAt = a.now().UTC()
	rec := record{
		SessionID:        a.sessionID,
		WorkflowMetadata: a.meta,
		StartTime:        a.startTime,
		Finalized:        a.finalized,
		Outputs:          a.outputs,
		SavedAt:          a.savedAt,
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode aggregator record: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write aggregator file: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replace aggregator file: %w", err)
	}
	return nil
}

// snapshot returns a copy of the outputs slice. Callers hold no lock.
func (a *Aggregator) snapshot() []Capture {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Capture(nil), a.outputs...)
}
