// Package output implements the per-session output aggregator: an
// append-only log of typed workflow artifacts persisted to disk after every
// capture. One aggregator exists per session and is its exclusive owner; all
// captures go through its interface.
package output

import (
	"time"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/plan"
)

type (
	// CaptureType tags the artifact flavor held by a Capture.
	CaptureType string

	// Capture is one typed record in the aggregator log. Exactly one of the
	// payload pointers is set, selected by Type; readers switch on Type and
	// must handle every case.
	Capture struct {
		// OutputID uniquely identifies the capture.
		OutputID string `json:"output_id"`
		// Type tags the payload flavor.
		Type CaptureType `json:"output_type"`
		// Timestamp is when the capture was accepted (UTC). Timestamps are
		// strictly monotonic within a session.
		Timestamp time.Time `json:"timestamp"`
		// SessionID echoes the owning session.
		SessionID string `json:"session_id"`
		// NodeID names the node that produced the artifact, when known.
		NodeID string `json:"node_id,omitempty"`
		// Metadata carries free-form capture annotations.
		Metadata map[string]any `json:"metadata,omitempty"`
		// SizeBytes is the serialized payload size.
		SizeBytes int `json:"size_bytes,omitempty"`
		// ProcessingTimeMs is how long producing the artifact took.
		ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`

		// RawData is set when Type is CaptureRawData.
		RawData *RawDataCapture `json:"raw_data,omitempty"`
		// Plan is set when Type is CaptureExecutionPlan.
		Plan *PlanCapture `json:"execution_plan,omitempty"`
		// ToolExec is set when Type is CaptureToolExecution.
		ToolExec *ToolExecCapture `json:"tool_execution,omitempty"`
		// Synthesis is set when Type is CaptureFinalSynthesis.
		Synthesis *SynthesisCapture `json:"final_synthesis,omitempty"`
		// Perf is set when Type is CapturePerformanceMetrics.
		Perf *PerfCapture `json:"performance_metrics,omitempty"`
		// StreamEvent is set when Type is CaptureStreamingEvent.
		StreamEvent *StreamEventCapture `json:"streaming_event,omitempty"`
	}

	// RawDataCapture holds rows fetched from a data source.
	RawDataCapture struct {
		// SourceKind is the data-source class that produced the rows.
		SourceKind string `json:"source_kind"`
		// Query is the driver-native query that was executed.
		Query string `json:"query,omitempty"`
		// Rows is the fetched row set.
		Rows adapter.Rows `json:"rows"`
	}

	// PlanCapture holds the execution plan used by the run.
	PlanCapture struct {
		// Plan is the validated operation DAG.
		Plan plan.Plan `json:"plan"`
	}

	// ToolExecCapture records one tool invocation outcome.
	ToolExecCapture struct {
		// Tool names the invoked tool.
		Tool string `json:"tool"`
		// OperationID links to the plan operation, when applicable.
		OperationID string `json:"operation_id,omitempty"`
		// Success reports the invocation outcome.
		Success bool `json:"success"`
		// DurationMs is the invocation's wall-clock time.
		DurationMs int64 `json:"duration_ms"`
		// RowCount counts rows produced by the tool.
		RowCount int `json:"row_count,omitempty"`
		// Error describes the failure when Success is false.
		Error string `json:"error,omitempty"`
	}

	// SynthesisCapture holds the final synthesized answer.
	SynthesisCapture struct {
		// Analysis is the natural-language synthesis.
		Analysis string `json:"analysis"`
		// SQL echoes the primary generated query, when one exists.
		SQL string `json:"sql,omitempty"`
		// Rows is the row set backing the answer.
		Rows adapter.Rows `json:"rows,omitempty"`
	}

	// PerfCapture holds run-level performance metrics.
	PerfCapture struct {
		// Metrics maps metric names to values.
		Metrics map[string]float64 `json:"metrics"`
		// TotalDurationMs is the run's wall-clock time so far.
		TotalDurationMs int64 `json:"total_duration_ms,omitempty"`
	}

	// StreamEventCapture preserves one streaming event for the timeline.
	StreamEventCapture struct {
		// EventType is the streaming event type string.
		EventType string `json:"event_type"`
		// Payload is the event's serialized payload.
		Payload any `json:"payload,omitempty"`
	}

	// TimelineEntry is one row of the workflow timeline.
	TimelineEntry struct {
		// OutputID identifies the capture.
		OutputID string `json:"output_id"`
		// Type tags the capture flavor.
		Type CaptureType `json:"output_type"`
		// Timestamp is the capture time (UTC).
		Timestamp time.Time `json:"timestamp"`
		// NodeID names the producing node, when known.
		NodeID string `json:"node_id,omitempty"`
	}
)

// Capture type tags.
const (
	CaptureRawData            CaptureType = "raw_data"
	CaptureExecutionPlan      CaptureType = "execution_plan"
	CaptureToolExecution      CaptureType = "tool_execution"
	CaptureFinalSynthesis     CaptureType = "final_synthesis"
	CapturePerformanceMetrics CaptureType = "performance_metrics"
	CaptureStreamingEvent     CaptureType = "streaming_event"
)
