// Package state holds the per-request workflow state and the manager that
// bridges graph sessions to legacy session IDs.
//
// A State is created when a request enters the workflow engine, mutated by
// every phase node through the manager's single-writer update protocol, and
// destroyed (or archived) when the request completes. Nodes never share a
// State pointer across goroutines; all mutation goes through Manager.Update.
package state

import (
	"time"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/workflow/plan"
	"github.com/cenecahq/ceneca/workflow/stream"
)

// StreamBufferLimit bounds the per-state streaming buffer. When the buffer is
// full the oldest event is dropped first.
const StreamBufferLimit = 100

type (
	// State is the typed per-request workflow record.
	State struct {
		// SessionID is the graph session identifier.
		SessionID string `json:"session_id"`
		// LegacySessionID links to the legacy session when bridged.
		LegacySessionID string `json:"legacy_session_id,omitempty"`
		// Question is the user's natural-language question.
		Question string `json:"question"`
		// Kind names the workflow flavor (e.g., "analysis", "query").
		Kind string `json:"kind"`

		// IdentifiedSources holds the classification node's output.
		IdentifiedSources []IdentifiedSource `json:"identified_sources,omitempty"`
		// AvailableTables lists qualified tables visible to the planner.
		AvailableTables []string `json:"available_tables,omitempty"`
		// Metadata is the unified schema bundle built by the metadata node.
		Metadata *MetadataBundle `json:"metadata,omitempty"`
		// Plan is the operation DAG built by the planning node.
		Plan *plan.Plan `json:"plan,omitempty"`

		// StepHistory records node executions in order.
		StepHistory []Step `json:"step_history,omitempty"`
		// OperationResults indexes scheduler results by operation ID.
		OperationResults map[string]OperationResult `json:"operation_results,omitempty"`
		// PartialResults holds intermediate artifacts keyed by node.
		PartialResults map[string]any `json:"partial_results,omitempty"`
		// FinalResult is the synthesized answer, set by aggregation.
		FinalResult *FinalResult `json:"final_result,omitempty"`

		// StreamBuffer retains the most recent streaming events, capped at
		// StreamBufferLimit with head-first drop.
		StreamBuffer []stream.Event `json:"-"`

		// ErrorHistory records failures observed during the run.
		ErrorHistory []ErrorRecord `json:"error_history,omitempty"`
		// RetryCount tracks workflow-level retries.
		RetryCount int `json:"retry_count,omitempty"`

		// SelectedTools lists the tools chosen for the run.
		SelectedTools []string `json:"selected_tools,omitempty"`
		// ToolHistory records tool executions in order.
		ToolHistory []ToolExecution `json:"tool_history,omitempty"`
		// Metrics accumulates per-run performance numbers.
		Metrics map[string]float64 `json:"metrics,omitempty"`

		// Preferences carries per-request user tuning.
		Preferences Preferences `json:"preferences"`
		// Quality carries the thresholds aggregation checks against.
		Quality QualityThresholds `json:"quality"`
		// Timeouts bounds the run and its operations.
		Timeouts Timeouts `json:"timeouts"`

		// CreatedAt is the request start time (UTC).
		CreatedAt time.Time `json:"created_at"`
		// LastUpdate is refreshed by every Update (UTC).
		LastUpdate time.Time `json:"last_update"`
	}

	// IdentifiedSource is one data source selected by classification.
	IdentifiedSource struct {
		// SourceID identifies the registered source.
		SourceID string `json:"source_id"`
		// Kind is the source classification.
		Kind string `json:"kind"`
		// Reasoning explains why classification picked the source.
		Reasoning string `json:"reasoning,omitempty"`
		// Confidence scores the pick in [0,1].
		Confidence float64 `json:"confidence,omitempty"`
	}

	// MetadataBundle is the unified schema snapshot across identified
	// sources, grouped by source kind.
	MetadataBundle struct {
		// Databases maps source kind to its per-kind summary.
		Databases map[string]DatabaseMetadata `json:"databases"`
		// GlobalTables lists qualified tables across all sources.
		GlobalTables []string `json:"global_tables,omitempty"`
		// CommonPatterns summarizes structure shared across sources.
		CommonPatterns CommonPatterns `json:"common_patterns"`
	}

	// DatabaseMetadata summarizes one source kind's schemas.
	DatabaseMetadata struct {
		// Status is "ok" or an error summary when collection failed.
		Status string `json:"status"`
		// KeyTables lists the most relevant tables for the question.
		KeyTables []string `json:"key_tables,omitempty"`
		// ColumnTypeHistogram counts columns by reported type.
		ColumnTypeHistogram map[string]int `json:"column_type_histogram,omitempty"`
		// IndexingInfo maps tables to their indexed columns.
		IndexingInfo map[string][]string `json:"indexing_info,omitempty"`
	}

	// CommonPatterns captures structure shared across sources.
	CommonPatterns struct {
		// CommonTableNames lists table names present in more than one source.
		CommonTableNames []string `json:"common_table_names,omitempty"`
		// CrossDatabaseRelationships lists inferred cross-source joins.
		CrossDatabaseRelationships []string `json:"cross_database_relationships,omitempty"`
	}

	// Step records one node execution.
	Step struct {
		// Node names the executed node.
		Node string `json:"node"`
		// Status is "completed" or "failed".
		Status string `json:"status"`
		// DurationMs is the node's wall-clock time.
		DurationMs int64 `json:"duration_ms"`
		// At is the completion time (UTC).
		At time.Time `json:"at"`
	}

	// OperationResult is the outcome of one scheduled operation.
	OperationResult struct {
		// OperationID echoes the plan operation ID.
		OperationID string `json:"operation_id"`
		// SourceKind echoes the operation's source kind.
		SourceKind string `json:"source_kind"`
		// Status is one of "completed", "failed", or
		// "skipped_due_to_dependency".
		Status string `json:"status"`
		// Rows holds the operation's rows when it completed.
		Rows adapter.Rows `json:"rows,omitempty"`
		// Error describes the failure when Status is "failed".
		Error string `json:"error,omitempty"`
		// Retryable reports whether the failure was retryable.
		Retryable bool `json:"retryable,omitempty"`
		// DurationMs is the operation's wall-clock time.
		DurationMs int64 `json:"duration_ms"`
		// Attempts counts execution attempts including retries.
		Attempts int `json:"attempts,omitempty"`
	}

	// FinalResult is the synthesized answer for the request.
	FinalResult struct {
		// Rows is the combined row set backing the answer.
		Rows adapter.Rows `json:"rows,omitempty"`
		// SQL echoes the primary generated query when one exists.
		SQL string `json:"sql,omitempty"`
		// Analysis is the natural-language synthesis.
		Analysis string `json:"analysis,omitempty"`
		// Success reports whether the run met its success criterion.
		Success bool `json:"success"`
	}

	// ErrorRecord is one failure observed during the run.
	ErrorRecord struct {
		// Node names the node that observed the failure.
		Node string `json:"node,omitempty"`
		// Message is the failure description.
		Message string `json:"message"`
		// At is when the failure was recorded (UTC).
		At time.Time `json:"at"`
	}

	// ToolExecution records one tool invocation.
	ToolExecution struct {
		// Tool names the invoked tool.
		Tool string `json:"tool"`
		// Success reports the invocation outcome.
		Success bool `json:"success"`
		// DurationMs is the invocation's wall-clock time.
		DurationMs int64 `json:"duration_ms"`
		// Detail carries tool-specific result info.
		Detail string `json:"detail,omitempty"`
	}

	// Preferences carries per-request user tuning.
	Preferences struct {
		// MaxParallelOps caps request-level parallelism. Zero uses the
		// scheduler default.
		MaxParallelOps int `json:"max_parallel_ops,omitempty"`
		// Streaming enables streaming output.
		Streaming bool `json:"streaming"`
		// AutoOptimize lets the orchestrator tune future routing.
		AutoOptimize bool `json:"auto_optimize"`
	}

	// QualityThresholds are the targets aggregation checks against.
	QualityThresholds struct {
		// Completeness is the required fraction of planned data collected.
		Completeness float64 `json:"completeness"`
		// Confidence is the required classification confidence.
		Confidence float64 `json:"confidence"`
		// Performance is the target response time in seconds.
		Performance float64 `json:"performance"`
	}

	// Timeouts bounds the run and its operations.
	Timeouts struct {
		// PerOperation bounds each scheduled operation.
		PerOperation time.Duration `json:"per_operation"`
		// Total bounds the whole workflow.
		Total time.Duration `json:"total"`
		// StreamingIdle bounds the gap between streamed events.
		StreamingIdle time.Duration `json:"streaming_idle"`
	}

	// Patch mutates a State under the manager's write lock. Patches must not
	// retain the State pointer past their return.
	Patch func(*State)
)

// DefaultTimeouts returns the workflow timeout defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PerOperation:  30 * time.Second,
		Total:         5 * time.Minute,
		StreamingIdle: 60 * time.Second,
	}
}

// DefaultQuality returns the default quality thresholds.
func DefaultQuality() QualityThresholds {
	return QualityThresholds{Completeness: 0.8, Confidence: 0.7, Performance: 30}
}

// appendEvent adds an event to the stream buffer, dropping the oldest event
// when the buffer is full.
func (s *State) appendEvent(event stream.Event) {
	if len(s.StreamBuffer) >= StreamBufferLimit {
		drop := len(s.StreamBuffer) - StreamBufferLimit + 1
		s.StreamBuffer = append(s.StreamBuffer[:0], s.StreamBuffer[drop:]...)
	}
	s.StreamBuffer = append(s.StreamBuffer, event)
}

// Snapshot returns a small, redacted view of the state suitable for
// node_start events. It never includes rows, schemas, or credentials.
func (s *State) Snapshot() map[string]any {
	snap := map[string]any{
		"session_id":  s.SessionID,
		"kind":        s.Kind,
		"retry_count": s.RetryCount,
	}
	if q := s.Question; q != "" {
		if len(q) > 120 {
			q = q[:120]
		}
		snap["question"] = q
	}
	if n := len(s.IdentifiedSources); n > 0 {
		snap["identified_sources"] = n
	}
	if s.Plan != nil {
		snap["plan_operations"] = len(s.Plan.Operations)
	}
	if n := len(s.OperationResults); n > 0 {
		snap["operation_results"] = n
	}
	return snap
}

// ToolSuccessRate returns the fraction of successful tool executions, or 1
// when none ran.
func (s *State) ToolSuccessRate() float64 {
	if len(s.ToolHistory) == 0 {
		return 1
	}
	ok := 0
	for _, t := range s.ToolHistory {
		if t.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(s.ToolHistory))
}

// clone returns a copy of the state with its own container headers. Nested
// values are shared; callers treat clones as read-only snapshots.
func (s *State) clone() *State {
	out := *s
	out.IdentifiedSources = append([]IdentifiedSource(nil), s.IdentifiedSources...)
	out.AvailableTables = append([]string(nil), s.AvailableTables...)
	out.StepHistory = append([]Step(nil), s.StepHistory...)
	out.ErrorHistory = append([]ErrorRecord(nil), s.ErrorHistory...)
	out.SelectedTools = append([]string(nil), s.SelectedTools...)
	out.ToolHistory = append([]ToolExecution(nil), s.ToolHistory...)
	out.StreamBuffer = append([]stream.Event(nil), s.StreamBuffer...)
	if s.OperationResults != nil {
		out.OperationResults = make(map[string]OperationResult, len(s.OperationResults))
		for k, v := range s.OperationResults {
			out.OperationResults[k] = v
		}
	}
	if s.PartialResults != nil {
		out.PartialResults = make(map[string]any, len(s.PartialResults))
		for k, v := range s.PartialResults {
			out.PartialResults[k] = v
		}
	}
	if s.Metrics != nil {
		out.Metrics = make(map[string]float64, len(s.Metrics))
		for k, v := range s.Metrics {
			out.Metrics[k] = v
		}
	}
	return &out
}
