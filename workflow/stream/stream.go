// Package stream provides abstractions for delivering real-time workflow
// execution updates to clients. Stream events are client-facing updates
// (routing decisions, node progress, partial analysis text); internal
// telemetry stays on the telemetry package.
//
// All event types implement the Event interface and can be safely sent
// concurrently through a Sink implementation. Implementations are
// responsible for marshaling events into their wire format (JSON for SSE,
// Pulse envelopes for Redis streams).
package stream

import (
	"context"
	"time"
)

type (
	// Sink delivers streaming updates to clients over a transport (SSE,
	// channel, Pulse). Implementations must be thread-safe: the scheduler
	// sends events concurrently while operations execute in parallel.
	Sink interface {
		// Send publishes an event to the sink's underlying transport.
		// Send returns an error when delivery fails (connection closed,
		// serialization error, transport unavailable).
		//
		// Thread-safe: safe to call concurrently from multiple
		// goroutines.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. After Close
		// returns, subsequent Send calls must return errors. Close is
		// idempotent. The context bounds graceful shutdown; when it
		// expires, implementations abort immediately, potentially
		// dropping unflushed events.
		Close(ctx context.Context) error
	}

	// Event describes a streaming event delivered to clients through a
	// Sink. All concrete event types embed Base to provide the standard
	// envelope (type, session ID, timestamp, payload). Sinks use the Event
	// interface to marshal events generically; consumers type-assert to
	// concrete types when they need structured field access.
	//
	// Implementations are immutable after construction and safe to send
	// concurrently.
	Event interface {
		// Type returns the event type constant (e.g., EventNodeStart).
		Type() EventType

		// SessionID returns the workflow session that produced this
		// event. All events within a single execution share the same
		// session ID.
		SessionID() string

		// Timestamp returns when the event was produced (UTC).
		Timestamp() time.Time

		// Payload returns the event-specific data in a
		// JSON-serializable form.
		Payload() any
	}

	// Status reports a coarse execution status update.
	Status struct {
		Base
		Data StatusPayload
	}

	// PartialContent streams incremental response text. Clients
	// concatenate Data.Content from sequential events to reconstruct the
	// full message.
	PartialContent struct {
		Base
		Data PartialContentPayload
	}

	// ContentComplete carries the final assembled response text.
	ContentComplete struct {
		Base
		Data ContentCompletePayload
	}

	// Progress reports phase completion counts. Successive Progress
	// events for a slow consumer may be coalesced into the latest one.
	Progress struct {
		Base
		Data ProgressPayload
	}

	// AnalysisChunk streams incremental analysis text from a natively
	// streaming node.
	AnalysisChunk struct {
		Base
		Data AnalysisChunkPayload
	}

	// Error reports a terminal execution failure.
	Error struct {
		Base
		Data ErrorPayload
	}

	// RoutingDecision reports the tier chosen for a question.
	RoutingDecision struct {
		Base
		Data RoutingDecisionPayload
	}

	// NodeStart signals a workflow node beginning execution. For a single
	// node, NodeStart precedes all of the node's chunks, which precede
	// NodeComplete or NodeError.
	NodeStart struct {
		Base
		Data NodeStartPayload
	}

	// NodeComplete signals a workflow node finishing successfully.
	NodeComplete struct {
		Base
		Data NodeCompletePayload
	}

	// NodeError signals a workflow node failing.
	NodeError struct {
		Base
		Data NodeErrorPayload
	}

	// OperationComplete signals a scheduled operation finishing.
	OperationComplete struct {
		Base
		Data OperationCompletePayload
	}

	// OperationError signals a scheduled operation failing or being skipped
	// because a dependency failed.
	OperationError struct {
		Base
		Data OperationErrorPayload
	}

	// WorkflowStart signals the beginning of a workflow execution.
	WorkflowStart struct {
		Base
		Data WorkflowStartPayload
	}

	// WorkflowComplete signals a successful workflow execution. It is the
	// final event of a successful run.
	WorkflowComplete struct {
		Base
		Data WorkflowCompletePayload
	}

	// WorkflowError signals a failed workflow execution. It is the final
	// event of a failed run.
	WorkflowError struct {
		Base
		Data WorkflowErrorPayload
	}

	// StatusPayload is the typed wire payload for status events.
	StatusPayload struct {
		Message string `json:"message"`
	}

	// PartialContentPayload is the typed wire payload for partial content.
	PartialContentPayload struct {
		Content string `json:"content"`
		Index   int    `json:"chunk_index"`
	}

	// ContentCompletePayload is the typed wire payload for the final
	// response text.
	ContentCompletePayload struct {
		Content string `json:"content"`
		IsFinal bool   `json:"is_final"`
	}

	// ProgressPayload is the typed wire payload for progress heartbeats.
	ProgressPayload struct {
		Phase     string `json:"phase"`
		Completed int    `json:"completed"`
		Total     int    `json:"total"`
		Message   string `json:"message,omitempty"`
	}

	// AnalysisChunkPayload is the typed wire payload for analysis chunks.
	AnalysisChunkPayload struct {
		Text  string `json:"text"`
		Index int    `json:"chunk_index"`
	}

	// ErrorPayload is the typed wire payload for error events.
	ErrorPayload struct {
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
		IsFinal bool   `json:"is_final"`
	}

	// RoutingDecisionPayload is the typed wire payload for routing
	// decisions.
	RoutingDecisionPayload struct {
		Tier            string  `json:"tier"`
		Confidence      float64 `json:"confidence"`
		Reasoning       string  `json:"reasoning"`
		EstimatedTimeMs int64   `json:"estimated_time_ms"`
		OperationType   string  `json:"operation_type"`
	}

	// NodeStartPayload is the typed wire payload for node starts. State
	// carries a small, redacted snapshot of the workflow state; values
	// like credentials and raw rows never appear here.
	NodeStartPayload struct {
		Node  string         `json:"node"`
		State map[string]any `json:"state,omitempty"`
	}

	// NodeCompletePayload is the typed wire payload for node completions.
	NodeCompletePayload struct {
		Node          string `json:"node"`
		ResultPreview string `json:"result_preview,omitempty"`
		DurationMs    int64  `json:"duration_ms"`
	}

	// NodeErrorPayload is the typed wire payload for node failures.
	NodeErrorPayload struct {
		Node  string `json:"node"`
		Error string `json:"error"`
	}

	// OperationCompletePayload is the typed wire payload for operation
	// completions.
	OperationCompletePayload struct {
		OperationID string `json:"operation_id"`
		SourceKind  string `json:"source_kind"`
		Rows        int    `json:"rows"`
		DurationMs  int64  `json:"duration_ms"`
	}

	// OperationErrorPayload is the typed wire payload for operation
	// failures. Status distinguishes hard failures from dependency skips.
	OperationErrorPayload struct {
		OperationID string `json:"operation_id"`
		SourceKind  string `json:"source_kind"`
		Status      string `json:"status"`
		Error       string `json:"error,omitempty"`
	}

	// WorkflowStartPayload is the typed wire payload for workflow starts.
	WorkflowStartPayload struct {
		Question string `json:"question"`
		Route    string `json:"route,omitempty"`
	}

	// WorkflowCompletePayload is the typed wire payload for workflow
	// completions.
	WorkflowCompletePayload struct {
		Status  string `json:"status"`
		IsFinal bool   `json:"is_final"`
	}

	// WorkflowErrorPayload is the typed wire payload for workflow
	// failures.
	WorkflowErrorPayload struct {
		Error   string `json:"error"`
		IsFinal bool   `json:"is_final"`
	}

	// Base provides a default implementation of Event. Embed this struct
	// in concrete event types to inherit the Type(), SessionID(),
	// Timestamp(), and Payload() methods.
	//
	// Field names are abbreviated to minimize visual clutter when
	// constructing events, since Base fields are rarely accessed directly.
	Base struct {
		// t is the event type constant.
		t EventType
		// s is the workflow session identifier.
		s string
		// ts is the event production time (UTC).
		ts time.Time
		// p is the JSON-serializable payload returned by Payload().
		p any
	}
)

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventStatus reports a coarse execution status update.
	EventStatus EventType = "status"

	// EventPartialContent streams incremental response text.
	EventPartialContent EventType = "partial_content"

	// EventContentComplete carries the final response text.
	EventContentComplete EventType = "content_complete"

	// EventProgress reports phase completion heartbeats.
	EventProgress EventType = "progress"

	// EventAnalysisChunk streams incremental analysis text.
	EventAnalysisChunk EventType = "analysis_chunk"

	// EventError reports a terminal failure.
	EventError EventType = "error"

	// EventRoutingDecision reports the chosen execution tier.
	EventRoutingDecision EventType = "routing_decision"

	// EventNodeStart signals a node beginning execution.
	EventNodeStart EventType = "node_start"

	// EventNodeComplete signals a node finishing successfully.
	EventNodeComplete EventType = "node_complete"

	// EventNodeError signals a node failing.
	EventNodeError EventType = "node_error"

	// EventOperationComplete signals a scheduled operation finishing.
	EventOperationComplete EventType = "operation_complete"

	// EventOperationError signals a scheduled operation failing.
	EventOperationError EventType = "operation_error"

	// EventWorkflowStart signals the beginning of an execution.
	EventWorkflowStart EventType = "workflow_start"

	// EventWorkflowComplete signals a successful execution.
	EventWorkflowComplete EventType = "workflow_complete"

	// EventWorkflowError signals a failed execution.
	EventWorkflowError EventType = "workflow_error"
)

// NewBase constructs a Base event with the given type, session ID, and
// payload, stamped with the current UTC time.
func NewBase(t EventType, sessionID string, payload any) Base {
	return Base{t: t, s: sessionID, ts: time.Now().UTC(), p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// SessionID implements Event.SessionID.
func (e Base) SessionID() string { return e.s }

// Timestamp implements Event.Timestamp.
func (e Base) Timestamp() time.Time { return e.ts }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// Event constructors. Each stamps the envelope and pairs it with the typed
// payload.

// NewStatus builds a status event.
func NewStatus(sessionID, message string) *Status {
	p := StatusPayload{Message: message}
	return &Status{Base: NewBase(EventStatus, sessionID, p), Data: p}
}

// NewPartialContent builds a partial content event.
func NewPartialContent(sessionID, content string, index int) *PartialContent {
	p := PartialContentPayload{Content: content, Index: index}
	return &PartialContent{Base: NewBase(EventPartialContent, sessionID, p), Data: p}
}

// NewContentComplete builds a final content event.
func NewContentComplete(sessionID, content string) *ContentComplete {
	p := ContentCompletePayload{Content: content, IsFinal: true}
	return &ContentComplete{Base: NewBase(EventContentComplete, sessionID, p), Data: p}
}

// NewProgress builds a progress heartbeat.
func NewProgress(sessionID, phase string, completed, total int, message string) *Progress {
	p := ProgressPayload{Phase: phase, Completed: completed, Total: total, Message: message}
	return &Progress{Base: NewBase(EventProgress, sessionID, p), Data: p}
}

// NewAnalysisChunk builds an analysis chunk event.
func NewAnalysisChunk(sessionID, text string, index int) *AnalysisChunk {
	p := AnalysisChunkPayload{Text: text, Index: index}
	return &AnalysisChunk{Base: NewBase(EventAnalysisChunk, sessionID, p), Data: p}
}

// NewError builds a terminal error event.
func NewError(sessionID, message, detail string) *Error {
	p := ErrorPayload{Message: message, Detail: detail, IsFinal: true}
	return &Error{Base: NewBase(EventError, sessionID, p), Data: p}
}

// NewRoutingDecision builds a routing decision event.
func NewRoutingDecision(sessionID string, p RoutingDecisionPayload) *RoutingDecision {
	return &RoutingDecision{Base: NewBase(EventRoutingDecision, sessionID, p), Data: p}
}

// NewNodeStart builds a node start event with a redacted state snapshot.
func NewNodeStart(sessionID, node string, snapshot map[string]any) *NodeStart {
	p := NodeStartPayload{Node: node, State: snapshot}
	return &NodeStart{Base: NewBase(EventNodeStart, sessionID, p), Data: p}
}

// NewNodeComplete builds a node completion event.
func NewNodeComplete(sessionID, node, preview string, duration time.Duration) *NodeComplete {
	p := NodeCompletePayload{Node: node, ResultPreview: preview, DurationMs: duration.Milliseconds()}
	return &NodeComplete{Base: NewBase(EventNodeComplete, sessionID, p), Data: p}
}

// NewNodeError builds a node failure event.
func NewNodeError(sessionID, node string, err error) *NodeError {
	p := NodeErrorPayload{Node: node}
	if err != nil {
		p.Error = err.Error()
	}
	return &NodeError{Base: NewBase(EventNodeError, sessionID, p), Data: p}
}

// NewOperationComplete builds an operation completion event.
func NewOperationComplete(sessionID string, p OperationCompletePayload) *OperationComplete {
	return &OperationComplete{Base: NewBase(EventOperationComplete, sessionID, p), Data: p}
}

// NewOperationError builds an operation failure event.
func NewOperationError(sessionID string, p OperationErrorPayload) *OperationError {
	return &OperationError{Base: NewBase(EventOperationError, sessionID, p), Data: p}
}

// NewWorkflowStart builds a workflow start event.
func NewWorkflowStart(sessionID, question, route string) *WorkflowStart {
	p := WorkflowStartPayload{Question: question, Route: route}
	return &WorkflowStart{Base: NewBase(EventWorkflowStart, sessionID, p), Data: p}
}

// NewWorkflowComplete builds a workflow completion event.
func NewWorkflowComplete(sessionID, status string) *WorkflowComplete {
	p := WorkflowCompletePayload{Status: status, IsFinal: true}
	return &WorkflowComplete{Base: NewBase(EventWorkflowComplete, sessionID, p), Data: p}
}

// NewWorkflowError builds a workflow failure event.
func NewWorkflowError(sessionID string, err error) *WorkflowError {
	p := WorkflowErrorPayload{IsFinal: true}
	if err != nil {
		p.Error = err.Error()
	}
	return &WorkflowError{Base: NewBase(EventWorkflowError, sessionID, p), Data: p}
}
