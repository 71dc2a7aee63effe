package stream

import (
	"context"
	"time"
)

// Emitter publishes a single event. Emitters returned by Run already carry
// the session ID and swallow delivery errors so node logic stays clean;
// delivery failures surface through sink logging instead.
type Emitter func(Event)

// Run drives one workflow execution under the streaming contract: it
// publishes workflow_start, invokes fn with an emitter bound to the
// session, then publishes workflow_complete or workflow_error depending on
// the outcome. Subscriptions for the session are finished afterwards so
// consumer channels close once queued events drain.
//
// Run returns fn's error unchanged.
func Run(ctx context.Context, c *Coordinator, sessionID, question, route string, fn func(ctx context.Context, emit Emitter) error) error {
	emit := func(event Event) {
		_ = c.Publish(ctx, event)
	}
	emit(NewWorkflowStart(sessionID, question, route))
	err := fn(ctx, emit)
	if err != nil {
		emit(NewWorkflowError(sessionID, err))
	} else {
		emit(NewWorkflowComplete(sessionID, "completed"))
	}
	c.Finish(sessionID)
	return err
}

// RunNode executes one node under the per-node ordering guarantee:
// node_start precedes any events fn emits, which precede node_complete or
// node_error. The snapshot attached to node_start must already be redacted;
// RunNode does not inspect it.
//
// fn returns a short preview of the node's result for the node_complete
// payload. RunNode returns fn's error unchanged.
func RunNode(ctx context.Context, emit Emitter, sessionID, node string, snapshot map[string]any, fn func(ctx context.Context, emit Emitter) (string, error)) error {
	emit(NewNodeStart(sessionID, node, snapshot))
	start := time.Now()
	preview, err := fn(ctx, emit)
	if err != nil {
		emit(NewNodeError(sessionID, node, err))
		return err
	}
	emit(NewNodeComplete(sessionID, node, preview, time.Since(start)))
	return nil
}
