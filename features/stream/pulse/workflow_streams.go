package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/cenecahq/ceneca/features/stream/pulse/clients/pulse"
	"github.com/cenecahq/ceneca/workflow/stream"
)

// WorkflowStreams wires a caller-provided Pulse client into the workflow
// engine. It owns a publishing sink (attached to the stream coordinator via
// stream.WithSinks) and can spawn subscribers that reuse the same client so
// services do not need to manage multiple Pulse connections.
type WorkflowStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// WorkflowStreamsOptions configures the helper returned by NewWorkflowStreams.
type WorkflowStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It is
	// required and typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID derivation,
	// marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewWorkflowStreams constructs helpers for publishing workflow events to
// Pulse and subscribing to the resulting streams. Callers attach the returned
// sink to the stream coordinator and keep the helper around to create
// subscribers (e.g., SSE fan-out across instances) later on.
func NewWorkflowStreams(opts WorkflowStreamsOptions) (*WorkflowStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &WorkflowStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can attach it to the stream
// coordinator.
func (w *WorkflowStreams) Sink() stream.Sink {
	return w.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool for efficiency.
func (w *WorkflowStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = w.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (w *WorkflowStreams) Close(ctx context.Context) error {
	return w.sink.Close(ctx)
}
