// Package pulse exposes a stream.Sink implementation that publishes workflow
// events to goa.design/pulse streams. It mirrors the layering used by existing
// Pulse deployments: services build a Redis client, pass it to the Pulse
// client, and hand the resulting sink to the workflow stream coordinator.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	clientspulse "github.com/cenecahq/ceneca/features/stream/pulse/clients/pulse"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to `session/<SessionID>`.
		StreamID func(stream.Event) (string, error)
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(envelope) ([]byte, error)
		// OnPublished is invoked after each successful publish with the event,
		// its Redis entry ID, and the stream it landed on. Errors returned by
		// the hook propagate to Send callers.
		OnPublished func(ctx context.Context, ev PublishedEvent) error
	}

	// PublishedEvent describes an event that was published to a Pulse stream.
	PublishedEvent struct {
		// Event is the workflow event that was published.
		Event stream.Event
		// EntryID is the Redis-assigned stream entry ID (e.g., "1234567890-0").
		EntryID string
		// StreamID names the Pulse stream the event was published to.
		StreamID string
	}

	// Sink publishes workflow Event values into Pulse streams. It delegates
	// serialization to the configured envelope marshaler.
	// Thread-safe for concurrent Send operations.
	Sink struct {
		client clientspulse.Client
		opts   sinkOptions
	}

	// sinkOptions holds internal configuration derived from Options.
	sinkOptions struct {
		streamID        func(stream.Event) (string, error)
		marshalEnvelope func(envelope) ([]byte, error)
		onPublished     func(ctx context.Context, ev PublishedEvent) error
	}

	// envelope wraps workflow events for transmission over Pulse streams.
	// It adds metadata and serializes the event content as JSON.
	envelope struct {
		// Type identifies the event kind (e.g., "node_start", "partial_content").
		Type string `json:"type"`
		// SessionID links the event to a specific workflow execution.
		SessionID string `json:"session_id"`
		// Timestamp records when the event was produced (UTC).
		Timestamp string `json:"timestamp"`
		// Payload contains the event-specific data, if any.
		Payload any `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed stream sink. The Client field in opts is
// required; StreamID and MarshalEnvelope default to the built-in
// implementations if not provided.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{
		client: opts.Client,
		opts:   cfg,
	}, nil
}

// Send publishes the event to the derived Pulse stream. It derives the stream
// ID, wraps the event in an envelope, marshals it to JSON, and publishes it
// via the Pulse client. Thread-safe for concurrent calls.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(event.Type()),
		SessionID: event.SessionID(),
		Timestamp: event.Timestamp().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:   event.Payload(),
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	id, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if s.opts.onPublished != nil {
		return s.opts.onPublished(ctx, PublishedEvent{Event: event, EntryID: id, StreamID: streamID})
	}
	return nil
}

// Close releases resources owned by the sink. This delegates to the underlying
// Pulse client, which may or may not close the Redis connection depending on
// the client implementation.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's SessionID.
// Returns an error if the SessionID is empty.
func defaultStreamID(event stream.Event) (string, error) {
	if event.SessionID() == "" {
		return "", errors.New("stream event missing session id")
	}
	return fmt.Sprintf("session/%s", event.SessionID()), nil
}

// defaultMarshal serializes an envelope to JSON.
func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
