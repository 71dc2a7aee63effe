package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/cenecahq/ceneca/features/stream/pulse/clients/pulse"
	"github.com/cenecahq/ceneca/workflow/stream"
)

type (
	// fakeClient scripts the Pulse client surface for sink tests.
	fakeClient struct {
		streamFn func(name string) (clientspulse.Stream, error)
		closeFn  func(ctx context.Context) error
	}

	fakeStream struct {
		addFn     func(ctx context.Context, event string, payload []byte) (string, error)
		newSinkFn func(ctx context.Context, name string) (clientspulse.Sink, error)
	}

	fakeSink struct {
		ch    chan *streaming.Event
		ackFn func(ctx context.Context, evt *streaming.Event) error
	}
)

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	return c.streamFn(name)
}

func (c *fakeClient) Close(ctx context.Context) error {
	if c.closeFn != nil {
		return c.closeFn(ctx)
	}
	return nil
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return s.addFn(ctx, event, payload)
}

func (s *fakeStream) NewSink(ctx context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	return s.newSinkFn(ctx, name)
}

func (s *fakeStream) Destroy(context.Context) error { return nil }

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error {
	if s.ackFn != nil {
		return s.ackFn(ctx, evt)
	}
	return nil
}

func (s *fakeSink) Close(context.Context) {}

func TestSendPublishesEnvelope(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		require.Equal(t, "session/sess-123", name)
		return str, nil
	}}
	str.addFn = func(_ context.Context, event string, payload []byte) (string, error) {
		require.Equal(t, string(stream.EventNodeStart), event)
		var env envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		require.Equal(t, "sess-123", env.SessionID)
		require.Equal(t, "node_start", env.Type)
		require.NotEmpty(t, env.Timestamp)
		body, ok := env.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "classify", body["node"])
		return "1-0", nil
	}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), stream.NewNodeStart("sess-123", "classify", nil)))
}

func TestOnPublishedCalled(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "42-0", nil
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}

	var got PublishedEvent
	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(ctx context.Context, ev PublishedEvent) error {
			require.NotNil(t, ctx)
			got = ev
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), stream.NewStatus("sess-1", "planning")))
	require.Equal(t, "42-0", got.EntryID)
	require.Equal(t, "session/sess-1", got.StreamID)
	require.Equal(t, stream.EventStatus, got.Event.Type())
}

func TestOnPublishedErrorPropagates(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}

	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(context.Context, PublishedEvent) error {
			return errors.New("after-publish")
		},
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.NewStatus("sess-1", "planning"))
	require.EqualError(t, err, "after-publish")
}

func TestCustomStreamID(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "1-0", nil
	}}
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		require.Equal(t, "custom/sess-1", name)
		return str, nil
	}}
	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(e stream.Event) (string, error) {
			return "custom/" + e.SessionID(), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), stream.NewStatus("sess-1", "planning")))
}

func TestSendRequiresSessionID(t *testing.T) {
	sink, err := NewSink(Options{Client: &fakeClient{}})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewStatus("", "planning"))
	require.EqualError(t, err, "stream event missing session id")
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) {
		return nil, errors.New("boom")
	}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewStatus("sess-1", "planning"))
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	str := &fakeStream{addFn: func(context.Context, string, []byte) (string, error) {
		return "", errors.New("add-failed")
	}}
	cli := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return str, nil }}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewStatus("sess-1", "planning"))
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	called := false
	cli := &fakeClient{closeFn: func(ctx context.Context) error {
		require.NotNil(t, ctx)
		called = true
		return nil
	}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, called)
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.EqualError(t, err, "pulse client is required")
}
