package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	clientspulse "github.com/cenecahq/ceneca/features/stream/pulse/clients/pulse"
	"github.com/cenecahq/ceneca/workflow/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sinkMock := &fakeSink{
		ch: eventCh,
		ackFn: func(_ context.Context, evt *streaming.Event) error {
			require.Equal(t, "1-0", evt.ID)
			return nil
		},
	}
	streamMock := &fakeStream{newSinkFn: func(_ context.Context, name string) (clientspulse.Sink, error) {
		require.Equal(t, "ceneca_subscriber", name)
		return sinkMock, nil
	}}
	client := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		require.Equal(t, "session/sess-123", name)
		return streamMock, nil
	}}

	sub, err := NewSubscriber(SubscriberOptions{Client: client, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "session/sess-123")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"type":       "partial_content",
		"session_id": "sess-123",
		"timestamp":  time.Now().UTC(),
		"payload":    map[string]string{"content": "hi"},
	})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	e := <-events
	require.Equal(t, stream.EventPartialContent, e.Type())
	require.Equal(t, "sess-123", e.SessionID())
	body := make(map[string]string)
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, "hi", body["content"])
	require.Empty(t, errs)
}

func TestSubscribeDecoderError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sinkMock := &fakeSink{ch: eventCh}
	streamMock := &fakeStream{newSinkFn: func(context.Context, string) (clientspulse.Sink, error) {
		return sinkMock, nil
	}}
	client := &fakeClient{streamFn: func(string) (clientspulse.Stream, error) { return streamMock, nil }}

	sub, err := NewSubscriber(SubscriberOptions{
		Client: client,
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "session/sess-1")
	require.NoError(t, err)
	defer cancel()
	eventCh <- &streaming.Event{Payload: []byte("{}")}
	close(eventCh)

	require.Empty(t, events)
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
}

func TestWorkflowStreamsWiring(t *testing.T) {
	client := &fakeClient{}
	ws, err := NewWorkflowStreams(WorkflowStreamsOptions{Client: client})
	require.NoError(t, err)
	require.NotNil(t, ws.Sink())

	sub, err := ws.NewSubscriber(SubscriberOptions{})
	require.NoError(t, err)
	require.NotNil(t, sub)

	require.NoError(t, ws.Close(context.Background()))
}

func TestWorkflowStreamsRequireClient(t *testing.T) {
	_, err := NewWorkflowStreams(WorkflowStreamsOptions{})
	require.EqualError(t, err, "pulse client is required")
}
