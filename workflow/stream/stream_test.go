package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/workflow/stream"
)

// memSink collects events for assertions.
type memSink struct {
	mu     sync.Mutex
	events []stream.Event
	closed bool
	fail   error
}

func (s *memSink) Send(_ context.Context, event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) types() []stream.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := make([]stream.EventType, len(s.events))
	for i, e := range s.events {
		ts[i] = e.Type()
	}
	return ts
}

// collect drains a subscription until its channel closes.
func collect(t *testing.T, sub *stream.Subscription) []stream.Event {
	t.Helper()
	var events []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("timed out draining subscription")
		}
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	coord := stream.NewCoordinator()
	sub := coord.Subscribe("s1")

	ctx := context.Background()
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s1", "starting")))
	require.NoError(t, coord.Publish(ctx, stream.NewPartialContent("s1", "hel", 0)))
	require.NoError(t, coord.Publish(ctx, stream.NewPartialContent("s1", "lo", 1)))
	require.NoError(t, coord.Publish(ctx, stream.NewContentComplete("s1", "hello")))
	coord.Finish("s1")

	events := collect(t, sub)
	require.Len(t, events, 4)
	require.Equal(t, stream.EventStatus, events[0].Type())
	require.Equal(t, stream.EventPartialContent, events[1].Type())
	require.Equal(t, stream.EventPartialContent, events[2].Type())
	require.Equal(t, stream.EventContentComplete, events[3].Type())

	final, ok := events[3].(*stream.ContentComplete)
	require.True(t, ok)
	require.Equal(t, "hello", final.Data.Content)
	require.True(t, final.Data.IsFinal)
}

func TestSessionsAreIsolated(t *testing.T) {
	coord := stream.NewCoordinator()
	sub1 := coord.Subscribe("s1")
	sub2 := coord.Subscribe("s2")

	ctx := context.Background()
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s1", "one")))
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s2", "two")))
	coord.Finish("s1")
	coord.Finish("s2")

	events1 := collect(t, sub1)
	events2 := collect(t, sub2)
	require.Len(t, events1, 1)
	require.Equal(t, "s1", events1[0].SessionID())
	require.Len(t, events2, 1)
	require.Equal(t, "s2", events2[0].SessionID())
}

func TestProgressHeartbeatsCoalesced(t *testing.T) {
	coord := stream.NewCoordinator()
	sub := coord.Subscribe("s1")

	// Consumer does not read until everything is published, so queued
	// progress heartbeats pile up behind it.
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, coord.Publish(ctx, stream.NewProgress("s1", "execute", i, 5, "")))
	}
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s1", "done")))
	coord.Finish("s1")

	events := collect(t, sub)
	require.NotEmpty(t, events)
	require.Less(t, len(events), 6, "queued heartbeats should coalesce")

	var lastProgress *stream.Progress
	for _, e := range events {
		if p, ok := e.(*stream.Progress); ok {
			lastProgress = p
		}
	}
	require.NotNil(t, lastProgress)
	require.Equal(t, 5, lastProgress.Data.Completed)
	require.Equal(t, stream.EventStatus, events[len(events)-1].Type())
}

func TestSinksReceiveEveryEvent(t *testing.T) {
	sink := &memSink{}
	coord := stream.NewCoordinator(stream.WithSinks(sink))

	ctx := context.Background()
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s1", "a")))
	require.NoError(t, coord.Publish(ctx, stream.NewStatus("s2", "b")))
	require.Equal(t, []stream.EventType{stream.EventStatus, stream.EventStatus}, sink.types())

	require.NoError(t, coord.Close(ctx))
	require.True(t, sink.closed)
}

func TestSinkFailureSurfacesFromPublish(t *testing.T) {
	boom := errors.New("sink down")
	coord := stream.NewCoordinator(stream.WithSinks(&memSink{fail: boom}))
	err := coord.Publish(context.Background(), stream.NewStatus("s1", "a"))
	require.ErrorIs(t, err, boom)
}

func TestPublishAfterClose(t *testing.T) {
	coord := stream.NewCoordinator()
	require.NoError(t, coord.Close(context.Background()))
	err := coord.Publish(context.Background(), stream.NewStatus("s1", "a"))
	require.ErrorIs(t, err, stream.ErrCoordinatorClosed)
}

func TestCancelDetachesSubscription(t *testing.T) {
	coord := stream.NewCoordinator()
	sub := coord.Subscribe("s1")
	sub.Cancel()
	collect(t, sub)

	// Publishing after cancel must not panic or block.
	require.NoError(t, coord.Publish(context.Background(), stream.NewStatus("s1", "a")))
}

func TestRunLifecycle(t *testing.T) {
	coord := stream.NewCoordinator()
	sub := coord.Subscribe("s1")

	err := stream.Run(context.Background(), coord, "s1", "top customers?", "traditional",
		func(_ context.Context, emit stream.Emitter) error {
			emit(stream.NewStatus("s1", "classifying"))
			return nil
		})
	require.NoError(t, err)

	events := collect(t, sub)
	require.Len(t, events, 3)
	require.Equal(t, stream.EventWorkflowStart, events[0].Type())
	require.Equal(t, stream.EventStatus, events[1].Type())
	require.Equal(t, stream.EventWorkflowComplete, events[2].Type())

	start, ok := events[0].(*stream.WorkflowStart)
	require.True(t, ok)
	require.Equal(t, "top customers?", start.Data.Question)
}

func TestRunPublishesWorkflowError(t *testing.T) {
	coord := stream.NewCoordinator()
	sub := coord.Subscribe("s1")

	boom := errors.New("planner failed")
	err := stream.Run(context.Background(), coord, "s1", "q", "",
		func(context.Context, stream.Emitter) error { return boom })
	require.ErrorIs(t, err, boom)

	events := collect(t, sub)
	require.Equal(t, stream.EventWorkflowError, events[len(events)-1].Type())
	we, ok := events[len(events)-1].(*stream.WorkflowError)
	require.True(t, ok)
	require.True(t, we.Data.IsFinal)
	require.Equal(t, "planner failed", we.Data.Error)
}

func TestRunNodeOrdering(t *testing.T) {
	var got []stream.Event
	emit := func(e stream.Event) { got = append(got, e) }

	err := stream.RunNode(context.Background(), emit, "s1", "analyze",
		map[string]any{"question": "q"},
		func(_ context.Context, emit stream.Emitter) (string, error) {
			emit(stream.NewAnalysisChunk("s1", "partial", 0))
			return "42 rows", nil
		})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, stream.EventNodeStart, got[0].Type())
	require.Equal(t, stream.EventAnalysisChunk, got[1].Type())
	require.Equal(t, stream.EventNodeComplete, got[2].Type())

	start, ok := got[0].(*stream.NodeStart)
	require.True(t, ok)
	require.Equal(t, "analyze", start.Data.Node)
	require.Equal(t, "q", start.Data.State["question"])

	done, ok := got[2].(*stream.NodeComplete)
	require.True(t, ok)
	require.Equal(t, "42 rows", done.Data.ResultPreview)
	require.GreaterOrEqual(t, done.Data.DurationMs, int64(0))
}

func TestRunNodeError(t *testing.T) {
	var got []stream.Event
	emit := func(e stream.Event) { got = append(got, e) }

	boom := errors.New("adapter timeout")
	err := stream.RunNode(context.Background(), emit, "s1", "execute", nil,
		func(context.Context, stream.Emitter) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	require.Len(t, got, 2)
	require.Equal(t, stream.EventNodeStart, got[0].Type())
	require.Equal(t, stream.EventNodeError, got[1].Type())
	ne, ok := got[1].(*stream.NodeError)
	require.True(t, ok)
	require.Equal(t, "adapter timeout", ne.Data.Error)
}
