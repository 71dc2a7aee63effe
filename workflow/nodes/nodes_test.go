package nodes_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

// recorder collects emitted events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) emit(e stream.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []stream.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]stream.EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type()
	}
	return types
}

// fakeCompleter scripts a completion response for model-assisted nodes.
type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(context.Context, completion.Request) (*completion.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Response{Text: f.text}, nil
}

// fakeNode is a scripted phase node.
type fakeNode struct {
	name    string
	patch   state.Patch
	preview string
	err     error
}

func (f *fakeNode) Name() string { return f.name }

func (f *fakeNode) Run(context.Context, *state.State, stream.Emitter) (state.Patch, string, error) {
	return f.patch, f.preview, f.err
}

func newSession(t *testing.T, question string) (*state.Manager, string) {
	t.Helper()
	mgr := state.NewManager()
	id, err := mgr.CreateGraphSession(question, "analysis", "")
	require.NoError(t, err)
	return mgr, id
}

func TestRunnerAppliesPatchAndRecordsStep(t *testing.T) {
	mgr, id := newSession(t, "total revenue")
	runner, err := nodes.NewRunner(mgr)
	require.NoError(t, err)

	node := &fakeNode{
		name:    "classification",
		patch:   func(s *state.State) { s.Kind = "patched" },
		preview: "2 sources identified",
	}
	rec := &recorder{}
	require.NoError(t, runner.Run(context.Background(), id, node, rec.emit))

	s := mgr.Get(id)
	require.Equal(t, "patched", s.Kind)
	require.Len(t, s.StepHistory, 1)
	require.Equal(t, "classification", s.StepHistory[0].Node)
	require.Equal(t, "completed", s.StepHistory[0].Status)

	require.Equal(t, []stream.EventType{stream.EventNodeStart, stream.EventNodeComplete}, rec.types())
}

func TestRunnerFailedNodeLeavesStateUnmodified(t *testing.T) {
	mgr, id := newSession(t, "total revenue")
	runner, err := nodes.NewRunner(mgr)
	require.NoError(t, err)

	boom := errors.New("boom")
	node := &fakeNode{
		name:  "planning",
		patch: func(s *state.State) { s.Kind = "should not apply" },
		err:   boom,
	}
	rec := &recorder{}
	err = runner.Run(context.Background(), id, node, rec.emit)
	require.ErrorIs(t, err, boom)
	var nerr *nodes.Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "planning", nerr.Node)

	s := mgr.Get(id)
	require.Equal(t, "analysis", s.Kind)
	require.Len(t, s.ErrorHistory, 1)
	require.Equal(t, "planning", s.ErrorHistory[0].Node)
	require.Len(t, s.StepHistory, 1)
	require.Equal(t, "failed", s.StepHistory[0].Status)

	require.Equal(t, []stream.EventType{stream.EventNodeStart, stream.EventNodeError}, rec.types())
}

func TestRunnerUnknownSession(t *testing.T) {
	runner, err := nodes.NewRunner(state.NewManager())
	require.NoError(t, err)

	err = runner.Run(context.Background(), "nope", &fakeNode{name: "metadata"}, func(stream.Event) {})
	require.ErrorIs(t, err, nodes.ErrUnknownSession)
}

func TestCrossSource(t *testing.T) {
	require.False(t, nodes.CrossSource(nil))
	require.False(t, nodes.CrossSource([]state.IdentifiedSource{
		{SourceID: "a", Kind: "relational"},
		{SourceID: "b", Kind: "relational"},
	}))
	require.True(t, nodes.CrossSource([]state.IdentifiedSource{
		{SourceID: "a", Kind: "relational"},
		{SourceID: "b", Kind: "document"},
	}))
}
