package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/completion"
)

type stubClient struct {
	err   error
	calls int
}

func (s *stubClient) Complete(context.Context, completion.Request) (*completion.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &completion.Response{Text: "ok"}, nil
}

func (s *stubClient) Stream(context.Context, completion.Request) (completion.Streamer, error) {
	return nil, completion.ErrStreamingUnsupported
}

func smallReq() completion.Request {
	return completion.Request{Messages: []completion.Message{{Role: completion.RoleUser, Content: "hi"}}}
}

func TestPassesThroughWithinBudget(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(600000, 600000)
	stub := &stubClient{}
	client := limiter.Middleware()(stub)

	resp, err := client.Complete(context.Background(), smallReq())
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, 1, stub.calls)
}

func TestBackoffOnRateLimit(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(600000, 600000)
	stub := &stubClient{err: fmt.Errorf("%w: 429", completion.ErrRateLimited)}
	client := limiter.Middleware()(stub)

	before := limiter.CurrentTPM()
	_, err := client.Complete(context.Background(), smallReq())
	require.Error(t, err)
	require.Less(t, limiter.CurrentTPM(), before)
}

func TestNoBackoffOnOtherErrors(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(600000, 600000)
	stub := &stubClient{err: errors.New("boom")}
	client := limiter.Middleware()(stub)

	before := limiter.CurrentTPM()
	_, err := client.Complete(context.Background(), smallReq())
	require.Error(t, err)
	require.Equal(t, before, limiter.CurrentTPM())
}

func TestProbeGrowsBudget(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(600000, 1200000)
	stub := &stubClient{}
	client := limiter.Middleware()(stub)

	before := limiter.CurrentTPM()
	_, err := client.Complete(context.Background(), smallReq())
	require.NoError(t, err)
	require.Greater(t, limiter.CurrentTPM(), before)
}

func TestContextCancelledWhileWaiting(t *testing.T) {
	// A tiny budget forces WaitN to block; a cancelled context must fail
	// fast without calling the client.
	limiter := NewAdaptiveRateLimiter(1, 1)
	stub := &stubClient{}
	client := limiter.Middleware()(stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, smallReq())
	require.Error(t, err)
	require.Zero(t, stub.calls)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 500, estimateTokens(completion.Request{}))
	req := completion.Request{Messages: []completion.Message{{Content: string(make([]byte, 3000))}}}
	require.Equal(t, 1500, estimateTokens(req))
}
