package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ Adapter }

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register("", stubAdapter{}))
	require.Error(t, r.Register("relational", nil))

	require.NoError(t, r.Register("relational", stubAdapter{}))
	require.NoError(t, r.Register("vector", stubAdapter{}))

	_, ok := r.Lookup("relational")
	require.True(t, ok)
	_, ok = r.Lookup("document")
	require.False(t, ok)
	require.Equal(t, []string{"relational", "vector"}, r.Kinds())
}

func TestWithRetryRetriesRetryable(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	calls := 0
	out, err := WithRetry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewError(ErrTimeout, "slow source", nil)
		}
		return "rows", nil
	})
	require.NoError(t, err)
	require.Equal(t, "rows", out)
	require.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialInterval = time.Millisecond
	calls := 0
	_, err := WithRetry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		return "", NewError(ErrBadRequest, "malformed query", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, ErrBadRequest, aerr.Kind)
	require.False(t, aerr.Retryable)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	calls := 0
	_, err := WithRetry(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		return "", NewError(ErrRateLimited, "429", nil)
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestDefaultRetryability(t *testing.T) {
	for kind, want := range map[ErrorKind]bool{
		ErrTimeout:     true,
		ErrConnect:     true,
		ErrRateLimited: true,
		ErrAuth:        false,
		ErrBadRequest:  false,
		ErrNotFound:    false,
		ErrInternal:    false,
	} {
		require.Equal(t, want, NewError(kind, "", nil).Retryable, "kind %s", kind)
	}
}
