package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type (
	// Registry maps source kinds to the adapter serving them. Drivers
	// register at startup; the scheduler resolves adapters per operation.
	// Safe for concurrent use.
	Registry struct {
		mu       sync.RWMutex
		adapters map[string]Adapter
	}

	// RetryPolicy bounds retries of retryable driver failures with
	// exponential backoff.
	RetryPolicy struct {
		// MaxAttempts caps total attempts (first call included).
		MaxAttempts int
		// InitialInterval is the first backoff delay.
		InitialInterval time.Duration
		// MaxInterval caps the backoff delay.
		MaxInterval time.Duration
	}
)

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a source kind, replacing any previous binding.
func (r *Registry) Register(kind string, a Adapter) error {
	if kind == "" {
		return fmt.Errorf("source kind is required")
	}
	if a == nil {
		return fmt.Errorf("adapter is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
	return nil
}

// Lookup resolves the adapter for a source kind.
func (r *Registry) Lookup(kind string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered source kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// DefaultRetryPolicy matches the core's error-handling policy: up to three
// attempts with exponential backoff for retryable failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// WithRetry invokes fn, retrying retryable *Error failures per the policy.
// Non-retryable failures and context cancellation are returned immediately.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	var out T
	attempts := 0
	op := func() error {
		attempts++
		var err error
		out, err = fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempts >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	return out, err
}

// Retryable reports whether err is a driver failure worth retrying.
func Retryable(err error) bool {
	var aerr *Error
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Retryable
}
