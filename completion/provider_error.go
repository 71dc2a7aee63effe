package completion

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and failover decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"

	// ProviderErrorKindInvalidRequest indicates the request is invalid and
	// retrying without changing it will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"

	// ProviderErrorKindRateLimited indicates the provider is throttling.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrorKindUnavailable indicates a transient provider failure
	// (5xx, network issues) where a retry may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"

	// ProviderErrorKindUnknown indicates an unclassified failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. It crosses
// package boundaries so the failover service and callers see stable,
// structured information.
type ProviderError struct {
	// Provider is the provider identifier, e.g. "anthropic".
	Provider string
	// Kind is the coarse-grained classification.
	Kind ProviderErrorKind
	// Retryable reports whether retrying may succeed without changing the
	// request.
	Retryable bool
	// Err is the underlying cause.
	Err error
}

// NewProviderError constructs a ProviderError. Retryability defaults from
// the kind: rate-limited and unavailable failures are retryable.
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	retryable := kind == ProviderErrorKindRateLimited || kind == ProviderErrorKindUnavailable
	return &ProviderError{Provider: provider, Kind: kind, Retryable: retryable, Err: err}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Provider, e.Kind)
}

// Unwrap returns the underlying provider error.
func (e *ProviderError) Unwrap() error { return e.Err }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
