// Package adapter defines the contract every data-source driver implements.
//
// The core never talks to a data store directly: classification discovers
// which sources matter, the metadata node collects their schemas through
// GetMetadata, and the execution scheduler dispatches operations through
// RunTargeted and friends. Drivers own no cross-request state and must be
// safe for concurrent dispatch.
//
// All calls are cancellable and must respect the deadline carried by the
// context. Failures are surfaced as *Error with a stable kind so the
// scheduler can decide between retrying, failing the operation, and skipping
// dependents.
package adapter

import (
	"context"
	"fmt"
	"time"
)

type (
	// Rows is the uniform row shape returned by drivers. Column order is
	// driver-defined; the core treats rows as opaque JSON objects.
	Rows []map[string]any

	// TableSchema describes one table or collection as reported by a driver.
	TableSchema struct {
		// Name is the table or collection name.
		Name string `json:"name"`
		// Columns maps column/field names to driver-reported types.
		Columns map[string]string `json:"columns"`
		// RowCount is the approximate row count when the driver knows it.
		RowCount int64 `json:"row_count,omitempty"`
		// Indexes lists indexed columns when available.
		Indexes []string `json:"indexes,omitempty"`
	}

	// SchemaBundle is the metadata snapshot a driver returns for a source.
	SchemaBundle struct {
		// SourceID identifies the source the bundle describes.
		SourceID string `json:"source_id"`
		// Kind is the source classification.
		Kind string `json:"kind"`
		// Tables holds the per-table schemas, ordered by name.
		Tables []TableSchema `json:"tables"`
		// CollectedAt records when the snapshot was taken (UTC).
		CollectedAt time.Time `json:"collected_at"`
	}

	// Statistics summarizes a table: per-column aggregates produced by
	// RunSummary. The shape is driver-defined; common keys include "count",
	// "min", "max", "mean", and "distinct".
	Statistics map[string]map[string]any

	// SampleMethod selects how SampleData picks rows.
	SampleMethod string

	// InsightKind selects what GenerateInsights looks for.
	InsightKind string

	// Insight is one finding produced by GenerateInsights.
	Insight struct {
		// Kind echoes the requested insight kind.
		Kind InsightKind `json:"kind"`
		// Description is a human-readable summary of the finding.
		Description string `json:"description"`
		// Score ranks the finding within its kind (higher is stronger).
		Score float64 `json:"score,omitempty"`
		// Data carries structured supporting detail.
		Data map[string]any `json:"data,omitempty"`
	}

	// Adapter is the uniform driver interface. Implementations register with
	// a Registry at startup and must be safe for concurrent use.
	Adapter interface {
		// GetMetadata returns the schema bundle for the source. When tables
		// is non-empty, only the named tables are described.
		GetMetadata(ctx context.Context, tables []string) (SchemaBundle, error)

		// RunSummary computes statistics for a table. When columns is
		// non-empty, only the named columns are summarized.
		RunSummary(ctx context.Context, table string, columns []string) (Statistics, error)

		// RunTargeted executes a driver-native query and returns its rows.
		// The timeout bounds execution inside the driver in addition to the
		// context deadline.
		RunTargeted(ctx context.Context, query string, timeout time.Duration) (Rows, error)

		// SampleData returns up to n rows selected by the given method.
		SampleData(ctx context.Context, query string, n int, method SampleMethod) (Rows, error)

		// GenerateInsights analyzes previously fetched rows for the requested
		// insight kind.
		GenerateInsights(ctx context.Context, data Rows, kind InsightKind) ([]Insight, error)
	}

	// ErrorKind classifies driver failures.
	ErrorKind string

	// Error is the uniform driver failure type. Retryable mirrors the kind's
	// default policy but drivers may override it (for example a connect
	// failure against a decommissioned endpoint).
	Error struct {
		Kind      ErrorKind
		Retryable bool
		Detail    string
		Err       error
	}
)

// Sampling methods accepted by SampleData.
const (
	SampleRandom     SampleMethod = "random"
	SampleFirst      SampleMethod = "first"
	SampleStratified SampleMethod = "stratified"
)

// Insight kinds accepted by GenerateInsights.
const (
	InsightOutliers     InsightKind = "outliers"
	InsightTrends       InsightKind = "trends"
	InsightClusters     InsightKind = "clusters"
	InsightCorrelations InsightKind = "correlations"
)

// Driver failure kinds.
const (
	ErrTimeout     ErrorKind = "timeout"
	ErrConnect     ErrorKind = "connect"
	ErrAuth        ErrorKind = "auth"
	ErrBadRequest  ErrorKind = "bad_request"
	ErrNotFound    ErrorKind = "not_found"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrInternal    ErrorKind = "internal"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("adapter %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("adapter %s", e.Kind)
}

// Unwrap exposes the underlying driver error.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with the kind's default retryability.
func NewError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Retryable: defaultRetryable(kind), Detail: detail, Err: err}
}

// defaultRetryable reports whether a kind is retried by default: transient
// infrastructure failures are, caller mistakes and hard failures are not.
func defaultRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrTimeout, ErrConnect, ErrRateLimited:
		return true
	default:
		return false
	}
}
