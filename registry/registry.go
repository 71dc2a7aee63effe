// Package registry defines the persisted catalog of data sources and their
// table schemas.
//
// The Store interface abstracts catalog storage, allowing different backend
// implementations. Available implementations:
//
//   - inmem: in-memory store for development and testing
//   - postgres: relational store for production persistence
//
// To add a new implementation, create a subpackage that implements the Store
// interface and returns registry.ErrNotFound for missing rows. Backing-store
// failures must be wrapped in *StorageError so callers can distinguish
// catalog misses from infrastructure faults.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type (
	// SourceKind classifies a data store. The set is closed: adapters register
	// under one of these kinds and the execution scheduler keys its
	// concurrency limits on them.
	SourceKind string

	// DataSource identifies a registered data source. The URI may rotate
	// across upserts; the ID is stable.
	DataSource struct {
		// ID is the stable identifier of the source.
		ID string `json:"id"`
		// URI locates the source (DSN, endpoint URL, bucket, ...).
		URI string `json:"uri"`
		// Kind is the source classification.
		Kind SourceKind `json:"kind"`
		// Version is a caller-managed schema catalog version.
		Version string `json:"version"`
		// UpdatedAt records the last upsert time (UTC).
		UpdatedAt time.Time `json:"updated_at"`
	}

	// TableMeta describes one table or collection of a source. Unique on
	// (SourceID, TableName). SchemaJSON is driver-defined; the core treats it
	// as opaque except for full-text search.
	TableMeta struct {
		SourceID   string    `json:"source_id"`
		TableName  string    `json:"table_name"`
		SchemaJSON string    `json:"schema_json"`
		Version    string    `json:"version"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// Store defines the persistence layer for the catalog.
	// Implementations must be safe for concurrent use; upserts are
	// conflict-on-key followed by update, and DeleteSource cascades to the
	// source's table metadata.
	Store interface {
		// ListSources returns all registered sources ordered by ID.
		ListSources(ctx context.Context) ([]DataSource, error)

		// GetSource retrieves a source by ID. Returns ErrNotFound when the
		// source does not exist.
		GetSource(ctx context.Context, id string) (DataSource, error)

		// UpsertSource inserts or updates a source, refreshing UpdatedAt.
		UpsertSource(ctx context.Context, src DataSource) error

		// DeleteSource removes a source and all of its table metadata.
		// Returns ErrNotFound when the source does not exist.
		DeleteSource(ctx context.Context, id string) error

		// ListTables returns the table metadata of a source ordered by name.
		ListTables(ctx context.Context, sourceID string) ([]TableMeta, error)

		// GetTable retrieves one table. Returns ErrNotFound when missing.
		GetTable(ctx context.Context, sourceID, name string) (TableMeta, error)

		// UpsertTable inserts or updates table metadata, refreshing UpdatedAt.
		UpsertTable(ctx context.Context, meta TableMeta) error

		// DeleteTable removes one table. Returns ErrNotFound when missing.
		DeleteTable(ctx context.Context, sourceID, name string) error

		// SetOntology maps a business entity name to qualified tables,
		// replacing any previous mapping.
		SetOntology(ctx context.Context, entity string, tables []string) error

		// GetOntology returns the tables mapped to an entity. Returns
		// ErrNotFound when the entity has no mapping.
		GetOntology(ctx context.Context, entity string) ([]string, error)

		// SearchTablesByName returns tables whose name contains pattern
		// (case-insensitive substring), ordered by (source_id, table_name).
		SearchTablesByName(ctx context.Context, pattern string) ([]TableMeta, error)

		// SearchSchemaContent returns tables whose schema JSON contains
		// pattern (case-insensitive substring), ordered by
		// (source_id, table_name).
		SearchSchemaContent(ctx context.Context, pattern string) ([]TableMeta, error)
	}

	// StorageError wraps a backing-store failure. It is never retried within
	// a request; callers surface it to the user.
	StorageError struct {
		Op  string
		Err error
	}
)

// Source kinds known to the core. Adapters may register additional kinds;
// the scheduler applies its default concurrency limit to unknown kinds.
const (
	KindRelational   SourceKind = "relational"
	KindDocument     SourceKind = "document"
	KindVector       SourceKind = "vector"
	KindChatLog      SourceKind = "chat-log"
	KindECommerce    SourceKind = "e-commerce"
	KindAnalyticsAPI SourceKind = "analytics-api"
)

// ErrNotFound is returned when a source, table, or ontology entry is not in
// the catalog.
var ErrNotFound = errors.New("registry: not found")

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("registry storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying store error.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a storage failure for operation op.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// QualifiedTable renders the canonical "<source_id>.<table_name>" form used
// by ontology mappings.
func QualifiedTable(sourceID, table string) string {
	return sourceID + "." + table
}
