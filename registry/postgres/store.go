// Package postgres provides a relational implementation of registry.Store.
//
// Layout:
//
//	data_sources(id, uri, type, version, updated_at)
//	table_meta(source_id, table_name, schema_json, version, updated_at)
//	ontology_mapping(entity_name, source_tables_json)
//
// table_meta is unique on (source_id, table_name) and carries a foreign key
// to data_sources with ON DELETE CASCADE so source deletion removes its
// table metadata in one statement. All failures are wrapped in
// *registry.StorageError.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cenecahq/ceneca/registry"
)

// Store is a relational implementation of registry.Store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Schema creates the catalog tables when they do not exist. Callers run it
// once at startup; it is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS data_sources (
	id         TEXT PRIMARY KEY,
	uri        TEXT NOT NULL,
	type       TEXT NOT NULL,
	version    TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS table_meta (
	source_id   TEXT NOT NULL REFERENCES data_sources(id) ON DELETE CASCADE,
	table_name  TEXT NOT NULL,
	schema_json TEXT NOT NULL DEFAULT '',
	version     TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, table_name)
);
CREATE TABLE IF NOT EXISTS ontology_mapping (
	entity_name        TEXT PRIMARY KEY,
	source_tables_json TEXT NOT NULL
);
`

// Open connects to the database identified by dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, registry.NewStorageError("connect", err)
	}
	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init creates the catalog tables.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return registry.NewStorageError("init", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type sourceRow struct {
	ID        string    `db:"id"`
	URI       string    `db:"uri"`
	Type      string    `db:"type"`
	Version   string    `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

type tableRow struct {
	SourceID   string    `db:"source_id"`
	TableName  string    `db:"table_name"`
	SchemaJSON string    `db:"schema_json"`
	Version    string    `db:"version"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ListSources implements registry.Store.
func (s *Store) ListSources(ctx context.Context) ([]registry.DataSource, error) {
	var rows []sourceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, uri, type, version, updated_at FROM data_sources ORDER BY id`)
	if err != nil {
		return nil, registry.NewStorageError("list sources", err)
	}
	out := make([]registry.DataSource, 0, len(rows))
	for _, r := range rows {
		out = append(out, sourceFromRow(r))
	}
	return out, nil
}

// GetSource implements registry.Store.
func (s *Store) GetSource(ctx context.Context, id string) (registry.DataSource, error) {
	var r sourceRow
	err := s.db.GetContext(ctx, &r,
		`SELECT id, uri, type, version, updated_at FROM data_sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.DataSource{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.DataSource{}, registry.NewStorageError("get source", err)
	}
	return sourceFromRow(r), nil
}

// UpsertSource implements registry.Store.
func (s *Store) UpsertSource(ctx context.Context, src registry.DataSource) error {
	if src.ID == "" {
		return errors.New("source id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, uri, type, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET uri = EXCLUDED.uri, type = EXCLUDED.type,
		    version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`,
		src.ID, src.URI, string(src.Kind), src.Version, s.now().UTC())
	if err != nil {
		return registry.NewStorageError("upsert source", err)
	}
	return nil
}

// DeleteSource implements registry.Store. The schema's ON DELETE CASCADE
// removes the source's table metadata.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return registry.NewStorageError("delete source", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.NewStorageError("delete source", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// ListTables implements registry.Store.
func (s *Store) ListTables(ctx context.Context, sourceID string) ([]registry.TableMeta, error) {
	var rows []tableRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, table_name, schema_json, version, updated_at
		FROM table_meta WHERE source_id = $1 ORDER BY table_name`, sourceID)
	if err != nil {
		return nil, registry.NewStorageError("list tables", err)
	}
	return tablesFromRows(rows), nil
}

// GetTable implements registry.Store.
func (s *Store) GetTable(ctx context.Context, sourceID, name string) (registry.TableMeta, error) {
	var r tableRow
	err := s.db.GetContext(ctx, &r, `
		SELECT source_id, table_name, schema_json, version, updated_at
		FROM table_meta WHERE source_id = $1 AND table_name = $2`, sourceID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.TableMeta{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.TableMeta{}, registry.NewStorageError("get table", err)
	}
	return tableFromRow(r), nil
}

// UpsertTable implements registry.Store.
func (s *Store) UpsertTable(ctx context.Context, meta registry.TableMeta) error {
	if meta.SourceID == "" || meta.TableName == "" {
		return errors.New("source id and table name are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO table_meta (source_id, table_name, schema_json, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, table_name) DO UPDATE
		SET schema_json = EXCLUDED.schema_json, version = EXCLUDED.version,
		    updated_at = EXCLUDED.updated_at`,
		meta.SourceID, meta.TableName, meta.SchemaJSON, meta.Version, s.now().UTC())
	if err != nil {
		return registry.NewStorageError("upsert table", err)
	}
	return nil
}

// DeleteTable implements registry.Store.
func (s *Store) DeleteTable(ctx context.Context, sourceID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM table_meta WHERE source_id = $1 AND table_name = $2`, sourceID, name)
	if err != nil {
		return registry.NewStorageError("delete table", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.NewStorageError("delete table", err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// SetOntology implements registry.Store.
func (s *Store) SetOntology(ctx context.Context, entity string, tables []string) error {
	if entity == "" {
		return errors.New("entity name is required")
	}
	if tables == nil {
		tables = []string{}
	}
	encoded, err := json.Marshal(tables)
	if err != nil {
		return registry.NewStorageError("set ontology", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ontology_mapping (entity_name, source_tables_json)
		VALUES ($1, $2)
		ON CONFLICT (entity_name) DO UPDATE
		SET source_tables_json = EXCLUDED.source_tables_json`,
		entity, string(encoded))
	if err != nil {
		return registry.NewStorageError("set ontology", err)
	}
	return nil
}

// GetOntology implements registry.Store.
func (s *Store) GetOntology(ctx context.Context, entity string) ([]string, error) {
	var encoded string
	err := s.db.GetContext(ctx, &encoded,
		`SELECT source_tables_json FROM ontology_mapping WHERE entity_name = $1`, entity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, registry.NewStorageError("get ontology", err)
	}
	var tables []string
	if err := json.Unmarshal([]byte(encoded), &tables); err != nil {
		return nil, registry.NewStorageError("get ontology", err)
	}
	return tables, nil
}

// SearchTablesByName implements registry.Store.
func (s *Store) SearchTablesByName(ctx context.Context, pattern string) ([]registry.TableMeta, error) {
	var rows []tableRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, table_name, schema_json, version, updated_at
		FROM table_meta WHERE table_name ILIKE '%' || $1 || '%'
		ORDER BY source_id, table_name`, pattern)
	if err != nil {
		return nil, registry.NewStorageError("search tables", err)
	}
	return tablesFromRows(rows), nil
}

// SearchSchemaContent implements registry.Store.
func (s *Store) SearchSchemaContent(ctx context.Context, pattern string) ([]registry.TableMeta, error) {
	var rows []tableRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, table_name, schema_json, version, updated_at
		FROM table_meta WHERE schema_json ILIKE '%' || $1 || '%'
		ORDER BY source_id, table_name`, pattern)
	if err != nil {
		return nil, registry.NewStorageError("search schema", err)
	}
	return tablesFromRows(rows), nil
}

func sourceFromRow(r sourceRow) registry.DataSource {
	return registry.DataSource{
		ID:        r.ID,
		URI:       r.URI,
		Kind:      registry.SourceKind(r.Type),
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}

func tableFromRow(r tableRow) registry.TableMeta {
	return registry.TableMeta{
		SourceID:   r.SourceID,
		TableName:  r.TableName,
		SchemaJSON: r.SchemaJSON,
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt,
	}
}

func tablesFromRows(rows []tableRow) []registry.TableMeta {
	out := make([]registry.TableMeta, 0, len(rows))
	for _, r := range rows {
		out = append(out, tableFromRow(r))
	}
	return out
}
