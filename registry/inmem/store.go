// Package inmem provides an in-memory implementation of registry.Store.
//
// It is intended for tests and local development. Production deployments
// should use the relational implementation (registry/postgres).
package inmem

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenecahq/ceneca/registry"
)

type (
	// Store is an in-memory implementation of registry.Store.
	// It is safe for concurrent use.
	Store struct {
		mu       sync.RWMutex
		sources  map[string]registry.DataSource
		tables   map[string]map[string]registry.TableMeta
		ontology map[string][]string
		now      func() time.Time
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		sources:  make(map[string]registry.DataSource),
		tables:   make(map[string]map[string]registry.TableMeta),
		ontology: make(map[string][]string),
		now:      time.Now,
	}
}

// ListSources implements registry.Store.
func (s *Store) ListSources(_ context.Context) ([]registry.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.DataSource, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSource implements registry.Store.
func (s *Store) GetSource(_ context.Context, id string) (registry.DataSource, error) {
	if id == "" {
		return registry.DataSource{}, errors.New("source id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return registry.DataSource{}, registry.ErrNotFound
	}
	return src, nil
}

// UpsertSource implements registry.Store.
func (s *Store) UpsertSource(_ context.Context, src registry.DataSource) error {
	if src.ID == "" {
		return errors.New("source id is required")
	}
	if src.Kind == "" {
		return errors.New("source kind is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src.UpdatedAt = s.now().UTC()
	s.sources[src.ID] = src
	return nil
}

// DeleteSource implements registry.Store. Deletion cascades to table metadata.
func (s *Store) DeleteSource(_ context.Context, id string) error {
	if id == "" {
		return errors.New("source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return registry.ErrNotFound
	}
	delete(s.sources, id)
	delete(s.tables, id)
	return nil
}

// ListTables implements registry.Store.
func (s *Store) ListTables(_ context.Context, sourceID string) ([]registry.TableMeta, error) {
	if sourceID == "" {
		return nil, errors.New("source id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.tables[sourceID]
	out := make([]registry.TableMeta, 0, len(byName))
	for _, meta := range byName {
		out = append(out, meta)
	}
	sortTables(out)
	return out, nil
}

// GetTable implements registry.Store.
func (s *Store) GetTable(_ context.Context, sourceID, name string) (registry.TableMeta, error) {
	if sourceID == "" || name == "" {
		return registry.TableMeta{}, errors.New("source id and table name are required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.tables[sourceID][name]
	if !ok {
		return registry.TableMeta{}, registry.ErrNotFound
	}
	return meta, nil
}

// UpsertTable implements registry.Store.
func (s *Store) UpsertTable(_ context.Context, meta registry.TableMeta) error {
	if meta.SourceID == "" || meta.TableName == "" {
		return errors.New("source id and table name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.tables[meta.SourceID]
	if !ok {
		byName = make(map[string]registry.TableMeta)
		s.tables[meta.SourceID] = byName
	}
	meta.UpdatedAt = s.now().UTC()
	byName[meta.TableName] = meta
	return nil
}

// DeleteTable implements registry.Store.
func (s *Store) DeleteTable(_ context.Context, sourceID, name string) error {
	if sourceID == "" || name == "" {
		return errors.New("source id and table name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[sourceID][name]; !ok {
		return registry.ErrNotFound
	}
	delete(s.tables[sourceID], name)
	return nil
}

// SetOntology implements registry.Store.
func (s *Store) SetOntology(_ context.Context, entity string, tables []string) error {
	if entity == "" {
		return errors.New("entity name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ontology[entity] = append([]string(nil), tables...)
	return nil
}

// GetOntology implements registry.Store.
func (s *Store) GetOntology(_ context.Context, entity string) ([]string, error) {
	if entity == "" {
		return nil, errors.New("entity name is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables, ok := s.ontology[entity]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return append([]string(nil), tables...), nil
}

// SearchTablesByName implements registry.Store.
func (s *Store) SearchTablesByName(_ context.Context, pattern string) ([]registry.TableMeta, error) {
	return s.search(pattern, func(meta registry.TableMeta) string { return meta.TableName })
}

// SearchSchemaContent implements registry.Store.
func (s *Store) SearchSchemaContent(_ context.Context, pattern string) ([]registry.TableMeta, error) {
	return s.search(pattern, func(meta registry.TableMeta) string { return meta.SchemaJSON })
}

func (s *Store) search(pattern string, field func(registry.TableMeta) string) ([]registry.TableMeta, error) {
	needle := strings.ToLower(pattern)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registry.TableMeta
	for _, byName := range s.tables {
		for _, meta := range byName {
			if strings.Contains(strings.ToLower(field(meta)), needle) {
				out = append(out, meta)
			}
		}
	}
	sortTables(out)
	return out, nil
}

// sortTables orders results by (source_id, table_name) for determinism.
func sortTables(metas []registry.TableMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].SourceID != metas[j].SourceID {
			return metas[i].SourceID < metas[j].SourceID
		}
		return metas[i].TableName < metas[j].TableName
	})
}
