package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/registry"
)

func TestUpsertSourceRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	src := registry.DataSource{ID: "pg-main", URI: "postgres://db/main", Kind: registry.KindRelational, Version: "1"}
	require.NoError(t, s.UpsertSource(ctx, src))

	got, err := s.GetSource(ctx, "pg-main")
	require.NoError(t, err)
	require.Equal(t, src.ID, got.ID)
	require.Equal(t, src.URI, got.URI)
	require.Equal(t, src.Kind, got.Kind)
	require.Equal(t, src.Version, got.Version)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestUpsertSourceRotatesURI(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertSource(ctx, registry.DataSource{ID: "pg", URI: "postgres://old", Kind: registry.KindRelational}))
	require.NoError(t, s.UpsertSource(ctx, registry.DataSource{ID: "pg", URI: "postgres://new", Kind: registry.KindRelational}))

	got, err := s.GetSource(ctx, "pg")
	require.NoError(t, err)
	require.Equal(t, "postgres://new", got.URI)

	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
}

func TestGetSourceMissing(t *testing.T) {
	s := New()
	_, err := s.GetSource(context.Background(), "nope")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeleteSourceCascades(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertSource(ctx, registry.DataSource{ID: "pg", Kind: registry.KindRelational}))
	require.NoError(t, s.UpsertTable(ctx, registry.TableMeta{SourceID: "pg", TableName: "orders", SchemaJSON: `{"columns":["id"]}`}))

	require.NoError(t, s.DeleteSource(ctx, "pg"))

	_, err := s.GetTable(ctx, "pg", "orders")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.ErrorIs(t, s.DeleteSource(ctx, "pg"), registry.ErrNotFound)
}

func TestSearchOrderingIsDeterministic(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, meta := range []registry.TableMeta{
		{SourceID: "b", TableName: "users", SchemaJSON: `{"columns":["email"]}`},
		{SourceID: "a", TableName: "user_events", SchemaJSON: `{"columns":["ts"]}`},
		{SourceID: "a", TableName: "orders", SchemaJSON: `{"columns":["user_id"]}`},
	} {
		require.NoError(t, s.UpsertTable(ctx, meta))
	}

	got, err := s.SearchTablesByName(ctx, "USER")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].SourceID)
	require.Equal(t, "user_events", got[0].TableName)
	require.Equal(t, "b", got[1].SourceID)

	content, err := s.SearchSchemaContent(ctx, "user_id")
	require.NoError(t, err)
	require.Len(t, content, 1)
	require.Equal(t, "orders", content[0].TableName)
}

func TestOntologyMapping(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SetOntology(ctx, "customer", []string{"a.users", "b.profiles"}))
	tables, err := s.GetOntology(ctx, "customer")
	require.NoError(t, err)
	require.Equal(t, []string{"a.users", "b.profiles"}, tables)

	_, err = s.GetOntology(ctx, "unknown")
	require.ErrorIs(t, err, registry.ErrNotFound)

	// Replacement semantics.
	require.NoError(t, s.SetOntology(ctx, "customer", []string{"a.users"}))
	tables, err = s.GetOntology(ctx, "customer")
	require.NoError(t, err)
	require.Equal(t, []string{"a.users"}, tables)
}
