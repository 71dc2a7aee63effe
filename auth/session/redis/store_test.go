package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cenecahq/ceneca/auth/session"
	sessredis "github.com/cenecahq/ceneca/auth/session/redis"
)

func newStore(t *testing.T) (*sessredis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s, err := sessredis.New(client)
	require.NoError(t, err)
	return s, mr
}

func sample(id string) session.Session {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return session.Session{
		ID:           id,
		UserID:       "u1",
		Email:        "a@b",
		DisplayName:  "Ada",
		Groups:       []string{"analysts"},
		Roles:        []string{"user"},
		Provider:     "okta",
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	want := sample("s1")
	require.NoError(t, s.Put(ctx, want, time.Hour))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sample("s1"), time.Hour))

	ok, err := s.Delete(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveCount(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.Put(ctx, sample(id), time.Hour))
	}
	// Unrelated keys must not be counted.
	mr.Set("other:key", "x")

	n, err := s.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestNativeTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sample("s1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "s1")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestHealth(t *testing.T) {
	s, mr := newStore(t)
	require.NoError(t, s.Health(context.Background()))
	require.Equal(t, "redis", s.Kind())

	mr.Close()
	require.Error(t, s.Health(context.Background()))
}
