package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildbox/internal/domain/guild"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddGuild(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	joined := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	added, err := s.AddGuild(ctx, guild.Guild{ID: "1", Name: "Alpha", JoinedAt: joined})
	require.NoError(t, err)
	assert.True(t, added)

	// Re-adding refreshes the name but keeps the join time
	added, err = s.AddGuild(ctx, guild.Guild{ID: "1", Name: "Alpha Renamed", JoinedAt: joined.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, added)

	g, ok, err := s.GetGuild(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alpha Renamed", g.Name)
	assert.True(t, joined.Equal(g.JoinedAt))

	_, ok, err = s.GetGuild(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListAndRemove(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"3", "1", "2"} {
		_, err := s.AddGuild(ctx, guild.Guild{ID: id, Name: "g" + id, JoinedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	guilds, err := s.ListGuilds(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(guilds))
	for _, g := range guilds {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"3", "1", "2"}, ids, "ordered by join time")

	removed, err := s.RemoveGuild(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveGuild(ctx, "1")
	require.NoError(t, err)
	assert.False(t, removed)

	guilds, err = s.ListGuilds(ctx)
	require.NoError(t, err)
	assert.Len(t, guilds, 2)
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "guilds.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.AddGuild(ctx, guild.Guild{ID: "42", Name: "Persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	g, ok, err := s.GetGuild(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Persisted", g.Name)
	assert.False(t, g.JoinedAt.IsZero())
}
