package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/guild"
	"github.com/osa030/guildbox/internal/domain/track"
)

func newTestClient(t *testing.T, svc *fakeService, token string) *Client {
	t.Helper()
	ts := httptest.NewServer(newTestServer(svc))
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", token, ts.Client())
}

func TestClient_Guilds(t *testing.T) {
	c := newTestClient(t, &fakeService{
		known:  []guild.Guild{{ID: "100", Name: "Music Club"}},
		active: []string{"100"},
	}, testToken)

	guilds, err := c.Guilds(context.Background())
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "Music Club", guilds[0].Name)
	assert.True(t, guilds[0].Active)
}

func TestClient_Unauthenticated(t *testing.T) {
	c := newTestClient(t, &fakeService{}, "wrong")

	_, err := c.Guilds(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthenticated", apiErr.Code)
}

func TestClient_QueueAndControls(t *testing.T) {
	next := track.Item{Title: "b"}
	svc := &fakeService{
		snapshots: map[string]playback.Snapshot{
			"100": {GuildID: "100", State: playback.StatePlaying, Current: &track.Item{Title: "a"}},
		},
		skip:       playback.SkipResult{Skipped: track.Item{Title: "a"}, Next: &next},
		cleared:    2,
		resettable: map[string]bool{"100": true},
	}
	c := newTestClient(t, svc, testToken)
	ctx := context.Background()

	q, err := c.Queue(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "playing", q.State)
	require.NotNil(t, q.Current)
	assert.Equal(t, "a", q.Current.Title)

	_, err = c.Queue(ctx, "999")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "tenant_not_found", apiErr.Code)

	s, err := c.Skip(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "a", s.Skipped.Title)
	require.NotNil(t, s.Next)
	assert.Equal(t, "b", s.Next.Title)

	removed, err := c.Clear(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	require.NoError(t, c.Reset(ctx, "100"))
	err = c.Reset(ctx, "200")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
