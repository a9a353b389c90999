package admin

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/guild"
	"github.com/osa030/guildbox/internal/domain/track"
)

const testToken = "s3cret"

type fakeService struct {
	known      []guild.Guild
	active     []string
	snapshots  map[string]playback.Snapshot
	skip       playback.SkipResult
	skipErr    error
	cleared    int
	clearErr   error
	resettable map[string]bool
	panicOn    string
}

func (f *fakeService) KnownGuilds(context.Context) ([]guild.Guild, error) { return f.known, nil }
func (f *fakeService) ActiveGuilds() []string                             { return f.active }

func (f *fakeService) Inspect(guildID string) (playback.Snapshot, error) {
	if guildID == f.panicOn {
		panic("inspect exploded")
	}
	s, ok := f.snapshots[guildID]
	if !ok {
		return playback.Snapshot{GuildID: guildID, State: playback.StateDisconnected}, playback.ErrTenantNotFound
	}
	if s.Current == nil && len(s.Queue) == 0 {
		return s, playback.ErrNotPlaying
	}
	return s, nil
}

func (f *fakeService) Skip(string) (playback.SkipResult, error) { return f.skip, f.skipErr }
func (f *fakeService) Clear(string) (int, error)                { return f.cleared, f.clearErr }
func (f *fakeService) Reset(guildID string) bool                { return f.resettable[guildID] }

func newTestServer(svc *fakeService) http.Handler {
	return NewServer(svc, Config{Addr: "127.0.0.1:0", Token: testToken}).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set(AdminTokenHeader, testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Auth(t *testing.T) {
	h := newTestServer(&fakeService{})

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"valid token", testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/guilds", nil)
			if tt.token != "" {
				req.Header.Set(AdminTokenHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_ListGuilds(t *testing.T) {
	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newTestServer(&fakeService{
		known: []guild.Guild{
			{ID: "200", Name: "Study Hall", JoinedAt: joined},
			{ID: "100", Name: "Music Club", JoinedAt: joined},
		},
		active: []string{"100", "300"},
	})

	rec := do(t, h, http.MethodGet, "/api/guilds", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	guilds := decode[GuildList](t, rec).Guilds
	require.Len(t, guilds, 3)

	assert.Equal(t, "100", guilds[0].ID)
	assert.True(t, guilds[0].Active)
	assert.Equal(t, "Music Club", guilds[0].Name)
	require.NotNil(t, guilds[0].JoinedAt)
	assert.True(t, joined.Equal(*guilds[0].JoinedAt))

	assert.Equal(t, "200", guilds[1].ID)
	assert.False(t, guilds[1].Active)

	// Active but never recorded
	assert.Equal(t, "300", guilds[2].ID)
	assert.True(t, guilds[2].Active)
	assert.Nil(t, guilds[2].JoinedAt)
}

func TestServer_GetQueue(t *testing.T) {
	h := newTestServer(&fakeService{
		snapshots: map[string]playback.Snapshot{
			"100": {
				GuildID:   "100",
				State:     playback.StatePlaying,
				Playing:   true,
				Connected: true,
				Current:   &track.Item{Title: "Now", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Duration: 90 * time.Second},
				Queue:     []track.Item{{Title: "Next", RequestedBy: "alice"}},
			},
			"200": {GuildID: "200", State: playback.StateIdle, IdleTimerArmed: true},
		},
	})

	rec := do(t, h, http.MethodGet, "/api/guilds/100/queue", true)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[QueueInfo](t, rec)
	assert.Equal(t, "playing", q.State)
	assert.True(t, q.Connected)
	require.NotNil(t, q.Current)
	assert.Equal(t, "Now", q.Current.Title)
	assert.Equal(t, 90.0, q.Current.DurationSec)
	require.Len(t, q.Queue, 1)
	assert.Equal(t, "alice", q.Queue[0].RequestedBy)

	rec = do(t, h, http.MethodGet, "/api/guilds/200/queue", true)
	require.Equal(t, http.StatusOK, rec.Code)
	q = decode[QueueInfo](t, rec)
	assert.Nil(t, q.Current)
	assert.Empty(t, q.Queue)
	assert.True(t, q.IdleTimerArmed)

	rec = do(t, h, http.MethodGet, "/api/guilds/999/queue", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tenant_not_found", decode[ErrorInfo](t, rec).Error)
}

func TestServer_Skip(t *testing.T) {
	next := track.Item{Title: "b"}
	svc := &fakeService{skip: playback.SkipResult{Skipped: track.Item{Title: "a"}, Next: &next}}
	h := newTestServer(svc)

	rec := do(t, h, http.MethodPost, "/api/guilds/100/skip", true)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[SkipInfo](t, rec)
	assert.Equal(t, "a", s.Skipped.Title)
	require.NotNil(t, s.Next)
	assert.Equal(t, "b", s.Next.Title)

	svc.skipErr = playback.ErrNotPlaying
	rec = do(t, h, http.MethodPost, "/api/guilds/100/skip", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_playing", decode[ErrorInfo](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/api/guilds/100/skip", true)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ClearAndReset(t *testing.T) {
	svc := &fakeService{cleared: 3, resettable: map[string]bool{"100": true}}
	h := newTestServer(svc)

	rec := do(t, h, http.MethodPost, "/api/guilds/100/clear", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[ClearInfo](t, rec).Removed)

	svc.clearErr = playback.ErrAlreadyEmpty
	rec = do(t, h, http.MethodPost, "/api/guilds/100/clear", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/guilds/100/reset", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/guilds/200/reset", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeService{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/guilds"},
		{http.MethodDelete, "/api/guilds/100/queue"},
		{http.MethodGet, "/api/guilds/100/skip"},
		{http.MethodGet, "/api/guilds/100/clear"},
		{http.MethodPut, "/api/guilds/100/reset"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, true)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "method_not_allowed", decode[ErrorInfo](t, rec).Error)
		})
	}
}

func TestServer_NotFoundAndRecovery(t *testing.T) {
	h := newTestServer(&fakeService{panicOn: "666"})

	rec := do(t, h, http.MethodGet, "/nowhere", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/guilds/666/queue", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Compression(t *testing.T) {
	h := newTestServer(&fakeService{known: []guild.Guild{{ID: "100", Name: "Music Club"}}})

	req := httptest.NewRequest(http.MethodGet, "/api/guilds", nil)
	req.Header.Set(AdminTokenHeader, testToken)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Music Club")
}
