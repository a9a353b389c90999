package jukebox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildbox/internal/app/filter"
	"github.com/osa030/guildbox/internal/app/notification"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/guild"
	"github.com/osa030/guildbox/internal/domain/track"
	"github.com/osa030/guildbox/internal/testutil"
)

var errLookup = errors.New("lookup failed")

type fakeResource struct {
	src      string
	released atomic.Int32
}

func (r *fakeResource) Source() string { return r.src }

func (r *fakeResource) Release() error {
	r.released.Add(1)
	return nil
}

// quietPlayer accepts every resource and never reports a status.
type quietPlayer struct {
	statuses chan playback.StatusEvent
}

func (p *quietPlayer) Play(track.Resource) error             { return nil }
func (p *quietPlayer) Stop()                                 {}
func (p *quietPlayer) Statuses() <-chan playback.StatusEvent { return p.statuses }
func (p *quietPlayer) Close()                                {}

type fakeConn struct{}

func (fakeConn) Destroy() error { return nil }

type fakeResolver struct {
	mu         sync.Mutex
	ids        map[string]string
	metadata   map[string]track.Metadata
	fetches    int
	resolveErr error
}

func (r *fakeResolver) Resolve(_ context.Context, query string) (string, error) {
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	if id, ok := r.ids[query]; ok {
		return id, nil
	}
	return query, nil
}

func (r *fakeResolver) Fetch(_ context.Context, id string) (track.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	meta, ok := r.metadata[id]
	if !ok {
		return track.Metadata{}, errLookup
	}
	return meta, nil
}

func (r *fakeResolver) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

type fakePreparer struct {
	mu        sync.Mutex
	resources []*fakeResource
}

func (p *fakePreparer) Prepare(_ context.Context, meta track.Metadata) (track.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := &fakeResource{src: "/tmp/" + meta.ID + ".mp3"}
	p.resources = append(p.resources, res)
	return res, nil
}

func (p *fakePreparer) prepared() []*fakeResource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeResource(nil), p.resources...)
}

type fakeDirectory struct {
	mu     sync.Mutex
	guilds map[string]guild.Guild
}

func (d *fakeDirectory) AddGuild(_ context.Context, g guild.Guild) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.guilds[g.ID]; ok {
		return false, nil
	}
	d.guilds[g.ID] = g
	return true, nil
}

func (d *fakeDirectory) RemoveGuild(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.guilds[id]; !ok {
		return false, nil
	}
	delete(d.guilds, id)
	return true, nil
}

func (d *fakeDirectory) ListGuilds(_ context.Context) ([]guild.Guild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]guild.Guild, 0, len(d.guilds))
	for _, g := range d.guilds {
		out = append(out, g)
	}
	return out, nil
}

// rejectFilter rejects every request with a fixed code.
type rejectFilter struct {
	code string
}

func (f rejectFilter) Name() string                        { return "reject_filter" }
func (f rejectFilter) Description() string                 { return "rejects everything" }
func (f rejectFilter) ReturnCodes() []string               { return []string{f.code} }
func (f rejectFilter) ValidateConfig(map[string]any) error { return nil }
func (f rejectFilter) Check(context.Context, filter.TrackRequest, track.Metadata) filter.Result {
	return filter.Reject(f.code)
}

type fixture struct {
	service   *Service
	resolver  *fakeResolver
	preparer  *fakePreparer
	directory *fakeDirectory
	dialErr   error
	dials     atomic.Int32

	mu       sync.Mutex
	channels []string
}

func (f *fixture) dialedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

func newFixture(t *testing.T, chain *filter.Chain) *fixture {
	t.Helper()
	f := &fixture{
		resolver: &fakeResolver{
			ids: map[string]string{"never gonna": "dQw4w9WgXcQ"},
			metadata: map[string]track.Metadata{
				"dQw4w9WgXcQ": {ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Duration: 213 * time.Second},
				"9bZkp7q19f0": {ID: "9bZkp7q19f0", Title: "Gangnam Style", URL: "https://www.youtube.com/watch?v=9bZkp7q19f0", Duration: 252 * time.Second},
			},
		},
		preparer:  &fakePreparer{},
		directory: &fakeDirectory{guilds: make(map[string]guild.Guild)},
	}

	controller := playback.NewController(playback.Config{
		GracePeriod: 50 * time.Millisecond,
		IdleTimeout: time.Minute,
	}, func(string) playback.Player {
		return &quietPlayer{statuses: make(chan playback.StatusEvent)}
	})
	dialer := func(guildID, channelID string) playback.Dialer {
		return func(context.Context, playback.Player) (playback.Connection, error) {
			f.dials.Add(1)
			if f.dialErr != nil {
				return nil, f.dialErr
			}
			f.mu.Lock()
			f.channels = append(f.channels, channelID)
			f.mu.Unlock()
			return fakeConn{}, nil
		}
	}

	f.service = NewService(Config{MetadataTTL: time.Minute}, controller, notification.NewManager(),
		chain, f.resolver, f.preparer, dialer, f.directory)
	f.service.Start()
	// Cleanups run last-in first-out: close first, then look for leaks.
	t.Cleanup(func() { testutil.VerifyNoLeaks(t) })
	t.Cleanup(f.service.Close)
	return f
}

func request(query string) Request {
	return Request{GuildID: "g1", ChannelID: "voice", Query: query, RequestedBy: "alice"}
}

func TestService_Request(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.service.Request(ctx, request("never gonna"))
	require.NoError(t, err)
	assert.True(t, first.Started)
	assert.Equal(t, "Never Gonna Give You Up", first.Item.Title)
	assert.Equal(t, "alice", first.Item.RequestedBy)

	second, err := f.service.Request(ctx, request("9bZkp7q19f0"))
	require.NoError(t, err)
	assert.False(t, second.Started)
	assert.Equal(t, 1, second.Position)

	snap, err := f.service.Inspect("g1")
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "Never Gonna Give You Up", snap.Current.Title)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "Gangnam Style", snap.Queue[0].Title)

	// One connection per guild
	assert.Equal(t, int32(1), f.dials.Load())
	assert.Equal(t, []string{"g1"}, f.service.ActiveGuilds())
}

func TestService_Request_FollowsRequesterWhenIdle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Request(ctx, request("dQw4w9WgXcQ"))
	require.NoError(t, err)

	// Busy: a request from another channel joins the queue where the bot already is
	other := request("9bZkp7q19f0")
	other.ChannelID = "lounge"
	_, err = f.service.Request(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, []string{"voice"}, f.dialedChannels())

	_, err = f.service.Clear("g1")
	require.NoError(t, err)
	_, err = f.service.Skip("g1")
	require.NoError(t, err)

	// Queue ran dry: the next request moves the bot to the requester
	outcome, err := f.service.Request(ctx, other)
	require.NoError(t, err)
	assert.True(t, outcome.Started)
	assert.Equal(t, []string{"voice", "lounge"}, f.dialedChannels())
}

func TestService_Request_CachesMetadata(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range 3 {
		_, err := f.service.Request(ctx, request("dQw4w9WgXcQ"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.resolver.fetchCount())
	assert.Len(t, f.preparer.prepared(), 3)
}

func TestService_Request_Rejected(t *testing.T) {
	chain := filter.NewChain()
	chain.Add(rejectFilter{code: "queue_full"})
	f := newFixture(t, chain)

	_, err := f.service.Request(context.Background(), request("dQw4w9WgXcQ"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))

	code, ok := RejectionCode(err)
	assert.True(t, ok)
	assert.Equal(t, "queue_full", code)

	assert.Empty(t, f.preparer.prepared())
	assert.Equal(t, int32(0), f.dials.Load())
}

func TestService_Request_LookupErrors(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Request(context.Background(), request("unknownvid1"))
	assert.True(t, errors.Is(err, errLookup))
	assert.True(t, errors.Is(err, ErrLookupFailed))
	_, ok := RejectionCode(err)
	assert.False(t, ok)

	errResolve := errors.New("no results")
	f.resolver.resolveErr = errResolve
	_, err = f.service.Request(context.Background(), request("anything"))
	assert.True(t, errors.Is(err, errResolve))
	assert.True(t, errors.Is(err, ErrLookupFailed))
	assert.False(t, errors.Is(err, ErrPrepareFailed))

	assert.Empty(t, f.preparer.prepared())
}

func TestService_Request_ConnectFailureReleasesResource(t *testing.T) {
	f := newFixture(t, nil)
	f.dialErr = errors.New("missing permissions")

	_, err := f.service.Request(context.Background(), request("dQw4w9WgXcQ"))
	assert.True(t, errors.Is(err, ErrConnectFailed))

	resources := f.preparer.prepared()
	require.Len(t, resources, 1)
	assert.Equal(t, int32(1), resources[0].released.Load())

	_, err = f.service.Inspect("g1")
	assert.True(t, errors.Is(err, playback.ErrNotPlaying))
}

func TestService_SkipAndClear(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Skip("g1")
	assert.True(t, errors.Is(err, playback.ErrNotPlaying))

	for _, q := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0", "dQw4w9WgXcQ"} {
		_, err := f.service.Request(ctx, request(q))
		require.NoError(t, err)
	}

	skipped, err := f.service.Skip("g1")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", skipped.Skipped.Title)
	require.NotNil(t, skipped.Next)
	assert.Equal(t, "Gangnam Style", skipped.Next.Title)

	removed, err := f.service.Clear("g1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.True(t, f.service.Reset("g1"))
	assert.False(t, f.service.Reset("g1"))

	for _, res := range f.preparer.prepared() {
		assert.Equal(t, int32(1), res.released.Load(), res.src)
	}
}

func TestService_ForwardsEvents(t *testing.T) {
	f := newFixture(t, nil)

	var mu sync.Mutex
	var received []playback.EventType
	f.service.Notifications().SubscribeGuild("g1", notification.StreamFunc(func(n *notification.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, n.Event.Type)
		return nil
	}))

	_, err := f.service.Request(context.Background(), request("dQw4w9WgXcQ"))
	require.NoError(t, err)
	f.service.Reset("g1")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, playback.EventTrackStarted, received[0])
	assert.Equal(t, playback.EventTornDown, received[len(received)-1])
}

func TestService_GuildDirectory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.service.GuildJoined(ctx, "g1", "Music Club"))
	require.NoError(t, f.service.GuildJoined(ctx, "g1", "Music Club"))
	require.NoError(t, f.service.GuildJoined(ctx, "g2", "Study Hall"))

	guilds, err := f.service.KnownGuilds(ctx)
	require.NoError(t, err)
	assert.Len(t, guilds, 2)

	_, err = f.service.Request(ctx, request("dQw4w9WgXcQ"))
	require.NoError(t, err)

	require.NoError(t, f.service.GuildLeft(ctx, "g1"))
	guilds, err = f.service.KnownGuilds(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "g2", guilds[0].ID)

	_, err = f.service.Inspect("g1")
	assert.True(t, errors.Is(err, playback.ErrTenantNotFound))
}
