package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/registry"
	"github.com/osa030/guildbox/internal/domain/track"
)

// Errors
var (
	ErrNotPlaying          = errors.New("not playing")
	ErrAlreadyEmpty        = errors.New("queue is already empty")
	ErrTenantNotFound      = errors.New("guild has no playback state")
	ErrPlaybackStartFailed = errors.New("playback start failed")
	ErrTransport           = errors.New("transport error")
)

// Teardown reasons
const (
	ReasonReset       = "reset"
	ReasonIdleTimeout = "idle_timeout"
	ReasonShutdown    = "shutdown"
)

// Track start causes
const (
	ReasonRequested = "requested" // Start on an idle guild
	ReasonFinished  = "finished"  // previous track ended
	ReasonSkipped   = "skipped"   // Skip with tracks queued
	ReasonFailed    = "failed"    // previous track failed
)

// Config holds controller configuration.
type Config struct {
	GracePeriod time.Duration // Window absorbing a transient Idle status
	IdleTimeout time.Duration // Inactivity before a guild is torn down
	EventBuffer int           // Capacity of the event channel
}

// EnqueueResult describes the queue after an enqueue.
type EnqueueResult struct {
	Position   int  // 1-based position in the pending queue
	WasPlaying bool // Whether the guild was playing before the call
}

// SkipResult describes the outcome of a skip.
type SkipResult struct {
	Skipped track.Item
	Next    *track.Item // nil when playback stopped
}

// Snapshot is a read-only view of a guild's playback state.
type Snapshot struct {
	GuildID        string
	Current        *track.Item
	Queue          []track.Item
	State          State
	Playing        bool
	Connected      bool
	IdleTimerArmed bool
}

// Controller manages the queues and players of every guild.
type Controller struct {
	config    Config
	newPlayer PlayerFactory
	guilds    *registry.Registry[*guildState]

	// Events
	eventCh chan Event
	closeMu sync.RWMutex
	closed  bool

	// Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // status loops
}

// NewController creates a new playback controller.
func NewController(config Config, newPlayer PlayerFactory) *Controller {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		config:    config,
		newPlayer: newPlayer,
		eventCh:   make(chan Event, config.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.guilds = registry.New(c.createGuild)
	return c
}

// createGuild builds a fresh guild state and starts its status loop.
// Called by the registry under its write lock.
func (c *Controller) createGuild(guildID string) *guildState {
	g := newGuildState(guildID, c.newPlayer(guildID))

	// A fresh guild has nothing to play; it tears down unless work arrives.
	g.mu.Lock()
	c.armIdleLocked(g)
	g.mu.Unlock()

	c.wg.Add(1)
	go c.statusLoop(g)

	zlog.Debug().Msgf("playback: guild state created: guild_id=%s instance=%s", guildID, g.instanceID)
	return g
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Guilds returns the IDs of guilds with live playback state.
func (c *Controller) Guilds() []string {
	return c.guilds.Keys()
}

// acquire returns the locked live state of a guild, creating it if needed.
func (c *Controller) acquire(guildID string) *guildState {
	for {
		g := c.guilds.GetOrCreate(guildID)
		g.mu.Lock()
		if g.state != StateDisconnected {
			return g
		}
		// Torn down between lookup and lock; teardown already removed it
		g.mu.Unlock()
	}
}

// lookup returns the locked live state of a guild without creating it.
func (c *Controller) lookup(guildID string) (*guildState, bool) {
	g, ok := c.guilds.Get(guildID)
	if !ok {
		return nil, false
	}
	g.mu.Lock()
	if g.state == StateDisconnected {
		g.mu.Unlock()
		return nil, false
	}
	return g, true
}

// errGuildGone reports a guild torn down while a connection was being dialed.
var errGuildGone = errors.New("guild torn down during connect")

// Connect ensures the guild is connected to channelID.
// A live connection to another channel is kept while the guild has a current or
// queued track, and replaced otherwise. The dial runs without the guild lock,
// so status handling and timers continue during the handshake.
// Returns true if a new connection was opened.
func (c *Controller) Connect(ctx context.Context, guildID, channelID string, dial Dialer) (bool, error) {
	for {
		g := c.acquire(guildID)
		g.mu.Unlock()

		g.connectMu.Lock()
		opened, err := c.connect(ctx, g, channelID, dial)
		g.connectMu.Unlock()
		if !errors.Is(err, errGuildGone) {
			return opened, err
		}
		zlog.Debug().Msgf("playback: guild torn down during connect, retrying: guild_id=%s", guildID)
	}
}

// connect does one connection attempt. Must be called with g.connectMu held.
func (c *Controller) connect(ctx context.Context, g *guildState, channelID string, dial Dialer) (bool, error) {
	g.mu.Lock()
	if g.state == StateDisconnected {
		g.mu.Unlock()
		return false, errGuildGone
	}
	old := g.conn
	if old != nil {
		if g.channelID == channelID || g.current != nil || len(g.queue) > 0 {
			g.mu.Unlock()
			return false, nil
		}
		zlog.Info().Msgf("playback: moving to another channel: guild_id=%s from=%s to=%s", g.id, g.channelID, channelID)
		g.conn = nil
		g.channelID = ""
	}
	g.mu.Unlock()

	// The old connection is released before the new one is dialed;
	// the transport keeps one voice connection per guild.
	if old != nil {
		if err := old.Destroy(); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to destroy connection: guild_id=%s", g.id)
		}
	}

	conn, err := dial(ctx, g.player)
	if err != nil {
		return false, errors.Wrapf(err, "failed to connect guild %s", g.id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDisconnected {
		if err := conn.Destroy(); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to destroy connection: guild_id=%s", g.id)
		}
		return false, errGuildGone
	}
	g.conn = conn
	g.channelID = channelID
	zlog.Info().Msgf("playback: connected: guild_id=%s channel_id=%s", g.id, channelID)
	return true, nil
}

// Enqueue appends a track to the guild's queue and cancels a pending teardown.
// It does not start playback; call Start when WasPlaying is false.
func (c *Controller) Enqueue(guildID string, item track.Item) EnqueueResult {
	g := c.acquire(guildID)
	defer g.mu.Unlock()

	wasPlaying := g.playing
	g.queue = append(g.queue, item)

	if g.idleCancel != nil {
		c.cancelIdleLocked(g)
		zlog.Info().Msgf("playback: cleared idle timer: guild_id=%s", guildID)
	}

	zlog.Info().Msgf("playback: enqueued: guild_id=%s title=%q position=%d", guildID, item.DisplayTitle(), len(g.queue))
	return EnqueueResult{
		Position:   len(g.queue),
		WasPlaying: wasPlaying,
	}
}

// Start begins playback if no track is current.
// Returns true if a track was handed to the player.
func (c *Controller) Start(guildID string) bool {
	g := c.acquire(guildID)
	defer g.mu.Unlock()

	if g.current != nil {
		return false
	}
	c.advanceLocked(g, ReasonRequested)
	return g.current != nil
}

// Skip discards the current track and plays the next one.
// With nothing queued, the player is stopped and the idle timer armed.
func (c *Controller) Skip(guildID string) (SkipResult, error) {
	g := c.acquire(guildID)
	defer g.mu.Unlock()

	if g.current == nil {
		return SkipResult{}, ErrNotPlaying
	}

	skipped := *g.current
	c.sendEvent(Event{
		Type:    EventTrackSkipped,
		GuildID: guildID,
		Track:   &skipped,
		State:   g.state,
	})

	if len(g.queue) > 0 {
		c.advanceLocked(g, ReasonSkipped)
		result := SkipResult{Skipped: skipped}
		if g.current != nil {
			next := *g.current
			result.Next = &next
		}
		zlog.Info().Msgf("playback: skipped: guild_id=%s title=%q", guildID, skipped.DisplayTitle())
		return result, nil
	}

	g.player.Stop()
	c.cancelGraceLocked(g)
	g.current = nil
	g.playing = false
	g.state = StateIdle
	releaseItems(guildID, skipped)
	c.armIdleLocked(g)

	zlog.Info().Msgf("playback: skipped and stopped: guild_id=%s title=%q", guildID, skipped.DisplayTitle())
	return SkipResult{Skipped: skipped}, nil
}

// Clear empties the pending queue without touching the current track.
// Returns the number of removed tracks.
func (c *Controller) Clear(guildID string) (int, error) {
	g := c.acquire(guildID)
	defer g.mu.Unlock()

	if g.current == nil && len(g.queue) == 0 {
		return 0, ErrAlreadyEmpty
	}

	removed := g.queue
	g.queue = make([]track.Item, 0)
	releaseItems(guildID, removed...)

	c.cancelIdleLocked(g)
	if g.current == nil {
		// Nothing left at all, restart the inactivity countdown
		c.armIdleLocked(g)
	}

	c.sendEvent(Event{
		Type:    EventQueueCleared,
		GuildID: guildID,
		Track:   g.current,
		State:   g.state,
	})
	zlog.Info().Msgf("playback: queue cleared: guild_id=%s removed=%d", guildID, len(removed))
	return len(removed), nil
}

// Reset drops everything, stops the player, releases the connection and
// destroys the guild state immediately.
// Returns false if the guild had no state.
func (c *Controller) Reset(guildID string) bool {
	g, ok := c.lookup(guildID)
	if !ok {
		return false
	}
	defer g.mu.Unlock()

	if g.current != nil {
		releaseItems(guildID, *g.current)
	}
	releaseItems(guildID, g.queue...)
	g.queue = make([]track.Item, 0)
	g.current = nil
	g.playing = false

	// The Idle this produces lands on a disconnected state and is ignored
	g.player.Stop()
	c.teardownLocked(g, ReasonReset)
	return true
}

// Inspect returns the guild's current track and pending queue.
// ErrTenantNotFound is returned for guilds without state; ErrNotPlaying is
// returned alongside the snapshot when nothing is current or queued.
func (c *Controller) Inspect(guildID string) (Snapshot, error) {
	g, ok := c.lookup(guildID)
	if !ok {
		return Snapshot{GuildID: guildID, State: StateDisconnected}, ErrTenantNotFound
	}
	defer g.mu.Unlock()

	s := g.snapshotLocked()
	if s.Current == nil && len(s.Queue) == 0 {
		return s, ErrNotPlaying
	}
	return s, nil
}

// Close tears down every guild and releases resources.
func (c *Controller) Close() {
	for _, g := range c.guilds.Values() {
		g.mu.Lock()
		if g.state != StateDisconnected {
			if g.current != nil {
				releaseItems(g.id, *g.current)
			}
			releaseItems(g.id, g.queue...)
			g.queue = make([]track.Item, 0)
			g.current = nil
			g.player.Stop()
			c.teardownLocked(g, ReasonShutdown)
		}
		g.mu.Unlock()
	}

	c.cancel()
	c.wg.Wait()

	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
}

// statusLoop delivers the player's notifications to the state machine in order.
func (c *Controller) statusLoop(g *guildState) {
	defer c.wg.Done()

	statuses := g.player.Statuses()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-g.done:
			return
		case ev, ok := <-statuses:
			if !ok {
				return
			}
			c.handleStatus(g, ev)
		}
	}
}

// handleStatus applies a player notification.
func (c *Controller) handleStatus(g *guildState, ev StatusEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDisconnected {
		zlog.Debug().Msgf("playback: status after teardown ignored: guild_id=%s status=%s", g.id, ev.Status)
		return
	}

	zlog.Debug().Msgf("playback: player status: guild_id=%s status=%s state=%s", g.id, ev.Status, g.state)

	switch ev.Status {
	case StatusPlaying:
		if g.current == nil {
			return
		}
		g.playing = true
		g.state = StatePlaying
		c.cancelGraceLocked(g)
		c.cancelIdleLocked(g)

	case StatusIdle:
		if g.current == nil {
			// Nothing to debounce, the idle timer covers teardown
			return
		}
		switch g.state {
		case StateBuffering:
			// Second signal inside the same window; the window keeps running
			g.state = StateIdle
		case StateIdle, StatePlaying:
			g.state = StateBuffering
			c.armGraceLocked(g)
		}

	case StatusError:
		err := ev.Err
		if err == nil {
			err = errors.New("player reported an error")
		}
		err = errors.Mark(err, ErrTransport)
		c.failCurrentLocked(g, err)
		c.advanceLocked(g, ReasonFailed)
	}
}

// advanceLocked pops the next track into the player, skipping tracks that
// fail to start. With an empty queue the idle timer is armed.
// Must be called with g.mu held.
func (c *Controller) advanceLocked(g *guildState, reason string) {
	c.cancelGraceLocked(g)

	if g.current != nil {
		releaseItems(g.id, *g.current)
		g.current = nil
	}

	for {
		next, ok := g.popLocked()
		if !ok {
			break
		}

		g.current = &next
		g.playing = true
		g.state = StateIdle
		c.cancelIdleLocked(g)

		if err := g.player.Play(next.Resource); err != nil {
			err = errors.Mark(errors.Wrapf(err, "failed to play %q", next.DisplayTitle()), ErrPlaybackStartFailed)
			c.failCurrentLocked(g, err)
			continue
		}

		zlog.Info().Msgf("playback: now playing: guild_id=%s title=%q remaining=%d", g.id, next.DisplayTitle(), len(g.queue))
		c.sendEvent(Event{
			Type:    EventTrackStarted,
			GuildID: g.id,
			Track:   &next,
			State:   g.state,
			Reason:  reason,
		})
		return
	}

	g.current = nil
	g.playing = false
	g.state = StateIdle
	c.armIdleLocked(g)

	zlog.Info().Msgf("playback: queue is empty: guild_id=%s", g.id)
	c.sendEvent(Event{
		Type:    EventQueueEmpty,
		GuildID: g.id,
		State:   g.state,
	})
}

// failCurrentLocked reports and discards the current track.
// Must be called with g.mu held.
func (c *Controller) failCurrentLocked(g *guildState, err error) {
	if g.current == nil {
		zlog.Error().Err(err).Msgf("playback: player error with no current track: guild_id=%s", g.id)
		return
	}

	failed := *g.current
	zlog.Error().Err(err).Msgf("playback: track failed: guild_id=%s title=%q url=%s", g.id, failed.DisplayTitle(), failed.URL)
	c.sendEvent(Event{
		Type:    EventTrackFailed,
		GuildID: g.id,
		Track:   &failed,
		State:   g.state,
		Err:     err,
	})

	releaseItems(g.id, failed)
	g.current = nil
	g.playing = false
}

// armGraceLocked opens the grace window. A no-op while one is open.
// Must be called with g.mu held.
func (c *Controller) armGraceLocked(g *guildState) {
	if g.graceCancel != nil {
		return
	}
	seq := g.nextSeq()
	g.graceSeq = seq
	g.graceCancel = startTimer(c.config.GracePeriod, func() {
		c.onGraceExpired(g, seq)
	})
	zlog.Debug().Msgf("playback: grace window opened: guild_id=%s period=%v", g.id, c.config.GracePeriod)
}

// cancelGraceLocked closes the grace window if open.
// Must be called with g.mu held.
func (c *Controller) cancelGraceLocked(g *guildState) {
	if g.graceCancel == nil {
		return
	}
	g.graceCancel()
	g.graceCancel = nil
	g.graceSeq = 0
	if g.state == StateBuffering {
		g.state = StateIdle
	}
}

func (c *Controller) onGraceExpired(g *guildState, seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.graceSeq != seq || g.state == StateDisconnected {
		return
	}
	g.graceCancel = nil
	g.graceSeq = 0
	g.state = StateIdle

	zlog.Debug().Msgf("playback: grace window elapsed: guild_id=%s", g.id)
	c.advanceLocked(g, ReasonFinished)
}

// armIdleLocked schedules teardown. A no-op while one is outstanding.
// Must be called with g.mu held.
func (c *Controller) armIdleLocked(g *guildState) {
	if g.idleCancel != nil {
		return
	}
	seq := g.nextSeq()
	g.idleSeq = seq
	g.idleCancel = startTimer(c.config.IdleTimeout, func() {
		c.onIdleTimeout(g, seq)
	})
	zlog.Debug().Msgf("playback: idle timer armed: guild_id=%s timeout=%v", g.id, c.config.IdleTimeout)
}

// cancelIdleLocked cancels a scheduled teardown.
// Must be called with g.mu held.
func (c *Controller) cancelIdleLocked(g *guildState) {
	if g.idleCancel == nil {
		return
	}
	g.idleCancel()
	g.idleCancel = nil
	g.idleSeq = 0
}

func (c *Controller) onIdleTimeout(g *guildState, seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idleSeq != seq || g.state == StateDisconnected {
		return
	}
	g.idleCancel = nil
	g.idleSeq = 0

	if g.current != nil || len(g.queue) > 0 {
		return
	}

	zlog.Info().Msgf("playback: leaving due to inactivity: guild_id=%s", g.id)
	c.teardownLocked(g, ReasonIdleTimeout)
}

// teardownLocked releases the connection and destroys the guild state.
// Must be called with g.mu held.
func (c *Controller) teardownLocked(g *guildState, reason string) {
	c.cancelGraceLocked(g)
	c.cancelIdleLocked(g)

	if g.conn != nil {
		if err := g.conn.Destroy(); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to destroy connection: guild_id=%s", g.id)
		}
		g.conn = nil
		g.channelID = ""
	}

	g.playing = false
	g.state = StateDisconnected
	close(g.done)
	g.player.Close()
	c.guilds.RemoveIf(g.id, g)

	zlog.Info().Msgf("playback: guild state destroyed: guild_id=%s instance=%s reason=%s", g.id, g.instanceID, reason)
	c.sendEvent(Event{
		Type:    EventTornDown,
		GuildID: g.id,
		State:   g.state,
		Reason:  reason,
	})
}

// sendEvent sends an event without blocking.
func (c *Controller) sendEvent(e Event) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.eventCh <- e:
	default:
		zlog.Warn().Msgf("playback: event dropped, channel full: type=%s guild_id=%s", e.Type, e.GuildID)
	}
}

func logReleaseFailure(guildID string, item *track.Item, err error) {
	zlog.Warn().Err(err).Msgf("playback: failed to release resource: guild_id=%s title=%q", guildID, item.DisplayTitle())
}
