// Package jukebox provides the service that turns user requests into queued tracks.
package jukebox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/filter"
	"github.com/osa030/guildbox/internal/app/notification"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/guild"
	"github.com/osa030/guildbox/internal/domain/track"
	"github.com/osa030/guildbox/internal/infra/cache"
)

var (
	// ErrRejected is matched by every error produced by a filter rejection.
	ErrRejected = errors.New("request rejected")
	// ErrLookupFailed marks failures to resolve a query or fetch its metadata.
	ErrLookupFailed = errors.New("lookup failed")
	// ErrPrepareFailed marks failures to produce a playable resource.
	ErrPrepareFailed = errors.New("prepare failed")
	// ErrConnectFailed marks failures to join the requester's voice channel.
	ErrConnectFailed = errors.New("connect failed")
)

// RejectionError carries the reason code of a filter rejection.
type RejectionError struct {
	Code string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("request rejected: %s", e.Code)
}

// Is reports whether target is ErrRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// RejectionCode returns the reason code if err is a filter rejection.
func RejectionCode(err error) (string, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// Resolver turns queries into video metadata.
type Resolver interface {
	Resolve(ctx context.Context, query string) (string, error)
	Fetch(ctx context.Context, id string) (track.Metadata, error)
}

// Preparer turns metadata into a playable resource.
type Preparer interface {
	Prepare(ctx context.Context, meta track.Metadata) (track.Resource, error)
}

// Directory records the guilds the bot is a member of.
type Directory interface {
	AddGuild(ctx context.Context, g guild.Guild) (bool, error)
	RemoveGuild(ctx context.Context, id string) (bool, error)
	ListGuilds(ctx context.Context) ([]guild.Guild, error)
}

// DialerFunc returns a dialer for a guild's voice channel.
type DialerFunc func(guildID, channelID string) playback.Dialer

// Config represents service configuration.
type Config struct {
	MetadataTTL time.Duration
}

// Request is a user's request to play something.
type Request struct {
	GuildID     string
	ChannelID   string // voice channel of the requester
	Query       string // URL, video ID or search text
	RequestedBy string
}

// Outcome describes what happened to an accepted request.
type Outcome struct {
	Item     track.Item
	Started  bool // playback began with this request
	Position int  // queue position at enqueue time
}

// Service coordinates lookup, filtering, preparation and playback.
type Service struct {
	controller   *playback.Controller
	notification *notification.Manager
	filterChain  *filter.Chain
	resolver     Resolver
	preparer     Preparer
	dialer       DialerFunc
	directory    Directory
	metadata     *cache.TTLCache[string, track.Metadata]

	purgeInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new service. A nil filter chain accepts everything.
func NewService(
	config Config,
	controller *playback.Controller,
	notifier *notification.Manager,
	chain *filter.Chain,
	resolver Resolver,
	preparer Preparer,
	dialer DialerFunc,
	directory Directory,
) *Service {
	if chain == nil {
		chain = filter.NewChain()
	}
	ttl := config.MetadataTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		controller:    controller,
		notification:  notifier,
		filterChain:   chain,
		resolver:      resolver,
		preparer:      preparer,
		dialer:        dialer,
		directory:     directory,
		metadata:      cache.New[string, track.Metadata](ttl),
		purgeInterval: ttl,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the event loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.eventLoop()
	}()
}

// Close tears down every guild and stops the event loop.
func (s *Service) Close() {
	// Closing the controller closes its event channel, which ends the loop
	// after the teardown events are delivered.
	s.controller.Close()
	s.wg.Wait()
	s.cancel()
	s.notification.Close()
}

// Notifications returns the notification manager.
func (s *Service) Notifications() *notification.Manager {
	return s.notification
}

// Filters returns the active filter chain.
func (s *Service) Filters() []filter.Filter {
	return s.filterChain.Filters()
}

// Request resolves, validates and prepares the requested track, then queues it
// and starts playback if the guild was not playing.
func (s *Service) Request(ctx context.Context, req Request) (Outcome, error) {
	id, err := s.resolver.Resolve(ctx, req.Query)
	if err != nil {
		zlog.Warn().Err(err).Msgf("jukebox: resolve failed: guild_id=%s query=%q", req.GuildID, req.Query)
		return Outcome{}, errors.Mark(errors.Wrap(err, "failed to resolve query"), ErrLookupFailed)
	}

	meta, err := s.lookup(ctx, id)
	if err != nil {
		zlog.Warn().Err(err).Msgf("jukebox: metadata lookup failed: guild_id=%s video_id=%s", req.GuildID, id)
		return Outcome{}, errors.Mark(errors.Wrap(err, "failed to look up metadata"), ErrLookupFailed)
	}

	result := s.filterChain.Execute(ctx, filter.TrackRequest{
		GuildID:     req.GuildID,
		RequestedBy: req.RequestedBy,
		Queued:      s.queued(req.GuildID),
	}, meta)
	zlog.Info().Msgf("jukebox: track request: guild_id=%s requested_by=%s title=%q result=%t code=%s",
		req.GuildID, req.RequestedBy, meta.Title, result.Accepted, result.Code)
	if !result.Accepted {
		return Outcome{}, &RejectionError{Code: result.Code}
	}

	res, err := s.preparer.Prepare(ctx, meta)
	if err != nil {
		zlog.Error().Err(err).Msgf("jukebox: prepare failed: guild_id=%s video_id=%s", req.GuildID, id)
		return Outcome{}, errors.Mark(errors.Wrap(err, "failed to prepare audio"), ErrPrepareFailed)
	}
	item := track.NewItem(meta, res, req.RequestedBy)

	if _, err := s.controller.Connect(ctx, req.GuildID, req.ChannelID, s.dialer(req.GuildID, req.ChannelID)); err != nil {
		if rerr := item.Release(); rerr != nil {
			zlog.Warn().Err(rerr).Msgf("jukebox: release failed: guild_id=%s title=%q", req.GuildID, item.DisplayTitle())
		}
		zlog.Error().Err(err).Msgf("jukebox: connect failed: guild_id=%s channel_id=%s", req.GuildID, req.ChannelID)
		return Outcome{}, errors.Mark(err, ErrConnectFailed)
	}

	enq := s.controller.Enqueue(req.GuildID, item)
	outcome := Outcome{Item: item, Position: enq.Position}
	if !enq.WasPlaying {
		outcome.Started = s.controller.Start(req.GuildID)
	}
	return outcome, nil
}

// lookup returns cached metadata or fetches it.
func (s *Service) lookup(ctx context.Context, id string) (track.Metadata, error) {
	if meta, ok := s.metadata.Get(id); ok {
		zlog.Debug().Msgf("jukebox: metadata cache hit: video_id=%s", id)
		return meta, nil
	}
	meta, err := s.resolver.Fetch(ctx, id)
	if err != nil {
		return track.Metadata{}, err
	}
	s.metadata.Set(id, meta, 0)
	return meta, nil
}

// queued returns the guild's current track followed by its pending queue.
func (s *Service) queued(guildID string) []track.Item {
	snap, err := s.controller.Inspect(guildID)
	if errors.Is(err, playback.ErrTenantNotFound) {
		return nil
	}
	items := make([]track.Item, 0, len(snap.Queue)+1)
	if snap.Current != nil {
		items = append(items, *snap.Current)
	}
	return append(items, snap.Queue...)
}

// Skip skips the current track.
func (s *Service) Skip(guildID string) (playback.SkipResult, error) {
	return s.controller.Skip(guildID)
}

// Clear empties the pending queue.
func (s *Service) Clear(guildID string) (int, error) {
	return s.controller.Clear(guildID)
}

// Reset destroys the guild's playback state.
func (s *Service) Reset(guildID string) bool {
	return s.controller.Reset(guildID)
}

// Inspect returns the guild's playback snapshot.
func (s *Service) Inspect(guildID string) (playback.Snapshot, error) {
	return s.controller.Inspect(guildID)
}

// ActiveGuilds returns the IDs of guilds with live playback state.
func (s *Service) ActiveGuilds() []string {
	return s.controller.Guilds()
}

// GuildJoined records a guild the bot became a member of.
func (s *Service) GuildJoined(ctx context.Context, id, name string) error {
	added, err := s.directory.AddGuild(ctx, *guild.New(id, name))
	if err != nil {
		return errors.Wrapf(err, "failed to record guild %s", id)
	}
	if added {
		zlog.Info().Msgf("jukebox: guild joined: guild_id=%s name=%q", id, name)
	}
	return nil
}

// GuildLeft forgets a guild and drops its playback state.
func (s *Service) GuildLeft(ctx context.Context, id string) error {
	s.controller.Reset(id)
	removed, err := s.directory.RemoveGuild(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "failed to forget guild %s", id)
	}
	if removed {
		zlog.Info().Msgf("jukebox: guild left: guild_id=%s", id)
	}
	return nil
}

// KnownGuilds returns the guild directory.
func (s *Service) KnownGuilds(ctx context.Context) ([]guild.Guild, error) {
	return s.directory.ListGuilds(ctx)
}

// eventLoop forwards playback events to subscribers and purges stale metadata.
func (s *Service) eventLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("jukebox: event loop panicked: %v", r)
			// Restart loop so events keep draining
			zlog.Info().Msg("jukebox: restarting event loop")
			s.Start()
		}
	}()

	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()

	events := s.controller.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case <-ticker.C:
			if n := s.metadata.Purge(); n > 0 {
				zlog.Debug().Msgf("jukebox: purged metadata cache: entries=%d", n)
			}
		}
	}
}

// handleEvent handles a playback event.
func (s *Service) handleEvent(event playback.Event) {
	title := ""
	if event.Track != nil {
		title = event.Track.DisplayTitle()
	}
	zlog.Debug().Msgf("jukebox: playback event: type=%s guild_id=%s title=%q", event.Type, event.GuildID, title)

	if event.Type == playback.EventTrackFailed {
		zlog.Warn().Err(event.Err).Msgf("jukebox: track failed: guild_id=%s title=%q", event.GuildID, title)
	}

	s.notification.Broadcast(event)
}
