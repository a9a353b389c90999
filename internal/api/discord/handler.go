package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/jukebox"
	"github.com/osa030/guildbox/internal/app/notification"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/infra/config"
)

// commandTimeout bounds a single command, downloads included.
const commandTimeout = 5 * time.Minute

// Jukebox is the service used by the command handlers.
type Jukebox interface {
	Request(ctx context.Context, req jukebox.Request) (jukebox.Outcome, error)
	Skip(guildID string) (playback.SkipResult, error)
	Clear(guildID string) (int, error)
	Reset(guildID string) bool
	Inspect(guildID string) (playback.Snapshot, error)
	GuildJoined(ctx context.Context, id, name string) error
	GuildLeft(ctx context.Context, id string) error
}

// invocation is a slash command stripped of its transport.
type invocation struct {
	Command        string
	GuildID        string
	ChannelID      string // text channel the command was issued in
	VoiceChannelID string // requester's voice channel, empty when not in one
	UserName       string
	Query          string
}

// reply is the response to an invocation.
type reply struct {
	Content   string
	Ephemeral bool
}

// Handler serves slash commands and guild membership events.
type Handler struct {
	service Jukebox
	config  *config.Config
	send    func(channelID, content string) error

	mu       sync.Mutex
	channels map[string]string // guild ID -> text channel for announcements
}

// NewHandler creates a new handler.
func NewHandler(service Jukebox, cfg *config.Config) *Handler {
	return &Handler{
		service:  service,
		config:   cfg,
		channels: make(map[string]string),
		send: func(string, string) error {
			return errors.New("discord session not registered")
		},
	}
}

// Register installs the handler on a session. It must be called before the
// session is opened.
func (h *Handler) Register(s *discordgo.Session) {
	h.send = func(channelID, content string) error {
		_, err := s.ChannelMessageSend(channelID, content)
		return err
	}
	s.AddHandler(h.onReady)
	s.AddHandler(h.onInteractionCreate)
	s.AddHandler(h.onGuildCreate)
	s.AddHandler(h.onGuildDelete)
}

// Stream returns the notification stream posting announcements.
func (h *Handler) Stream() notification.Stream {
	return notification.StreamFunc(h.announce)
}

func (h *Handler) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("discord: logged in: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	if h.config.Discord.Status == "" {
		return
	}
	if err := s.UpdateGameStatus(0, h.config.Discord.Status); err != nil {
		zlog.Warn().Err(err).Msg("discord: failed to update status")
	}
}

func (h *Handler) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	if err := h.service.GuildJoined(context.Background(), g.ID, g.Name); err != nil {
		zlog.Error().Err(err).Msgf("discord: failed to record guild: guild_id=%s", g.ID)
	}
}

func (h *Handler) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal
	if g.Unavailable {
		zlog.Warn().Msgf("discord: guild unavailable: guild_id=%s", g.ID)
		return
	}
	h.forgetChannel(g.ID)
	if err := h.service.GuildLeft(context.Background(), g.ID); err != nil {
		zlog.Error().Err(err).Msgf("discord: failed to forget guild: guild_id=%s", g.ID)
	}
}

func (h *Handler) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" {
		h.respond(s, i, reply{Content: h.config.GetMessage("guild_only"), Ephemeral: true})
		return
	}

	inv := newInvocation(s, i)
	zlog.Info().Msgf("discord: command: name=%s guild_id=%s user=%s", inv.Command, inv.GuildID, inv.UserName)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if inv.Command == commandPlay && inv.VoiceChannelID != "" {
		// Preparing audio outlasts the interaction deadline
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			zlog.Error().Err(err).Msgf("discord: failed to defer response: guild_id=%s", inv.GuildID)
			return
		}
		r := h.execute(ctx, inv)
		if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: r.Content,
			Flags:   flags(r),
		}); err != nil {
			zlog.Error().Err(err).Msgf("discord: failed to send followup: guild_id=%s", inv.GuildID)
		}
		return
	}

	h.respond(s, i, h.execute(ctx, inv))
}

func (h *Handler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, r reply) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: r.Content,
			Flags:   flags(r),
		},
	})
	if err != nil {
		zlog.Error().Err(err).Msgf("discord: failed to respond: guild_id=%s", i.GuildID)
	}
}

func flags(r reply) discordgo.MessageFlags {
	if r.Ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// newInvocation extracts the command, its options and the requester's voice channel.
func newInvocation(s *discordgo.Session, i *discordgo.InteractionCreate) invocation {
	data := i.ApplicationCommandData()
	inv := invocation{
		Command:   data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	for _, opt := range data.Options {
		if opt.Name == optionQuery {
			inv.Query = opt.StringValue()
		}
	}

	var userID string
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
		inv.UserName = i.Member.User.Username
	case i.User != nil:
		userID = i.User.ID
		inv.UserName = i.User.Username
	}

	if vs, err := s.State.VoiceState(i.GuildID, userID); err == nil && vs.ChannelID != "" {
		inv.VoiceChannelID = vs.ChannelID
	}
	return inv
}

// execute runs a command and builds its reply.
func (h *Handler) execute(ctx context.Context, inv invocation) reply {
	switch inv.Command {
	case commandPlay:
		return h.play(ctx, inv)
	case commandSkip:
		return h.skip(inv)
	case commandClear:
		return h.clear(inv)
	case commandQueue:
		return h.queue(inv)
	case commandReset:
		return h.reset(inv)
	default:
		zlog.Warn().Msgf("discord: unknown command: name=%s", inv.Command)
		return reply{Content: h.config.Messages.DefaultError, Ephemeral: true}
	}
}

func (h *Handler) play(ctx context.Context, inv invocation) reply {
	if inv.VoiceChannelID == "" {
		return reply{Content: h.config.GetMessage("not_in_voice"), Ephemeral: true}
	}

	out, err := h.service.Request(ctx, jukebox.Request{
		GuildID:     inv.GuildID,
		ChannelID:   inv.VoiceChannelID,
		Query:       inv.Query,
		RequestedBy: inv.UserName,
	})
	if err != nil {
		return h.failure(inv, err)
	}

	h.rememberChannel(inv.GuildID, inv.ChannelID)
	if out.Started {
		return reply{Content: fmt.Sprintf(h.config.Messages.NowPlaying, out.Item.DisplayTitle())}
	}
	return reply{Content: fmt.Sprintf(h.config.Messages.AddedToQueue, out.Item.DisplayTitle())}
}

func (h *Handler) skip(inv invocation) reply {
	result, err := h.service.Skip(inv.GuildID)
	if err != nil {
		return h.failure(inv, err)
	}
	if result.Next != nil {
		return reply{Content: h.config.Messages.Skipped}
	}
	return reply{Content: h.config.Messages.SkippedAndStopped}
}

func (h *Handler) clear(inv invocation) reply {
	if _, err := h.service.Clear(inv.GuildID); err != nil {
		return h.failure(inv, err)
	}
	return reply{Content: h.config.Messages.Cleared}
}

func (h *Handler) queue(inv invocation) reply {
	snap, err := h.service.Inspect(inv.GuildID)
	if errors.Is(err, playback.ErrTenantNotFound) || errors.Is(err, playback.ErrNotPlaying) {
		return reply{Content: h.config.GetMessage("queue_empty"), Ephemeral: true}
	}
	if err != nil {
		return h.failure(inv, err)
	}
	return reply{Content: formatQueue(snap)}
}

func (h *Handler) reset(inv invocation) reply {
	h.forgetChannel(inv.GuildID)
	if !h.service.Reset(inv.GuildID) {
		return reply{Content: h.config.Messages.NothingToReset, Ephemeral: true}
	}
	return reply{Content: h.config.Messages.Reset}
}

// failure logs a command failure and maps it to a user-facing reply.
func (h *Handler) failure(inv invocation, err error) reply {
	code := errorCode(err)
	if code == "default_error" {
		zlog.Error().Err(err).Msgf("discord: command failed: name=%s guild_id=%s", inv.Command, inv.GuildID)
	} else {
		zlog.Info().Msgf("discord: command refused: name=%s guild_id=%s code=%s", inv.Command, inv.GuildID, code)
	}
	return reply{Content: h.config.GetMessage(code), Ephemeral: true}
}

// announce posts tracks that start on their own to the guild's last command channel.
func (h *Handler) announce(n *notification.Notification) error {
	ev := n.Event
	switch ev.Type {
	case playback.EventTrackStarted:
		// Requested starts are answered by the play reply
		if ev.Track == nil || ev.Reason == playback.ReasonRequested {
			return nil
		}
		channelID, ok := h.channel(ev.GuildID)
		if !ok {
			return nil
		}
		return h.send(channelID, fmt.Sprintf(h.config.Messages.NowPlaying, ev.Track.DisplayTitle()))
	case playback.EventTornDown:
		h.forgetChannel(ev.GuildID)
	}
	return nil
}

func (h *Handler) rememberChannel(guildID, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[guildID] = channelID
}

func (h *Handler) forgetChannel(guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, guildID)
}

func (h *Handler) channel(guildID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[guildID]
	return ch, ok
}
