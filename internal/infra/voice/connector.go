package voice

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/playback"
)

// sendTimeout bounds how long a frame may wait for the voice connection.
const sendTimeout = 2 * time.Second

// joinFunc joins a voice channel.
type joinFunc func(guildID, channelID string) (*discordgo.VoiceConnection, error)

// Connector joins voice channels on behalf of guild players.
type Connector struct {
	join joinFunc
}

// NewConnector creates a connector for a Discord session.
func NewConnector(session *discordgo.Session) *Connector {
	return &Connector{
		join: func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
			// Deafened: the bot never listens
			return session.ChannelVoiceJoin(guildID, channelID, false, true)
		},
	}
}

// Dialer returns a dialer joining the given voice channel.
func (c *Connector) Dialer(guildID, channelID string) playback.Dialer {
	return func(ctx context.Context, p playback.Player) (playback.Connection, error) {
		player, ok := p.(*Player)
		if !ok {
			return nil, errors.Newf("unsupported player type %T", p)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vc, err := c.join(guildID, channelID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to join voice channel %s", channelID)
		}

		player.attach(&discordSink{vc: vc, timeout: sendTimeout})
		zlog.Info().Msgf("voice: joined channel: guild_id=%s channel_id=%s", guildID, channelID)

		return &Connection{
			guildID: guildID,
			player:  player,
			disconnect: func() error {
				_ = vc.Speaking(false)
				return vc.Disconnect()
			},
		}, nil
	}
}

// Connection is a joined voice channel. It implements playback.Connection.
type Connection struct {
	guildID    string
	player     *Player
	disconnect func() error

	once sync.Once
	err  error
}

// Destroy leaves the voice channel. Only the first call does any work.
func (c *Connection) Destroy() error {
	c.once.Do(func() {
		c.player.detach()
		if err := c.disconnect(); err != nil {
			c.err = errors.Wrap(err, "failed to disconnect voice")
			return
		}
		zlog.Info().Msgf("voice: left channel: guild_id=%s", c.guildID)
	})
	return c.err
}

// PlayerFactory returns a playback.PlayerFactory creating voice players.
// A player whose encoder cannot be created fails every Play.
func PlayerFactory() playback.PlayerFactory {
	return func(guildID string) playback.Player {
		p, err := NewPlayer(guildID)
		if err != nil {
			zlog.Error().Err(err).Msgf("voice: player unavailable: guild_id=%s", guildID)
			return newPlayer(guildID, newFFmpegSource, func(pcm []int16, data []byte) (int, error) {
				return 0, err
			})
		}
		return p
	}
}
