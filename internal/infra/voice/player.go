// Package voice connects guild players to Discord voice channels.
package voice

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"

	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/track"
)

// Errors
var (
	ErrNotConnected = errors.New("player is not connected to a voice channel")
	ErrClosed       = errors.New("player is closed")
)

// statusBuffer is the capacity of the status channel.
const statusBuffer = 16

// encodeFunc encodes one PCM frame into data and returns the packet length.
type encodeFunc func(pcm []int16, data []byte) (int, error)

// Player streams prepared audio files into a voice connection.
// It implements playback.Player.
type Player struct {
	guildID   string
	newSource sourceFunc
	encode    encodeFunc

	mu       sync.Mutex
	sink     frameSink
	gen      uint64             // bumped by Play; a stream whose gen is stale was superseded
	cancel   context.CancelFunc // current stream
	closed   bool
	wg       sync.WaitGroup
	statuses chan playback.StatusEvent
}

// NewPlayer creates a player with an ffmpeg decoder and an opus encoder.
func NewPlayer(guildID string) (*Player, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	return newPlayer(guildID, newFFmpegSource, enc.Encode), nil
}

func newPlayer(guildID string, newSource sourceFunc, encode encodeFunc) *Player {
	return &Player{
		guildID:   guildID,
		newSource: newSource,
		encode:    encode,
		statuses:  make(chan playback.StatusEvent, statusBuffer),
	}
}

// attach sets the sink frames are written to.
func (p *Player) attach(sink frameSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// detach removes the sink and halts the current stream.
func (p *Player) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
	if p.cancel != nil {
		p.gen++
		p.cancel()
		p.cancel = nil
	}
}

// Play starts streaming res, replacing the current stream without reporting Idle for it.
func (p *Player) Play(res track.Resource) error {
	if res == nil {
		return errors.New("no resource")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.sink == nil {
		return ErrNotConnected
	}

	// Supersede the running stream
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	src, err := p.newSource(ctx, res.Source())
	if err != nil {
		cancel()
		return errors.Wrapf(err, "failed to decode %s", res.Source())
	}

	p.cancel = cancel
	p.wg.Add(1)
	go p.stream(ctx, p.gen, src, p.sink)

	zlog.Debug().Msgf("voice: stream started: guild_id=%s source=%s", p.guildID, res.Source())
	return nil
}

// Stop halts the current stream. Idle is reported once it has ended.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Statuses returns the notification channel.
func (p *Player) Statuses() <-chan playback.StatusEvent {
	return p.statuses
}

// Close halts the current stream and waits for it to finish.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.sink = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// stream pumps frames from src to sink until end of stream, cancellation or failure.
func (p *Player) stream(ctx context.Context, gen uint64, src pcmSource, sink frameSink) {
	defer p.wg.Done()
	defer src.Close()

	pcm := make([]int16, frameSize*channels)
	packet := make([]byte, maxPacket)
	started := false
	var streamErr error

	for {
		if err := src.ReadFrame(pcm); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				streamErr = err
			}
			break
		}

		n, err := p.encode(pcm, packet)
		if err != nil {
			streamErr = errors.Wrap(err, "opus encode failed")
			break
		}
		frame := make([]byte, n)
		copy(frame, packet[:n])

		if !started {
			started = true
			if err := sink.Speaking(true); err != nil {
				zlog.Warn().Err(err).Msgf("voice: failed to set speaking: guild_id=%s", p.guildID)
			}
			p.emitIfCurrent(gen, playback.StatusEvent{Status: playback.StatusPlaying})
		}

		if err := sink.Send(ctx, frame); err != nil {
			if ctx.Err() == nil {
				streamErr = err
			}
			break
		}
	}

	if started {
		if err := sink.Speaking(false); err != nil {
			zlog.Debug().Err(err).Msgf("voice: failed to clear speaking: guild_id=%s", p.guildID)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.closed {
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	if streamErr != nil {
		zlog.Error().Err(streamErr).Msgf("voice: stream failed: guild_id=%s", p.guildID)
		p.emitLocked(playback.StatusEvent{Status: playback.StatusError, Err: streamErr})
		return
	}
	zlog.Debug().Msgf("voice: stream ended: guild_id=%s", p.guildID)
	p.emitLocked(playback.StatusEvent{Status: playback.StatusIdle})
}

func (p *Player) emitIfCurrent(gen uint64, ev playback.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen == p.gen && !p.closed {
		p.emitLocked(ev)
	}
}

// emitLocked sends a status without blocking.
// Must be called with mu held.
func (p *Player) emitLocked(ev playback.StatusEvent) {
	select {
	case p.statuses <- ev:
	default:
		zlog.Warn().Msgf("voice: status dropped, channel full: guild_id=%s status=%s", p.guildID, ev.Status)
	}
}
