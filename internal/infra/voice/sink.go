package voice

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// frameSink receives encoded opus frames.
type frameSink interface {
	Speaking(speaking bool) error
	Send(ctx context.Context, frame []byte) error
}

// discordSink writes frames to a discordgo voice connection.
type discordSink struct {
	vc      *discordgo.VoiceConnection
	timeout time.Duration
}

func (s *discordSink) Speaking(speaking bool) error {
	return s.vc.Speaking(speaking)
}

func (s *discordSink) Send(ctx context.Context, frame []byte) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Newf("voice send timed out after %v", s.timeout)
	}
}
