// Package download turns remote video URLs into local playable audio files.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// ErrExhausted is returned when every download attempt failed.
var ErrExhausted = errors.New("download attempts exhausted")

// Config holds pipeline configuration.
type Config struct {
	Dir          string
	MaxRetries   int           // attempt ceiling
	RetryDelay   time.Duration // fixed delay between attempts
	Timeout      time.Duration // per attempt, zero for none
	Format       string        // yt-dlp format selector
	AudioFormat  string        // transcode target, also the file extension
	AudioQuality string
	Proxy        string
}

// runFunc downloads url and transcodes it to output (a yt-dlp output template).
type runFunc func(ctx context.Context, url string, output string) error

// Pipeline downloads and transcodes audio with bounded retry.
type Pipeline struct {
	config Config
	run    runFunc
}

// NewPipeline creates a pipeline backed by yt-dlp.
func NewPipeline(config Config) *Pipeline {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	p := &Pipeline{config: config}
	p.run = p.ytdlpRun
	return p
}

func (p *Pipeline) ytdlpRun(ctx context.Context, url string, output string) error {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		ExtractAudio().
		AudioFormat(p.config.AudioFormat).
		AudioQuality(p.config.AudioQuality).
		Output(output)
	if p.config.Format != "" {
		cmd.Format(p.config.Format)
	}
	if p.config.Proxy != "" {
		cmd.Proxy(p.config.Proxy)
	}

	if _, err := cmd.Run(ctx, url); err != nil {
		return errors.Wrap(err, "yt-dlp failed")
	}
	return nil
}

// Prepare downloads the track and returns a resource for its audio file.
// Failed attempts are retried after a fixed delay up to the attempt ceiling;
// the last error is returned marked with ErrExhausted.
func (p *Pipeline) Prepare(ctx context.Context, meta track.Metadata) (track.Resource, error) {
	if err := os.MkdirAll(p.config.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}

	base := filepath.Join(p.config.Dir, fmt.Sprintf("%s_%s", sanitize(meta.ID), uuid.New().String()))
	output := base + ".%(ext)s"
	final := base + "." + p.config.AudioFormat

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		err := p.attempt(ctx, meta.URL, output, final)
		if err == nil {
			zlog.Info().Msgf("download: prepared: video_id=%s path=%s attempt=%d", meta.ID, final, attempt)
			return NewFileResource(final), nil
		}
		lastErr = err
		removePartial(base)

		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "download cancelled")
		}
		if attempt == p.config.MaxRetries {
			break
		}

		zlog.Warn().Err(err).Msgf("download: retrying: video_id=%s attempt=%d max=%d", meta.ID, attempt, p.config.MaxRetries)
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "download cancelled")
		case <-time.After(p.config.RetryDelay):
		}
	}

	return nil, errors.Mark(
		errors.Wrapf(lastErr, "failed to download %s after %d attempts", meta.ID, p.config.MaxRetries),
		ErrExhausted,
	)
}

// attempt runs one download and checks that the expected file exists.
func (p *Pipeline) attempt(ctx context.Context, url, output, final string) error {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	if err := p.run(ctx, url, output); err != nil {
		return err
	}
	if _, err := os.Stat(final); err != nil {
		return errors.Wrapf(err, "expected output %s", final)
	}
	return nil
}

// Cleanup removes files left in the download directory by a previous run.
func (p *Pipeline) Cleanup() error {
	entries, err := os.ReadDir(p.config.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read download directory")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(p.config.Dir, e.Name())); err != nil {
			zlog.Warn().Err(err).Msgf("download: failed to remove stale file: name=%s", e.Name())
			continue
		}
		removed++
	}
	if removed > 0 {
		zlog.Info().Msgf("download: removed stale files: count=%d dir=%s", removed, p.config.Dir)
	}
	return nil
}

// removePartial deletes whatever a failed attempt left behind.
func removePartial(base string) {
	matches, _ := filepath.Glob(base + "*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// sanitize keeps ids safe for use in file names.
func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "track"
	}
	return string(out)
}
