package voice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// PCM format fed to the encoder.
const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // samples per channel in a 20ms frame
	maxPacket  = 4000
)

// pcmSource yields fixed-size interleaved 16-bit PCM frames.
type pcmSource interface {
	// ReadFrame fills pcm completely or returns io.EOF at end of stream.
	ReadFrame(pcm []int16) error
	Close() error
}

// sourceFunc opens a decoder for a local audio file.
type sourceFunc func(ctx context.Context, path string) (pcmSource, error)

// ffmpegSource decodes audio with an ffmpeg child process.
type ffmpegSource struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	stderr *bytes.Buffer
	waited bool
}

func newFFmpegSource(ctx context.Context, path string) (pcmSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "audio file unavailable")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ffmpeg output")
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	return &ffmpegSource{
		cmd:    cmd,
		r:      bufio.NewReaderSize(stdout, frameSize*channels*2*8),
		stderr: stderr,
	}, nil
}

func (s *ffmpegSource) ReadFrame(pcm []int16) error {
	err := binary.Read(s.r, binary.LittleEndian, pcm)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// A trailing partial frame is dropped
		if werr := s.wait(); werr != nil {
			return errors.Wrapf(werr, "ffmpeg: %s", strings.TrimSpace(s.stderr.String()))
		}
		return io.EOF
	}
	return errors.Wrap(err, "failed to read pcm")
}

func (s *ffmpegSource) Close() error {
	if s.waited {
		return nil
	}
	_ = s.cmd.Process.Kill()
	_ = s.wait()
	return nil
}

func (s *ffmpegSource) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}
