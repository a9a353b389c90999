package discord

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/guildbox/internal/app/jukebox"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/track"
	"github.com/osa030/guildbox/internal/infra/youtube"
)

func items(n int) []track.Item {
	out := make([]track.Item, n)
	for i := range out {
		out[i] = track.Item{Title: fmt.Sprintf("song %d", i+1)}
	}
	return out
}

func TestFormatQueue(t *testing.T) {
	current := &track.Item{Title: "Current Song"}

	tests := []struct {
		name     string
		snapshot playback.Snapshot
		expected string
	}{
		{
			name:     "current only",
			snapshot: playback.Snapshot{Current: current},
			expected: "🎶 **Now Playing:** Current Song\n\nNo more songs in the queue.",
		},
		{
			name:     "current and queue",
			snapshot: playback.Snapshot{Current: current, Queue: items(2)},
			expected: "🎶 **Now Playing:** Current Song\n\n**Up Next:**\n1. song 1\n2. song 2",
		},
		{
			name:     "queue without current",
			snapshot: playback.Snapshot{Queue: items(1)},
			expected: "No song is currently playing.\n\n**Up Next:**\n1. song 1",
		},
		{
			name:     "untitled falls back to url",
			snapshot: playback.Snapshot{Current: &track.Item{URL: "https://youtu.be/dQw4w9WgXcQ"}},
			expected: "🎶 **Now Playing:** https://youtu.be/dQw4w9WgXcQ\n\nNo more songs in the queue.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatQueue(tt.snapshot))
		})
	}
}

func TestFormatQueue_Truncates(t *testing.T) {
	out := formatQueue(playback.Snapshot{Current: &track.Item{Title: "Current"}, Queue: items(13)})

	assert.Contains(t, out, "\n10. song 10")
	assert.NotContains(t, out, "song 11")
	assert.True(t, strings.HasSuffix(out, "\n...and 3 more."))

	exact := formatQueue(playback.Snapshot{Queue: items(10)})
	assert.NotContains(t, exact, "more.")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"rejection", &jukebox.RejectionError{Code: "queue_full"}, "queue_full"},
		{"wrapped rejection", errors.Wrap(&jukebox.RejectionError{Code: "duplicate_track"}, "request"), "duplicate_track"},
		{"invalid url", errors.Mark(errors.Wrap(youtube.ErrInvalidURL, "resolve"), jukebox.ErrLookupFailed), "invalid_url"},
		{"lookup", errors.Mark(errors.New("search quota"), jukebox.ErrLookupFailed), "track_not_found"},
		{"prepare", errors.Mark(errors.New("yt-dlp exited"), jukebox.ErrPrepareFailed), "download_failed"},
		{"connect", errors.Mark(errors.New("timeout"), jukebox.ErrConnectFailed), "connect_failed"},
		{"not playing", playback.ErrNotPlaying, "not_playing"},
		{"already empty", playback.ErrAlreadyEmpty, "already_empty"},
		{"unknown", errors.New("boom"), "default_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorCode(tt.err))
		})
	}
}
