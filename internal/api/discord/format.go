package discord

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildbox/internal/app/jukebox"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/infra/youtube"
)

// maxUpcoming is the number of queued titles listed by the queue command.
const maxUpcoming = 10

// formatQueue renders the current track and the head of the queue.
func formatQueue(s playback.Snapshot) string {
	var b strings.Builder

	if s.Current != nil {
		fmt.Fprintf(&b, "🎶 **Now Playing:** %s\n\n", s.Current.DisplayTitle())
	} else {
		b.WriteString("No song is currently playing.\n\n")
	}

	if len(s.Queue) == 0 {
		b.WriteString("No more songs in the queue.")
		return b.String()
	}

	b.WriteString("**Up Next:**")
	for i, item := range s.Queue {
		if i == maxUpcoming {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, item.DisplayTitle())
	}
	if len(s.Queue) > maxUpcoming {
		fmt.Fprintf(&b, "\n...and %d more.", len(s.Queue)-maxUpcoming)
	}
	return b.String()
}

// errorCode maps a command failure to a message code.
func errorCode(err error) string {
	if code, ok := jukebox.RejectionCode(err); ok {
		return code
	}
	switch {
	case errors.Is(err, youtube.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, jukebox.ErrLookupFailed):
		return "track_not_found"
	case errors.Is(err, jukebox.ErrPrepareFailed):
		return "download_failed"
	case errors.Is(err, jukebox.ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, playback.ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, playback.ErrAlreadyEmpty):
		return "already_empty"
	default:
		return "default_error"
	}
}
