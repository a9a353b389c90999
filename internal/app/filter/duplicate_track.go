package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/guildbox/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the guild's queue.
// Detects:
// - Exact URL matches
// - Re-uploads of the same song (normalized title match)
type DuplicateTrackFilter struct{}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already queued, including other uploads of the same video title"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req TrackRequest, meta track.Metadata) Result {
	requested := normalizeTitle(meta.Title)

	for _, queued := range req.Queued {
		if queued.URL == meta.URL {
			return Reject("duplicate_track")
		}
		if requested != "" && normalizeTitle(queued.Title) == requested {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

var (
	// Decorations uploaders attach to the same song
	decorationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[](official\s+)?(music\s+)?(video|audio|mv|pv|lyrics?|lyric\s+video|visualizer)[\)\]]`),
		regexp.MustCompile(`\s*[\(\[]\s*(hd|hq|4k)\s*[\)\]]`),
		regexp.MustCompile(`\s*[\(\[].*?remaster(ed)?.*?[\)\]]`),
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),
		regexp.MustCompile(`\s*-\s*official\s+(music\s+)?video`),
	}
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips upload decorations from a video title.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)

	for _, pattern := range decorationPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	return strings.TrimRight(normalized, " -")
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return &DuplicateTrackFilter{}
	})
}
