package youtube

import (
	"regexp"
	"strings"
)

var (
	videoIDPattern  = regexp.MustCompile(`(?:https?://)?(?:www\.|m\.|music\.)?(?:youtu\.be/|youtube\.com/(?:watch\?v=|embed/|v/|shorts/|live/|watch\?.+&v=))([a-zA-Z0-9_-]{11})`)
	validURLPattern = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?(youtube\.com|youtu\.be)/.+$`)
	bareIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
)

// IsValidURL reports whether s looks like a video platform URL.
func IsValidURL(s string) bool {
	return validURLPattern.MatchString(strings.TrimSpace(s))
}

// ExtractVideoID returns the 11 character video ID embedded in a URL, or "".
func ExtractVideoID(s string) string {
	m := videoIDPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	return m[1]
}

// IsVideoID reports whether s is a bare video ID.
func IsVideoID(s string) bool {
	return bareIDPattern.MatchString(s)
}

// WatchURL returns the canonical watch URL of a video.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
