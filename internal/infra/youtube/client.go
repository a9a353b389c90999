// Package youtube provides video metadata lookup and search.
package youtube

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// Errors
var (
	ErrNotFound   = errors.New("video not found")
	ErrInvalidURL = errors.New("invalid video url")
)

// metadataTemplate is the yt-dlp print template parsed by parseMetadata.
const metadataTemplate = "%(id)s\t%(duration)s\t%(availability)s\t%(live_status)s\t%(title)s"

// Config holds client configuration.
type Config struct {
	Proxy         string // yt-dlp and search proxy URL
	AllowUnlisted bool   // accept unlisted videos in addition to public ones
}

// printFunc runs yt-dlp without downloading and returns its stdout.
type printFunc func(ctx context.Context, template string, target string) (string, error)

// searchFunc returns matching video IDs, best match first.
type searchFunc func(ctx context.Context, query string) ([]string, error)

// Client resolves user queries into track metadata.
type Client struct {
	config Config
	print  printFunc
	search searchFunc
}

// NewClient creates a new client backed by yt-dlp and the search scraper.
func NewClient(config Config) *Client {
	c := &Client{config: config}
	c.print = c.ytdlpPrint
	c.search = newSearch(config.Proxy)
	return c
}

// ytdlpPrint runs yt-dlp in metadata-only mode.
func (c *Client) ytdlpPrint(ctx context.Context, template string, target string) (string, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		SkipDownload().
		Print(template)
	if c.config.Proxy != "" {
		cmd.Proxy(c.config.Proxy)
	}

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return "", errors.Wrap(err, "yt-dlp failed")
	}
	return res.Stdout, nil
}

func newSearch(proxy string) searchFunc {
	var httpClient *http.Client
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil {
			httpClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
		} else {
			zlog.Warn().Err(err).Msgf("youtube: ignoring invalid proxy for search: proxy=%s", proxy)
		}
	}
	sc := ytsearch.NewClient(httpClient)

	return func(ctx context.Context, query string) ([]string, error) {
		r, err := sc.Search(ctx, query)
		if err != nil {
			return nil, errors.Wrap(err, "search failed")
		}
		ids := make([]string, 0, len(r.Results))
		for _, v := range r.Results {
			if v.VideoID != "" {
				ids = append(ids, v.VideoID)
			}
		}
		return ids, nil
	}
}

// Resolve turns a URL, bare video ID or free-text query into a video ID.
// Returns ErrInvalidURL for platform URLs without a video ID and ErrNotFound
// when a search has no results.
func (c *Client) Resolve(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrInvalidURL
	}

	if IsValidURL(query) {
		id := ExtractVideoID(query)
		if id == "" {
			return "", errors.Wrapf(ErrInvalidURL, "no video id in %q", query)
		}
		return id, nil
	}
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return "", errors.Wrapf(ErrInvalidURL, "unsupported url %q", query)
	}
	if IsVideoID(query) {
		return query, nil
	}

	return c.Search(ctx, query)
}

// Search returns the ID of the best matching video.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	ids, err := c.search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errors.Wrapf(ErrNotFound, "no results for %q", query)
	}
	zlog.Debug().Msgf("youtube: search resolved: query=%q video_id=%s", query, ids[0])
	return ids[0], nil
}

// Fetch returns the metadata of a video. Videos that are not publicly
// available are reported as ErrNotFound.
func (c *Client) Fetch(ctx context.Context, id string) (track.Metadata, error) {
	out, err := c.print(ctx, metadataTemplate, WatchURL(id))
	if err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to fetch %s", id)
	}

	meta, availability, err := parseMetadata(out)
	if err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to fetch %s", id)
	}
	if !c.available(availability) {
		return track.Metadata{}, errors.Wrapf(ErrNotFound, "video %s is %s", id, availability)
	}
	return meta, nil
}

// available reports whether a video with the given availability may be played.
// yt-dlp reports "NA" when the extractor does not know.
func (c *Client) available(availability string) bool {
	switch availability {
	case "public", "NA", "":
		return true
	case "unlisted":
		return c.config.AllowUnlisted
	default:
		return false
	}
}

// parseMetadata parses one line of metadataTemplate output.
func parseMetadata(out string) (track.Metadata, string, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) < 5 || parts[0] == "" {
		return track.Metadata{}, "", errors.Wrapf(ErrNotFound, "unexpected metadata output %q", line)
	}

	var duration time.Duration
	// Live streams report no duration
	if secs, err := strconv.ParseFloat(parts[1], 64); err == nil && parts[3] != "is_live" {
		duration = time.Duration(secs * float64(time.Second))
	}

	return track.Metadata{
		ID:       parts[0],
		Title:    parts[4],
		URL:      WatchURL(parts[0]),
		Duration: duration,
	}, parts[2], nil
}
