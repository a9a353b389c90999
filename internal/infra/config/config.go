// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Playback PlaybackConfig          `yaml:"playback"`
	Download DownloadConfig          `yaml:"download"`
	YouTube  YouTubeConfig           `yaml:"youtube"`
	Cache    CacheConfig             `yaml:"cache"`
	Store    StoreConfig             `yaml:"store"`
	Admin    AdminConfig             `yaml:"admin"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Hooks    HooksConfig             `yaml:"hooks"`
}

// DiscordConfig represents Discord bot configuration.
type DiscordConfig struct {
	Token    string `yaml:"token" validate:"required"`
	ClientID string `yaml:"client_id"`
	GuildID  string `yaml:"guild_id"` // register commands to one guild only (development)
	Status   string `yaml:"status" default:"/play"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	GracePeriodMs  int `yaml:"grace_period_ms" default:"2000" validate:"gte=0,lte=60000"`
	IdleTimeoutSec int `yaml:"idle_timeout_sec" default:"300" validate:"gte=1,lte=86400"`
	EventBuffer    int `yaml:"event_buffer" default:"64" validate:"gte=1"`
}

// GracePeriod returns the buffering grace window.
func (c PlaybackConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// IdleTimeout returns the inactivity threshold before a guild is torn down.
func (c PlaybackConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// DownloadConfig represents audio download configuration.
type DownloadConfig struct {
	Dir          string `yaml:"dir" default:"tmp"`
	MaxRetries   int    `yaml:"max_retries" default:"10" validate:"gte=1,lte=100"`
	RetryDelayMs int    `yaml:"retry_delay_ms" default:"1000" validate:"gte=0"`
	Format       string `yaml:"format" default:"bestaudio[ext=m4a]/bestaudio"`
	AudioFormat  string `yaml:"audio_format" default:"mp3" validate:"oneof=mp3 m4a opus wav"`
	AudioQuality string `yaml:"audio_quality" default:"128K"`
	TimeoutSec   int    `yaml:"timeout_sec" default:"300" validate:"gte=1"`
}

// RetryDelay returns the fixed delay between download attempts.
func (c DownloadConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Timeout returns the limit for a single download attempt.
func (c DownloadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// YouTubeConfig represents video platform lookup configuration.
type YouTubeConfig struct {
	Proxy         string `yaml:"proxy"`
	AllowUnlisted bool   `yaml:"allow_unlisted"`
}

// CacheConfig represents metadata cache configuration.
type CacheConfig struct {
	TTLSec int `yaml:"ttl_sec" default:"600" validate:"gte=1"`
}

// TTL returns the metadata cache time-to-live.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// StoreConfig represents known-guild directory configuration.
type StoreConfig struct {
	Path string `yaml:"path" default:"guildbox.db" validate:"required"`
}

// AdminConfig represents the admin HTTP API configuration.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:":8080"`
	Token   string `yaml:"token" validate:"required_if=Enabled true"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	NotInVoice            string `yaml:"not_in_voice" default:"You need to be in a voice channel to play music!"`
	ConnectFailed         string `yaml:"connect_failed" default:"I couldn't join your voice channel. Check that I can connect and speak there."`
	GuildOnly             string `yaml:"guild_only" default:"This command can only be used in a server."`
	InvalidURL            string `yaml:"invalid_url" default:"Invalid YouTube URL."`
	TrackNotFound         string `yaml:"track_not_found" default:"Failed to retrieve video information. Try again later."`
	DownloadFailed        string `yaml:"download_failed" default:"There was an error creating the audio stream."`
	NowPlaying            string `yaml:"now_playing" default:"Now playing: **%s**"`
	AddedToQueue          string `yaml:"added_to_queue" default:"**%s** has been added to the queue!"`
	NotPlaying            string `yaml:"not_playing" default:"No song is currently playing to skip!"`
	Skipped               string `yaml:"skipped" default:"⏭️ Skipped to the next song!"`
	SkippedAndStopped     string `yaml:"skipped_and_stopped" default:"⏹️ Skipped the song and stopped playback. No more songs in the queue."`
	AlreadyEmpty          string `yaml:"already_empty" default:"The queue is already empty!"`
	Cleared               string `yaml:"cleared" default:"🗑️ Queue cleared!"`
	QueueEmpty            string `yaml:"queue_empty" default:"The queue is currently empty!"`
	Reset                 string `yaml:"reset" default:"🛠️ Reset completed: Playback stopped, queue cleared, and all temporary files deleted."`
	NothingToReset        string `yaml:"nothing_to_reset" default:"Nothing to reset."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong. Please try again."`
	URLNotAllowed         string `yaml:"url_not_allowed" default:"That URL is not allowed."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That video is too long or too short for this server."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full. Try again later."`
	RequesterLimit        string `yaml:"requester_limit" default:"You already have too many songs in the queue."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That song is already in the queue."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_CLIENT_ID"); v != "" {
		c.Discord.ClientID = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("YOUTUBE_PROXY"); v != "" {
		c.YouTube.Proxy = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "not_in_voice":
		return c.Messages.NotInVoice
	case "connect_failed":
		return c.Messages.ConnectFailed
	case "guild_only":
		return c.Messages.GuildOnly
	case "invalid_url":
		return c.Messages.InvalidURL
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "download_failed":
		return c.Messages.DownloadFailed
	case "not_playing":
		return c.Messages.NotPlaying
	case "already_empty":
		return c.Messages.AlreadyEmpty
	case "queue_empty":
		return c.Messages.QueueEmpty
	case "url_not_allowed":
		return c.Messages.URLNotAllowed
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "queue_full":
		return c.Messages.QueueFull
	case "requester_limit":
		return c.Messages.RequesterLimit
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	default:
		return c.Messages.DefaultError
	}
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterNames returns the configured filter names, sorted.
func (c *Config) FilterNames() []string {
	names := make([]string, 0, len(c.Filters))
	for name := range c.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterSettings returns the settings of a filter and whether it is enabled.
func (c *Config) FilterSettings(filterName string) (map[string]any, bool) {
	f, ok := c.Filters[filterName]
	if !ok || !f.Enabled {
		return nil, false
	}
	return f.Settings, true
}
