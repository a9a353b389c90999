package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimitFilter.
type DurationLimitConfig struct {
	MinMinutes    float64 `yaml:"min_minutes" mapstructure:"min_minutes" validate:"gte=0"`
	MaxMinutes    float64 `yaml:"max_minutes" mapstructure:"max_minutes" default:"15" validate:"gte=0"`
	RejectUnknown bool    `yaml:"reject_unknown" mapstructure:"reject_unknown"`
}

// DurationLimitFilter checks if track duration is within allowed limits.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Checks if video duration is within allowed limits"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"duration_limit_exceeded"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	// min_minutes cannot be greater than max_minutes (0 means no limit)
	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}
	f.config = &config
	zlog.Info().Msgf("duration limit filter config: %+v", config)
	return nil
}

func (f *DurationLimitFilter) Check(ctx context.Context, req TrackRequest, meta track.Metadata) Result {
	// If config is not set, accept all tracks
	if f.config == nil {
		return Accept()
	}

	// Live streams and some uploads report no duration
	if meta.Duration <= 0 {
		if f.config.RejectUnknown {
			return Reject("duration_limit_exceeded")
		}
		return Accept()
	}

	durationMinutes := meta.Duration.Minutes()

	if durationMinutes < f.config.MinMinutes {
		return Reject("duration_limit_exceeded")
	}

	if f.config.MaxMinutes > 0 && durationMinutes > f.config.MaxMinutes {
		return Reject("duration_limit_exceeded")
	}

	return Accept()
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return &DurationLimitFilter{}
	})
}
