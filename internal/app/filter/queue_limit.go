package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxTracks       int `yaml:"max_tracks" mapstructure:"max_tracks" default:"50" validate:"gte=1"`
	MaxPerRequester int `yaml:"max_per_requester" mapstructure:"max_per_requester" validate:"gte=0"`
}

// QueueLimitFilter caps the number of tracks a guild may have queued.
type QueueLimitFilter struct {
	config *QueueLimitConfig
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit_filter"
}

func (f *QueueLimitFilter) Description() string {
	return "Rejects requests once a guild's queue holds too many tracks"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_full", "requester_limit"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("queue limit filter config: %+v", config)
	return nil
}

func (f *QueueLimitFilter) Check(ctx context.Context, req TrackRequest, meta track.Metadata) Result {
	if f.config == nil {
		return Accept()
	}

	if len(req.Queued) >= f.config.MaxTracks {
		return Reject("queue_full")
	}

	if f.config.MaxPerRequester > 0 && req.RequestedBy != "" {
		count := 0
		for _, item := range req.Queued {
			if item.RequestedBy == req.RequestedBy {
				count++
			}
		}
		if count >= f.config.MaxPerRequester {
			return Reject("requester_limit")
		}
	}

	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return &QueueLimitFilter{}
	})
}
