package filter

import (
	"context"
	"net/url"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// URLWhitelistConfig represents the configuration for URLWhitelistFilter.
type URLWhitelistConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts" default:"[\"youtube.com\",\"www.youtube.com\",\"m.youtube.com\",\"music.youtube.com\",\"youtu.be\"]" validate:"min=1,dive,required"`
}

// URLWhitelistFilter accepts only tracks whose canonical URL points at an allowed host.
type URLWhitelistFilter struct {
	allowed map[string]struct{}
}

func (f *URLWhitelistFilter) Name() string {
	return "url_whitelist_filter"
}

func (f *URLWhitelistFilter) Description() string {
	return "Accepts only tracks hosted on an allowed domain"
}

func (f *URLWhitelistFilter) ReturnCodes() []string {
	return []string{"url_not_allowed"}
}

func (f *URLWhitelistFilter) ValidateConfig(settings map[string]any) error {
	var config URLWhitelistConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	f.allowed = make(map[string]struct{}, len(config.AllowedHosts))
	for _, host := range config.AllowedHosts {
		f.allowed[strings.ToLower(host)] = struct{}{}
	}
	zlog.Info().Msgf("url whitelist filter config: %+v", config)
	return nil
}

func (f *URLWhitelistFilter) Check(ctx context.Context, req TrackRequest, meta track.Metadata) Result {
	if f.allowed == nil {
		return Accept()
	}

	u, err := url.Parse(meta.URL)
	if err != nil || u.Host == "" {
		return Reject("url_not_allowed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Reject("url_not_allowed")
	}
	if _, ok := f.allowed[strings.ToLower(u.Hostname())]; !ok {
		return Reject("url_not_allowed")
	}
	return Accept()
}

func init() {
	Register("url_whitelist_filter", func() Filter {
		return &URLWhitelistFilter{}
	})
}
