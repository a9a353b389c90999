package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/domain/track"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// SettingsFunc reports whether a filter is enabled and returns its settings.
type SettingsFunc func(name string) (settings map[string]any, enabled bool)

// BuildChain creates a chain of every registered filter that is enabled,
// in name order. A filter whose settings fail validation is an error.
func BuildChain(lookup SettingsFunc) (*Chain, error) {
	c := NewChain()
	for _, name := range Registered() {
		settings, enabled := lookup(name)
		if !enabled {
			continue
		}
		f, _ := New(name)
		if err := f.ValidateConfig(settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		c.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req TrackRequest, meta track.Metadata) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req, meta)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected request: filter=%s code=%s guild_id=%s url=%s", f.Name(), result.Code, req.GuildID, meta.URL)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
