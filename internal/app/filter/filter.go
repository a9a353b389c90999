// Package filter provides the filter chain for request validation.
package filter

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildbox/internal/domain/track"
)

// TrackRequest represents a track request to be validated.
type TrackRequest struct {
	GuildID     string
	RequestedBy string
	Queued      []track.Item // current track first, then the pending queue
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "url_not_allowed", "queue_full"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, req TrackRequest, meta track.Metadata) Result
}

var registry = make(map[string]func() Filter)

// Register registers a filter factory. Filters register themselves from init.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// Registered returns the names of all registered filters, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a fresh, unconfigured instance of the named filter.
func New(name string) (Filter, bool) {
	factory, ok := registry[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// CheckNames reports the first name that matches no registered filter.
func CheckNames(names []string) error {
	for _, name := range names {
		if _, ok := registry[name]; !ok {
			return errors.Newf("unknown filter: %s (known: %s)", name, strings.Join(Registered(), ", "))
		}
	}
	return nil
}
