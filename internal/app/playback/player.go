package playback

import (
	"context"

	"github.com/osa030/guildbox/internal/domain/track"
)

// Status is a notification emitted by a player.
type Status int

const (
	StatusPlaying Status = iota
	StatusIdle
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusIdle:
		return "idle"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent is a status notification with its failure, if any.
type StatusEvent struct {
	Status Status
	Err    error // Set for StatusError
}

// Player is the underlying audio player of a guild.
// Statuses must be delivered asynchronously and in emission order;
// Play and Stop must never block on the status channel.
type Player interface {
	// Play hands a resource to the player, replacing anything playing.
	Play(res track.Resource) error
	// Stop halts playback. The player reports Idle afterwards.
	Stop()
	// Statuses returns the notification channel.
	Statuses() <-chan StatusEvent
	// Close releases the player. No statuses are delivered afterwards.
	Close()
}

// Connection is a live transport connection owned by a guild.
type Connection interface {
	// Destroy releases the connection. Destroying twice is harmless.
	Destroy() error
}

// Dialer opens a connection and subscribes the guild's player to it.
type Dialer func(ctx context.Context, p Player) (Connection, error)

// PlayerFactory creates the player for a newly created guild state.
type PlayerFactory func(guildID string) Player
