package playback

import "github.com/osa030/guildbox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Track handed to the player
	EventTrackFailed                   // Track discarded after a start or transport failure
	EventTrackSkipped                  // Track was skipped by command
	EventQueueCleared                  // Pending queue was cleared
	EventQueueEmpty                    // Queue ran dry, idle timer armed
	EventTornDown                      // Guild state destroyed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackFailed:
		return "track_failed"
	case EventTrackSkipped:
		return "track_skipped"
	case EventQueueCleared:
		return "queue_cleared"
	case EventQueueEmpty:
		return "queue_empty"
	case EventTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type    EventType
	GuildID string
	Track   *track.Item // Track concerned (nil for some events)
	State   State       // Guild state after the event
	Reason  string      // Start cause (EventTrackStarted) or teardown reason (EventTornDown)
	Err     error       // Failure (EventTrackFailed only)
}
