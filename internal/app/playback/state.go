// Package playback provides per-guild queue management and the player state machine.
package playback

// State represents a guild's playback state.
type State int

const (
	StateIdle         State = iota // Player idle, or a grace window was consumed
	StatePlaying                   // Player reported Playing
	StateBuffering                 // Player reported Idle, grace window open
	StateDisconnected              // Torn down, the state object is dead
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
