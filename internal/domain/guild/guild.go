// Package guild provides the Guild domain entity.
package guild

import "time"

// Guild represents a Discord guild the bot is a member of.
type Guild struct {
	ID       string    // Discord guild snowflake
	Name     string    // Guild name at join time
	JoinedAt time.Time // First time the bot saw the guild
}

// New creates a guild record joined now.
func New(id, name string) *Guild {
	return &Guild{
		ID:       id,
		Name:     name,
		JoinedAt: time.Now(),
	}
}

// Label returns a human-readable identifier for logs.
func (g *Guild) Label() string {
	if g.Name == "" {
		return g.ID
	}
	return g.Name + " (" + g.ID + ")"
}
