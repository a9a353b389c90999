// Package track provides the Track domain entities.
package track

import "time"

// Metadata represents video information resolved by the metadata lookup.
type Metadata struct {
	ID       string        // Video ID
	Title    string        // Display title
	URL      string        // Canonical watch URL
	Duration time.Duration // Duration (zero if unknown)
}

// Resource is an already-prepared playable audio handle.
// It is consumed exactly once by a player.
type Resource interface {
	// Source returns the location the decoder reads from.
	Source() string
	// Release frees the underlying storage. Calling it more than once is harmless.
	Release() error
}

// Item represents a track in a guild's playback queue.
type Item struct {
	Title       string    // Display title
	URL         string    // Canonical source URL
	Resource    Resource  // Playable handle
	Duration    time.Duration
	RequestedBy string    // Requester display name (optional)
	AddedAt     time.Time // Time when added to queue
}

// NewItem creates a queue item from resolved metadata and a prepared resource.
func NewItem(meta Metadata, res Resource, requestedBy string) Item {
	return Item{
		Title:       meta.Title,
		URL:         meta.URL,
		Resource:    res,
		Duration:    meta.Duration,
		RequestedBy: requestedBy,
		AddedAt:     time.Now(),
	}
}

// Release releases the item's resource if it has one.
func (i *Item) Release() error {
	if i.Resource == nil {
		return nil
	}
	return i.Resource.Release()
}

// DisplayTitle returns the title, falling back to the URL.
func (i *Item) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return i.URL
}
