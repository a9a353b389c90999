// Package notification provides the notification manager for broadcasting playback events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/playback"
)

// sendTimeout bounds how long a single subscriber may hold up a broadcast.
const sendTimeout = 500 * time.Millisecond

// Notification is a playback event stamped for delivery.
type Notification struct {
	SequenceNo uint64
	Timestamp  time.Time
	Event      playback.Event
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// StreamFunc adapts a function to the Stream interface.
type StreamFunc func(*Notification) error

// Send calls f(n).
func (f StreamFunc) Send(n *Notification) error {
	return f(n)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id      string
	guildID string // empty for all guilds
	stream  Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a subscription for every guild and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	return m.SubscribeGuild("", stream)
}

// SubscribeGuild adds a subscription limited to one guild.
func (m *Manager) SubscribeGuild(guildID string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:      id,
		guildID: guildID,
		stream:  stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast sends an event to all matching subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(event playback.Event) *Notification {
	n := &Notification{
		SequenceNo: m.NextSequenceNo(),
		Timestamp:  time.Now(),
		Event:      event,
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.guildID == "" || sub.guildID == event.GuildID {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Warn().Err(err).Msgf("notification: send failed: subscription=%s seq=%d", s.id, n.SequenceNo)
				}
			case <-ctx.Done():
				zlog.Warn().Msgf("notification: send timed out: subscription=%s seq=%d", s.id, n.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
	return n
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
