package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osa030/guildbox/internal/domain/track"
)

// guildState is the playback state of one guild.
// Every field except connectMu is guarded by mu; commands, status notifications and timer
// firings for the guild all take it before touching anything.
type guildState struct {
	mu sync.Mutex

	id         string
	instanceID string // distinguishes successive states of the same guild in logs

	player    Player
	conn      Connection
	channelID string // channel conn was dialed for

	connectMu sync.Mutex // serializes Connect; taken before mu, held across the dial

	// Queue management
	queue   []track.Item
	current *track.Item
	playing bool
	state   State

	// Timers
	seq         uint64 // last issued timer sequence
	graceSeq    uint64
	graceCancel func()
	idleSeq     uint64
	idleCancel  func()

	done chan struct{} // closed on teardown, stops the status loop
}

func newGuildState(id string, player Player) *guildState {
	return &guildState{
		id:         id,
		instanceID: uuid.New().String(),
		player:     player,
		queue:      make([]track.Item, 0),
		state:      StateIdle,
		done:       make(chan struct{}),
	}
}

// nextSeq issues a timer sequence number.
// Must be called with mu held.
func (g *guildState) nextSeq() uint64 {
	g.seq++
	return g.seq
}

// popLocked removes the head of the queue.
// Must be called with mu held.
func (g *guildState) popLocked() (track.Item, bool) {
	if len(g.queue) == 0 {
		return track.Item{}, false
	}
	item := g.queue[0]
	g.queue[0] = track.Item{}
	g.queue = g.queue[1:]
	return item, true
}

// snapshotLocked copies the observable state.
// Must be called with mu held.
func (g *guildState) snapshotLocked() Snapshot {
	s := Snapshot{
		GuildID:        g.id,
		Queue:          make([]track.Item, len(g.queue)),
		State:          g.state,
		Playing:        g.playing,
		Connected:      g.conn != nil,
		IdleTimerArmed: g.idleCancel != nil,
	}
	copy(s.Queue, g.queue)
	if g.current != nil {
		cur := *g.current
		s.Current = &cur
	}
	return s
}

// startTimer runs callback after duration and returns a cancel function.
// A callback that already fired cannot be recalled by cancel, so callbacks
// re-check their sequence number under the guild lock.
func startTimer(duration time.Duration, callback func()) func() {
	t := time.AfterFunc(duration, callback)
	return func() {
		t.Stop()
	}
}

// releaseItems releases the resources of items leaving the guild.
func releaseItems(guildID string, items ...track.Item) {
	for i := range items {
		if err := items[i].Release(); err != nil {
			logReleaseFailure(guildID, &items[i], err)
		}
	}
}
