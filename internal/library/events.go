package library

import (
	"sync"
	"time"

	"capture-library/internal/metrics"
)

// Change reasons carried by Event.
const (
	ReasonAdded    = "added"
	ReasonUpdated  = "updated"
	ReasonDeleted  = "deleted"
	ReasonCleanup  = "cleanup"
	ReasonReindex  = "reindex"
	ReasonCleared  = "cleared"
	ReasonImported = "imported"
)

// Event is a "library changed" notification.
type Event struct {
	Reason string    `json:"reason"`
	IDs    []string  `json:"ids,omitempty"`
	At     time.Time `json:"at"`
}

// Broadcaster fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Broadcaster) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	metrics.LibraryChangedEvents.Inc()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
