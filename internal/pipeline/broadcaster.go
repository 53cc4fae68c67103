package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tg/roverlink/internal/util"
)

// Broadcaster distributes values to any number of subscribers. The last
// published value is cached and handed to new subscribers first, so an
// observer attaching late still sees current state.
type Broadcaster[T any] struct {
	name string

	mu          sync.RWMutex
	subscribers map[string]chan T
	latest      T
	hasLatest   bool
	closed      bool
	dropped     uint64
}

// NewBroadcaster creates a broadcaster. The name only appears in logs.
func NewBroadcaster[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{
		name:        name,
		subscribers: make(map[string]chan T),
	}
}

// Subscribe registers a new subscriber and returns its ID together with the
// receive channel.
func (b *Broadcaster[T]) Subscribe(bufferSize int) (string, <-chan T) {
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		// Return a closed channel for closed broadcaster
		ch := make(chan T)
		close(ch)
		return id, ch
	}

	if bufferSize < 1 {
		bufferSize = 1
	}
	ch := make(chan T, bufferSize)
	b.subscribers[id] = ch

	if b.hasLatest {
		ch <- b.latest
	}

	util.GetLogger().Debug("Subscriber added", "broadcaster", b.name, "id", id, "total", len(b.subscribers))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[id]; exists {
		close(ch)
		delete(b.subscribers, id)
		util.GetLogger().Debug("Subscriber removed", "broadcaster", b.name, "id", id, "remaining", len(b.subscribers))
	}
}

// Publish caches v as the latest value and offers it to every subscriber.
// A subscriber whose buffer is full misses this value; publishing never
// blocks the caller.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.latest = v
	b.hasLatest = true

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			b.dropped++
			util.GetLogger().Debug("Subscriber channel full, dropping value", "broadcaster", b.name, "id", id)
		}
	}
}

// Latest returns the most recently published value.
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.hasLatest
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan T)
	util.GetLogger().Debug("Broadcaster closed", "broadcaster", b.name)
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Broadcaster[T]) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
