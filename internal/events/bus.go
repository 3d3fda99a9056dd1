package events

import (
	"sync"
	"sync/atomic"

	"tokenrelay/pkg/logging"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultSubscriberBuffer = 32

// Bus fans events out to any number of subscribers. Delivery is best
// effort: Publish never blocks and a subscriber whose buffer is full
// misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	dropped atomic.Uint64
	onDrop  func(Event)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDropHook registers fn to be called for every dropped delivery.
func WithDropHook(fn func(Event)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a bus without subscribers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[uint64]chan Event)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel receiving every event published from now on
// and a function that unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber without blocking. A nil bus discards events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	logging.Debug("Events", "%s %s", e.Type, e.ResourceServer)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e)
			}
			logging.Debug("Events", "Subscriber blocked, dropping %s event", e.Type)
		}
	}
}

// Emit builds an event with New and publishes it.
func (b *Bus) Emit(t Type, resourceServer string, err error) {
	if b == nil {
		return
	}
	b.Publish(New(t, resourceServer, err))
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
