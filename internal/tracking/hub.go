package tracking

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriptionBuffer is the channel capacity given to each
// subscription when the hub is created with a non-positive buffer.
const DefaultSubscriptionBuffer = 16

// Subscription is a handle returned by Hub.Subscribe. Values arrive on C
// until the subscription is removed or the hub is closed, at which point C
// is closed.
type Subscription[T any] struct {
	ID string
	C  <-chan T

	ch     chan T
	filter func(T) bool
}

// Hub fans values out to subscribers, each optionally filtered by a
// predicate so that, for example, a per-device view only receives that
// device's sightings.
//
// Publish never blocks. When a subscriber's buffer is full the oldest
// queued value is discarded so the newest one is always delivered; a slow
// observer therefore sees a coalesced stream that still ends on the latest
// state.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[string]*Subscription[T]
	buffer int
	closed bool
}

// NewHub creates a hub whose subscriptions buffer up to buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Hub[T]{
		subs:   make(map[string]*Subscription[T]),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. A nil filter receives every value.
// Subscribing to a closed hub returns a subscription whose channel is
// already closed.
func (h *Hub[T]) Subscribe(filter func(T) bool) *Subscription[T] {
	ch := make(chan T, h.buffer)
	sub := &Subscription[T]{
		ID:     uuid.NewString(),
		C:      ch,
		ch:     ch,
		filter: filter,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Removing an unknown or
// already removed subscription is a no-op.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[sub.ID]; ok {
		close(s.ch)
		delete(h.subs, sub.ID)
	}
}

// Publish delivers v to every matching subscriber and returns how many
// received it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	delivered := 0
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(v) {
			continue
		}
		deliverLatest(s.ch, v)
		delivered++
	}
	return delivered
}

// deliverLatest sends v, evicting queued values until there is room. Only
// the hub sends on ch and it holds the lock, so the loop terminates.
func deliverLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscription. Later publishes are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
