package registry

import (
	"errors"
	"sync"
)

// subscriberBacklog is the per-subscriber frame buffer. A subscriber that
// falls this far behind loses its subscription.
const subscriberBacklog = 100

// ErrNoSubscribers reports a publish into a hub nobody subscribes to.
var ErrNoSubscribers = errors.New("registry: no subscribers")

// Hub fans frames out to every subscriber of one room.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's buffered feed of room frames.
type Subscription struct {
	ch   chan []byte
	lost bool // guarded by the owning hub's mu
}

// Frames returns the receive side of the subscription. The channel closes
// when the subscription is released or lost to backlog overflow.
func (s *Subscription) Frames() <-chan []byte {
	return s.ch
}

func newHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan []byte, subscriberBacklog)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// unsubscribe removes sub and reports how many subscribers remain. Calling
// it for an already-removed subscription is harmless.
func (h *Hub) unsubscribe(sub *Subscription) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		if !sub.lost {
			sub.lost = true
			close(sub.ch)
		}
	}
	return len(h.subs)
}

// Publish delivers frame to every live subscriber without blocking. A
// subscriber whose backlog is full loses its subscription: the channel
// closes and its session is expected to wind down. Lost subscribers stay
// counted until they leave, so a publish only fails once the hub is truly
// empty.
func (h *Hub) Publish(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subs) == 0 {
		return ErrNoSubscribers
	}

	for sub := range h.subs {
		if sub.lost {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			sub.lost = true
			close(sub.ch)
		}
	}
	return nil
}

// Subscribers returns the current subscriber count, lost ones included.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
