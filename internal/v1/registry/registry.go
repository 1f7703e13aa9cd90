// Package registry tracks which rooms currently have live subscribers and
// owns the per-room broadcast hubs. An entry exists exactly as long as at
// least one subscriber holds it; the last one out takes the hub with it.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
	"github.com/driftroom/driftroom/internal/v1/metrics"
)

// RoomCount is one row of a registry snapshot.
type RoomCount struct {
	ID          uuid.UUID
	Subscribers int
}

// Registry maps room identifiers to their hubs.
type Registry struct {
	mu   sync.Mutex
	hubs map[uuid.UUID]*Hub
}

func New() *Registry {
	return &Registry{hubs: make(map[uuid.UUID]*Hub)}
}

// Join subscribes to the room's hub, creating the hub when this is the
// first subscriber. Lookup and subscribe happen under one guard, so a
// concurrent joiner never observes an entry without subscribers.
func (r *Registry) Join(id uuid.UUID) (*Hub, *Subscription) {
	r.mu.Lock()
	h, ok := r.hubs[id]
	if !ok {
		h = newHub()
		r.hubs[id] = h
	}
	sub := h.subscribe()
	r.mu.Unlock()

	if !ok {
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "room hub created", zap.String("room_id", id.String()))
	}
	return h, sub
}

// Leave drops sub from the room's hub and evicts the entry when the last
// subscriber is gone. Unsubscribe and eviction share the registry guard, so
// a concurrent Join either finds the populated hub or none at all.
func (r *Registry) Leave(id uuid.UUID, sub *Subscription) {
	r.mu.Lock()
	evicted := false
	if h, ok := r.hubs[id]; ok && h.unsubscribe(sub) == 0 {
		delete(r.hubs, id)
		evicted = true
	}
	r.mu.Unlock()

	if evicted {
		metrics.ActiveRooms.Dec()
		logging.Info(context.Background(), "room hub evicted", zap.String("room_id", id.String()))
	}
}

// Snapshot lists every room with its subscriber count.
func (r *Registry) Snapshot() []RoomCount {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomCount, 0, len(r.hubs))
	for id, h := range r.hubs {
		out = append(out, RoomCount{ID: id, Subscribers: h.Subscribers()})
	}
	return out
}

// Len returns the number of rooms with live hubs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
