// Package realtime is the server-side push service.
//
// The sqlite repository publishes every committed write here; the HTTP
// layer streams the resulting events to subscribers over Server-Sent Events.
// Subscriptions are filtered by (owner, collection), so a client only ever
// receives rows it owns.
//
// DELIVERY:
// Each subscriber has its own buffered channel. Publish never blocks on a
// slow reader. When a buffer is full the event cannot be delivered, so the
// subscription is closed instead of silently losing it: the SSE stream
// ends, and the client sees the end of its stream and resyncs by re-reading
// everything and subscribing again. A reader that keeps up never notices.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sakif/progress-tracker/internal/model"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// Event is the wire form of a change. Entity carries the full row for
// inserts and updates and is omitted for deletes.
type Event struct {
	Kind       model.ChangeKind `json:"kind"`
	Collection model.Collection `json:"collection"`
	OwnerID    string           `json:"owner_id"`
	ID         string           `json:"id"`
	Entity     json.RawMessage  `json:"entity,omitempty"`
}

type key struct {
	owner      string
	collection model.Collection
}

// Hub fans committed changes out to subscribers.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[key]map[*Subscription]struct{}
}

// NewHub creates a Hub. buffer <= 0 selects DefaultBuffer.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		subs:   make(map[key]map[*Subscription]struct{}),
	}
}

// Subscription is one listener on (owner, collection).
type Subscription struct {
	hub     *Hub
	key     key
	ch      chan Event
	once    sync.Once
	mu      sync.Mutex
	dropped int
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the buffer was
// full. A subscription with drops has been closed by the hub.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.key)
			}
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe registers a listener for ownerID's changes to collection.
func (h *Hub) Subscribe(ownerID string, collection model.Collection) *Subscription {
	sub := &Subscription{
		hub: h,
		key: key{owner: ownerID, collection: collection},
		ch:  make(chan Event, h.buffer),
	}

	h.mu.Lock()
	set, ok := h.subs[sub.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("realtime subscription opened",
		slog.String("owner_id", ownerID),
		slog.String("collection", string(collection)))
	return sub
}

// Subscribers reports how many listeners are attached to (ownerID, collection).
func (h *Hub) Subscribers(ownerID string, collection model.Collection) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key{owner: ownerID, collection: collection}])
}

// Publish delivers ch to every subscriber of (ownerID, ch.Collection).
func (h *Hub) Publish(ownerID string, ch model.Change) {
	ev := Event{
		Kind:       ch.Kind,
		Collection: ch.Collection,
		OwnerID:    ownerID,
		ID:         ch.ID,
	}
	if ch.Entity != nil && ch.Kind != model.ChangeDelete {
		raw, err := json.Marshal(ch.Entity)
		if err != nil {
			h.logger.Error("failed to encode change",
				slog.String("collection", string(ch.Collection)),
				slog.String("id", ch.ID),
				slog.String("error", err.Error()))
			return
		}
		ev.Entity = raw
	}

	// Holding the read lock while sending keeps Close from closing a channel
	// mid-send; sends are non-blocking so the lock is held briefly. Overflowed
	// subscriptions are closed after the lock is released, since Close needs
	// the write lock.
	var overflowed []*Subscription
	h.mu.RLock()
	for sub := range h.subs[key{owner: ownerID, collection: ch.Collection}] {
		select {
		case sub.ch <- ev:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		h.logger.Warn("realtime subscriber buffer full, closing stream",
			slog.String("owner_id", ownerID),
			slog.String("collection", string(ch.Collection)),
			slog.String("id", ch.ID))
		sub.Close()
	}
}
