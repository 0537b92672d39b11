package broadcast

import (
	"hash/maphash"
	"log/slog"
	"sync"
)

// EventItemsChanged tells a board view to refetch.
const EventItemsChanged = "items:changed"

type Event struct {
	Type string `json:"type"`
}

// Channel is one open notification connection. Send must not block.
type Channel interface {
	Send(Event) error
	Closed() bool
}

// Publisher forwards events to other server processes. Publish must not
// block; delivery is best-effort.
type Publisher interface {
	Publish(userID string, ev Event)
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[Channel]struct{}
}

// Hub tracks open channels per user. Users are spread over shards, each
// with its own lock.
type Hub struct {
	shards []*shard
	seed   maphash.Seed
	logger *slog.Logger

	relayMu sync.RWMutex
	relay   Publisher
}

// NewHub creates a Hub. If shards is <= 0, it defaults to 16.
func NewHub(shards int) *Hub {
	if shards <= 0 {
		shards = 16
	}
	h := &Hub{
		shards: make([]*shard, shards),
		seed:   maphash.MakeSeed(),
		logger: slog.Default(),
	}
	for i := range h.shards {
		h.shards[i] = &shard{users: make(map[string]map[Channel]struct{})}
	}
	return h
}

// SetRelay makes Broadcast also publish through p.
func (h *Hub) SetRelay(p Publisher) {
	h.relayMu.Lock()
	defer h.relayMu.Unlock()
	h.relay = p
}

func (h *Hub) shardFor(userID string) *shard {
	return h.shards[maphash.String(h.seed, userID)%uint64(len(h.shards))]
}

func (h *Hub) Register(userID string, ch Channel) {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.users[userID]
	if !ok {
		set = make(map[Channel]struct{})
		s.users[userID] = set
	}
	set[ch] = struct{}{}
}

func (h *Hub) Unregister(userID string, ch Channel) {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h.removeLocked(s, userID, ch)
}

func (h *Hub) removeLocked(s *shard, userID string, ch Channel) {
	set, ok := s.users[userID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(s.users, userID)
	}
}

// Count returns the number of open channels for userID.
func (h *Hub) Count(userID string) int {
	s := h.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// Users returns the number of users with at least one open channel.
func (h *Hub) Users() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}

// Broadcast delivers ev to every open channel of userID and publishes it
// to the relay, if any. It never fails; dead channels are pruned.
func (h *Hub) Broadcast(userID string, ev Event) {
	h.Deliver(userID, ev)

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay != nil {
		relay.Publish(userID, ev)
	}
}

// Deliver sends ev to the channels registered in this process only.
func (h *Hub) Deliver(userID string, ev Event) {
	s := h.shardFor(userID)
	s.mu.RLock()
	targets := make([]Channel, 0, len(s.users[userID]))
	for ch := range s.users[userID] {
		targets = append(targets, ch)
	}
	s.mu.RUnlock()

	var dead []Channel
	for _, ch := range targets {
		if ch.Closed() {
			dead = append(dead, ch)
			continue
		}
		if err := ch.Send(ev); err != nil {
			h.logger.Debug("dropping notification channel", "user_id", userID, "error", err)
			dead = append(dead, ch)
		}
	}
	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range dead {
		h.removeLocked(s, userID, ch)
	}
}

// ItemsChanged broadcasts EventItemsChanged to userID.
func (h *Hub) ItemsChanged(userID string) {
	h.Broadcast(userID, Event{Type: EventItemsChanged})
}
