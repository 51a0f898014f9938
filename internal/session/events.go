package session

import (
	"sort"
	"sync"
	"time"
)

// EventRequest is one debugger event registration (EventRequest.Set).
type EventRequest struct {
	ID            uint32    `json:"id"`
	Kind          uint8     `json:"kind"`
	SuspendPolicy uint8     `json:"suspend_policy"`
	Modifiers     []string  `json:"modifiers,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Hits          int       `json:"hits"`
	LastHitAt     time.Time `json:"last_hit_at,omitempty"`
}

// EventRegistry stores registrations by event serial. It is cleared whenever
// the debugger connection resets.
type EventRegistry struct {
	mu    sync.RWMutex
	items map[uint32]EventRequest
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		items: make(map[uint32]EventRequest),
	}
}

func (r *EventRegistry) Register(item EventRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
}

// MarkHit records one matching event emission.
func (r *EventRegistry) MarkHit(id uint32, at time.Time) (EventRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return EventRequest{}, false
	}
	item.Hits++
	item.LastHitAt = at
	r.items[id] = item
	return item, true
}

func (r *EventRegistry) Remove(kind uint8, id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Kind != kind {
		return false
	}
	delete(r.items, id)
	return true
}

// RemoveKind drops every registration of kind and reports how many went.
func (r *EventRegistry) RemoveKind(kind uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, item := range r.items {
		if item.Kind == kind {
			delete(r.items, id)
			removed++
		}
	}
	return removed
}

func (r *EventRegistry) Get(id uint32) (EventRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	return item, ok
}

func (r *EventRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *EventRegistry) List() []EventRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventRequest, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *EventRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	clear(r.items)
	return n
}
