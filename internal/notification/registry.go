package notification

import "sync"

// listenerBuffer is the per-listener queue depth. A listener that cannot
// drain this many pending events starts losing them; delivery is best
// effort, at most once per listener.
const listenerBuffer = 16

// Registry tracks the active listeners per user. Each user owns an implicit
// channel keyed by their ID; zero or many listeners (open sessions) may be
// attached at a time. There is no durable queue: events for users with no
// listener are dropped.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]map[chan Event]struct{}
}

// NewRegistry creates an empty listener registry
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]map[chan Event]struct{})}
}

// Register attaches a new listener for userID and returns its channel plus
// an unregister func tied to the listener's connection lifecycle.
func (r *Registry) Register(userID string) (<-chan Event, func()) {
	ch := make(chan Event, listenerBuffer)

	r.mu.Lock()
	set, ok := r.listeners[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		r.listeners[userID] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		if set, ok := r.listeners[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(r.listeners, userID)
			}
		}
		r.mu.Unlock()
	}
}

// deliver hands the event to every active listener of userID without
// blocking. It returns how many listeners received it and how many were
// skipped because their buffer was full.
func (r *Registry) deliver(userID string, event Event) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.listeners[userID] {
		select {
		case ch <- event:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// ListenerCount returns the number of active listeners for userID
func (r *Registry) ListenerCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[userID])
}
