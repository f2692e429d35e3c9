package chat

import "sync"

// Hub fans session events out to in-process subscribers (WebSocket connections).
// A subscriber whose buffer is full misses events rather than stalling the session.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events for sessionID. The channel is closed when
// the session closes or cancel is called.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[sessionID]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
	return ch, cancel
}

func (h *Hub) OnEvent(e Event) {
	if e.Type == EventClosed {
		h.mu.Lock()
		for ch := range h.subs[e.SessionID] {
			select {
			case ch <- e:
			default:
			}
			close(ch)
		}
		delete(h.subs, e.SessionID)
		h.mu.Unlock()
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers reports how many channels are attached to sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
