package chat

import "time"

type EventType string

const (
	EventMessage EventType = "message"
	EventRead    EventType = "read"
	EventTyping  EventType = "typing"
	EventClosed  EventType = "closed"
)

// Event is what a session reports to its listener after each state change.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	CompanionID string    `json:"companion_id"`
	Message     *Message  `json:"message,omitempty"`
	Typing      bool      `json:"typing"`
	Remaining   int       `json:"remaining"`
	At          time.Time `json:"at"`
}

// Listener receives session events in mutation order.
// Implementations must not call Submit, MarkDelivered or Close on the emitting session.
type Listener interface {
	OnEvent(e Event)
}

type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Listeners fans an event out to every non-nil member.
type Listeners []Listener

func (ls Listeners) OnEvent(e Event) {
	for _, l := range ls {
		if l != nil {
			l.OnEvent(e)
		}
	}
}
