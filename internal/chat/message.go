package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Author string

const (
	AuthorUser      Author = "user"
	AuthorCompanion Author = "companion"
)

// MaxBodyLen is counted in runes of the trimmed body.
const MaxBodyLen = 100

// PlaceholderReply is what the companion says when no responder is wired
// or the responder fails.
const PlaceholderReply = "I understand what you're saying. Let me think about that for a moment..."

type Message struct {
	ID        uint64    `json:"id"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// Greeting is a seed entry appended when a session opens.
type Greeting struct {
	Author Author
	Body   string
}

// NormalizeBody trims raw and reports whether it is an acceptable message body.
func NormalizeBody(raw string) (string, bool) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", false
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return "", false
	}
	return body, true
}

// DefaultGreetings returns the opening exchange shown for a companion.
func DefaultGreetings(companionName string) []Greeting {
	name := strings.TrimSpace(companionName)
	if name == "" {
		name = "your companion"
	}
	return []Greeting{
		{Author: AuthorCompanion, Body: "Hello! I'm " + name + ", your AI companion. How can I assist you today?"},
		{Author: AuthorUser, Body: "Hi " + name + "! I'm excited to chat with you."},
		{Author: AuthorCompanion, Body: "That's wonderful! I'm here for meaningful conversations. What would you like to discuss?"},
	}
}
