package natsbus

import (
	"testing"

	"github.com/suPer8Hu/companion-chat/internal/chat"
)

func TestSubject(t *testing.T) {
	e := chat.Event{Type: chat.EventTyping, SessionID: "01SESSION"}
	if got := Subject("companion.chat", e); got != "companion.chat.01SESSION.typing" {
		t.Fatalf("unexpected subject: %s", got)
	}
}
