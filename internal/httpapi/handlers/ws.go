package handlers

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/companion-chat/internal/chat"
)

const wsWriteWait = 10 * time.Second

type wsInbound struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	MessageID uint64 `json:"message_id"`
}

type wsOutbound struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func newOutbound(typ string, data any) wsOutbound {
	return wsOutbound{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

// ChatSessionEvents streams a session over WebSocket. The first frame is a
// snapshot; after that every session event is forwarded as it happens. The client
// may send submit, draft and read frames.
func (h *Handler) ChatSessionEvents(c *gin.Context) {
	sess, ok := h.sessionFromPath(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ChatSessionEvents] upgrade failed session_id=%s err=%v", sess.ID(), err)
		return
	}

	// subscribe before the snapshot so nothing falls between the two; clients
	// dedupe by message id
	events, unsubscribe := h.Hub.Subscribe(sess.ID())
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan wsOutbound, 16)
	out <- newOutbound("snapshot", sess.Snapshot())

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		h.writeLoop(ctx, conn, events, out)
		cancel()
	}()

	if sess.Closed() {
		// closed between lookup and subscribe; the hub will not close our channel
		unsubscribe()
	}

	pongWait := h.pingInterval * 10 / 9
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ChatSessionEvents] read error session_id=%s err=%v", sess.ID(), err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if reply, ok := handleInbound(sess, msg); ok {
			select {
			case out <- reply:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	<-done
}

// handleInbound applies one client frame; the second result reports whether a
// direct reply is owed. Accepted submits answer through the event stream.
func handleInbound(sess *chat.Session, msg wsInbound) (wsOutbound, bool) {
	switch msg.Type {
	case "submit":
		_, outcome := sess.Submit(msg.Text)
		if outcome == chat.Accepted {
			return wsOutbound{}, false
		}
		return newOutbound("rejected", gin.H{
			"reason":    outcome.String(),
			"remaining": sess.Remaining(),
		}), true
	case "draft":
		sess.SetDraft(msg.Text)
		return wsOutbound{}, false
	case "read":
		return newOutbound("read_ack", gin.H{
			"message_id": msg.MessageID,
			"updated":    sess.MarkDelivered(msg.MessageID),
		}), true
	default:
		return newOutbound("error", gin.H{"message": "unknown frame type"}), true
	}
}

// writeLoop is the only writer on conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan chat.Event, out <-chan wsOutbound) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	write := func(m wsOutbound) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Printf("[ChatSessionEvents] write failed type=%s err=%v", m.Type, err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-out:
			if !write(m) {
				return
			}
		case e, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !write(newOutbound(string(e.Type), e)) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
