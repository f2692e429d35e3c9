package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/companion"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/middleware"
)

type Deps struct {
	Sessions   *chat.Manager
	Hub        *chat.Hub
	Messages   *chat.Repo
	Companions *companion.Repo
	Builtin    *companion.MemoryRegistry
}

type Handler struct {
	Sessions   *chat.Manager
	Hub        *chat.Hub
	Messages   *chat.Repo
	Companions *companion.Repo
	Builtin    *companion.MemoryRegistry

	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		Sessions:   d.Sessions,
		Hub:        d.Hub,
		Messages:   d.Messages,
		Companions: d.Companions,
		Builtin:    d.Builtin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: 54 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// requireUser writes 401 and returns false when the request carries no user.
func requireUser(c *gin.Context) (string, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}
