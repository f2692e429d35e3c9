package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/companion-chat/internal/common"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))

	// chat sessions
	authGroup.POST("/chat/sessions", h.OpenChatSession)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.CloseChatSession)
	authGroup.PUT("/chat/sessions/:session_id/draft", h.SetChatDraft)
	authGroup.POST("/chat/sessions/:session_id/messages", h.SendChatMessage)
	authGroup.POST("/chat/sessions/:session_id/messages/:message_id/read", h.MarkChatMessageRead)
	authGroup.GET("/chat/sessions/:session_id/ws", h.ChatSessionEvents)

	// companions
	authGroup.GET("/companions", h.ListCompanions)
	authGroup.POST("/companions", h.CreateCompanion)
	authGroup.GET("/companions/:id", h.GetCompanion)
	authGroup.PUT("/companions/:id", h.UpdateCompanion)
	authGroup.DELETE("/companions/:id", h.DeleteCompanion)
	authGroup.GET("/companions/:id/messages", h.ListCompanionMessages)
	return r
}
