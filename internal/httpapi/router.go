package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldworks/chatline/internal/common"
	"github.com/fieldworks/chatline/internal/config"
	"github.com/fieldworks/chatline/internal/httpapi/handlers"
	"github.com/fieldworks/chatline/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.PATCH("/chat/sessions/:session_id", h.RenameChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeactivateChatSession)
	authGroup.PUT("/chat/sessions/:session_id/visibility", h.SetChatSessionVisibility)
	authGroup.GET("/chat/sessions/:session_id/messages", h.LoadChatMessages)

	authGroup.POST("/chat/turns", h.SubmitTurn)
	authGroup.POST("/chat/turns/stream", h.SubmitTurnStream)
	authGroup.POST("/chat/turns/async", h.SubmitTurnAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetTurnJob)

	return r
}
