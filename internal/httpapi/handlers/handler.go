package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldworks/chatline/internal/chat"
	"github.com/fieldworks/chatline/internal/common"
	"github.com/fieldworks/chatline/internal/config"
	"github.com/fieldworks/chatline/internal/httpapi/middleware"
	"github.com/fieldworks/chatline/internal/identity"
	"github.com/fieldworks/chatline/internal/queue/rabbitmq"
)

type Handler struct {
	Cfg       config.Config
	ChatSvc   *chat.Service
	Identity  *identity.Service
	Publisher *rabbitmq.Publisher // nil when async turns are disabled
}

func NewHandler(cfg config.Config, chatSvc *chat.Service, ident *identity.Service, pub *rabbitmq.Publisher) *Handler {
	return &Handler{Cfg: cfg, ChatSvc: chatSvc, Identity: ident, Publisher: pub}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func principalFromContext(c *gin.Context) (userID, email string, ok bool) {
	idVal, okID := c.Get(middleware.UserIDKey)
	emailVal, okEmail := c.Get(middleware.UserEmailKey)
	if !okID || !okEmail {
		return "", "", false
	}
	userID, okID = idVal.(string)
	email, okEmail = emailVal.(string)
	return userID, email, okID && okEmail && userID != ""
}

// failChat maps the chat error taxonomy onto HTTP statuses.
func failChat(c *gin.Context, err error) {
	var turnErr *chat.TurnError
	sessionID := ""
	if errors.As(err, &turnErr) {
		sessionID = turnErr.SessionID
	}
	status, code, msg := http.StatusInternalServerError, 50001, "internal error"
	switch {
	case errors.Is(err, chat.ErrNotFound):
		status, code, msg = http.StatusNotFound, 40401, "not found"
	case errors.Is(err, chat.ErrForbidden):
		status, code, msg = http.StatusForbidden, 40301, "forbidden"
	case errors.Is(err, chat.ErrInvalidInput):
		status, code, msg = http.StatusBadRequest, 10002, err.Error()
	case errors.Is(err, chat.ErrTimeout):
		status, code, msg = http.StatusGatewayTimeout, 50401, "store timeout"
	case errors.Is(err, chat.ErrAgentUnavailable):
		status, code, msg = http.StatusBadGateway, 50201, "agent unavailable"
	case errors.Is(err, chat.ErrAlreadyExists):
		status, code, msg = http.StatusConflict, 40901, "conflict"
	}
	if sessionID != "" {
		c.JSON(status, gin.H{
			"code":    code,
			"message": msg,
			"data":    gin.H{"session_id": sessionID},
		})
		return
	}
	common.Fail(c, status, code, msg)
}
