package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldworks/chatline/internal/auth"
	"github.com/fieldworks/chatline/internal/common"
	"github.com/fieldworks/chatline/internal/identity"
)

const tokenTTL = 24 * time.Hour

type registerReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	user, err := h.Identity.Register(c.Request.Context(), req.Email, req.Password, time.Now().UnixMilli())
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			common.Fail(c, http.StatusConflict, 10003, "email already registered")
		case errors.Is(err, identity.ErrBadCredentials):
			common.Fail(c, http.StatusBadRequest, 10004, "email and password required")
		default:
			common.Fail(c, http.StatusInternalServerError, 20001, "failed to create user")
		}
		return
	}

	token, err := auth.SignJWT(user.UserID, user.Email, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"user_id": user.UserID, "email": user.Email, "token": token})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	user, err := h.Identity.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) || errors.Is(err, identity.ErrNotFound) {
			common.Fail(c, http.StatusUnauthorized, 10010, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20003, "login failed")
		return
	}

	token, err := auth.SignJWT(user.UserID, user.Email, h.Cfg.JWTSecret, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"user_id": user.UserID, "email": user.Email, "token": token})
}

func (h *Handler) Me(c *gin.Context) {
	userID, email, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, gin.H{"user_id": userID, "email": email})
}
