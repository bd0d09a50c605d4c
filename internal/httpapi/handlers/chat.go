package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldworks/chatline/internal/common"
)

type createSessionReq struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	userID, email, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.Registry().Create(c.Request.Context(), userID, email, req.Name)
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessions, err := h.ChatSvc.Registry().List(c.Request.Context(), userID)
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

type renameSessionReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.Registry().Rename(c.Request.Context(), c.Param("session_id"), userID, req.Name)
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) DeactivateChatSession(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.ChatSvc.Registry().Deactivate(c.Request.Context(), c.Param("session_id"), userID); err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "is_active": false})
}

type visibilityReq struct {
	IsPublic *bool `json:"is_public" binding:"required"`
}

func (h *Handler) SetChatSessionVisibility(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req visibilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.IsPublic == nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.Registry().SetPublic(c.Request.Context(), c.Param("session_id"), userID, *req.IsPublic); err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id"), "is_public": *req.IsPublic})
}

func (h *Handler) LoadChatMessages(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	ctx := c.Request.Context()
	var err error
	var msgs any
	if limit > 0 || offset > 0 {
		msgs, err = h.ChatSvc.History().LoadPage(ctx, sessionID, userID, limit, offset)
	} else {
		msgs, err = h.ChatSvc.History().Load(ctx, sessionID, userID)
	}
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sessionID, "messages": msgs})
}

type submitTurnReq struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text" binding:"required"`
}

func (h *Handler) SubmitTurn(c *gin.Context) {
	userID, email, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, reply, err := h.ChatSvc.SubmitTurn(c.Request.Context(), req.SessionID, userID, email, req.Text)
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"session": sess, "reply": reply})
}

func (h *Handler) SubmitTurnAsync(c *gin.Context) {
	userID, email, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Publisher == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async turns disabled")
		return
	}
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, job, err := h.ChatSvc.SubmitTurnAsync(c.Request.Context(), req.SessionID, userID, email, req.Text)
	if err != nil {
		failChat(c, err)
		return
	}
	if err := h.Publisher.PublishJob(c.Request.Context(), job.JobID); err != nil {
		// user message and job doc are durable; the job just never ran
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to enqueue job")
		return
	}
	common.OK(c, gin.H{"session_id": sess.SessionID, "job_id": job.JobID, "status": job.Status})
}

func (h *Handler) GetTurnJob(c *gin.Context) {
	userID, _, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	job, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("job_id"), userID)
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, job)
}

func (h *Handler) SubmitTurnStream(c *gin.Context) {
	userID, email, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	sess, chunks, committed, errs, err := h.ChatSvc.SubmitTurnStream(ctx, req.SessionID, userID, email, req.Text)
	if err != nil {
		failChat(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"streaming unsupported\"}\n\n")
		return
	}

	writeEvent := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	writeEvent("session", gin.H{"session_id": sess.SessionID})

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			writeEvent("chunk", gin.H{"delta": chunk})

		case <-ticker.C:
			writeEvent("ping", gin.H{"ts": time.Now().Unix()})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			writeEvent("error", gin.H{"session_id": sess.SessionID, "message": err.Error()})
			return

		case msg, ok := <-committed:
			if !ok {
				return
			}
			writeEvent("done", gin.H{
				"session_id":      sess.SessionID,
				"message_id":      msg.MessageID,
				"sequence_number": msg.SequenceNumber,
			})
			return

		case <-ctx.Done():
			return
		}
	}
}
