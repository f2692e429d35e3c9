package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
)

type openSessionReq struct {
	CompanionID string `json:"companion_id" binding:"required"`
}

func (h *Handler) sessionFromPath(c *gin.Context) (*chat.Session, bool) {
	uid, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	sess, err := h.Sessions.Get(uid, c.Param("session_id"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return nil, false
	}
	return sess, true
}

func (h *Handler) OpenChatSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req openSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.Sessions.Open(c.Request.Context(), uid, req.CompanionID)
	if err != nil {
		if errors.Is(err, chat.ErrCompanionNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "companion not found")
			return
		}
		log.Printf("[OpenChatSession] open failed uid=%s companion_id=%s err=%v", uid, req.CompanionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to open session")
		return
	}

	common.OK(c, sess.Snapshot())
}

func (h *Handler) GetChatSession(c *gin.Context) {
	sess, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	common.OK(c, sess.Snapshot())
}

type draftReq struct {
	Text string `json:"text"`
}

func (h *Handler) SetChatDraft(c *gin.Context) {
	sess, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	var req draftReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess.SetDraft(req.Text)
	common.OK(c, gin.H{"draft": sess.Draft()})
}

type sendMessageReq struct {
	// nil submits the stored draft
	Text *string `json:"text"`
}

// SendChatMessage never fails for validation or quota: rejected submits come back
// with accepted=false and the session unchanged.
func (h *Handler) SendChatMessage(c *gin.Context) {
	sess, ok := h.sessionFromPath(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var (
		msg chat.Message
		out chat.Outcome
	)
	if req.Text == nil {
		msg, out = sess.SubmitDraft()
	} else {
		msg, out = sess.Submit(*req.Text)
	}

	resp := gin.H{
		"session_id": sess.ID(),
		"accepted":   out == chat.Accepted,
		"reason":     "",
		"message":    nil,
		"remaining":  sess.Remaining(),
		"typing":     sess.Typing(),
	}
	if out == chat.Accepted {
		resp["message"] = msg
	} else {
		resp["reason"] = out.String()
	}
	common.OK(c, resp)
}

func (h *Handler) MarkChatMessageRead(c *gin.Context) {
	sess, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("message_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid message id")
		return
	}
	common.OK(c, gin.H{"updated": sess.MarkDelivered(id)})
}

func (h *Handler) CloseChatSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Sessions.Close(uid, c.Param("session_id")); err != nil {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	common.OK(c, gin.H{"closed": true})
}

func (h *Handler) ListCompanionMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Messages.ListByPair(c.Request.Context(), uid, c.Param("id"), limit, beforeID)
	if err != nil {
		log.Printf("[ListCompanionMessages] list failed uid=%s companion_id=%s err=%v", uid, c.Param("id"), err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}
