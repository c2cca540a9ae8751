package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harborchat/harbor/internal/service"
)

type MessageHandler struct {
	messageService service.IMessageService
}

func NewMessageHandler(messageService service.IMessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

func (h *MessageHandler) Create(c *gin.Context) {
	var req struct {
		ChannelID      string                 `json:"channel_id" binding:"required"`
		Content        string                 `json:"content"`
		ThreadParentID *string                `json:"thread_parent_id"`
		Attachment     *service.AttachmentRef `json:"attachment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.CreateMessage(c.Request.Context(), service.CreateMessageInput{
		ChannelID:      req.ChannelID,
		AuthorID:       c.GetString("user_id"),
		Content:        req.Content,
		ThreadParentID: req.ThreadParentID,
		Attachment:     req.Attachment,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.EditMessage(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	err := h.messageService.DeleteMessage(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *MessageHandler) AddReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messageService.AddReaction(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"), req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	err := h.messageService.RemoveReaction(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"), c.Param("emoji"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (h *MessageHandler) Pin(c *gin.Context) {
	h.setPinned(c, true)
}

func (h *MessageHandler) Unpin(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *MessageHandler) setPinned(c *gin.Context, pinned bool) {
	message, err := h.messageService.SetPinned(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"), pinned)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) ListChannelMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.messageService.ListChannelMessages(c.Request.Context(), c.Param("channel_id"), c.GetString("user_id"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MessageHandler) ListThread(c *gin.Context) {
	messages, err := h.messageService.ListThread(c.Request.Context(), c.Param("message_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
