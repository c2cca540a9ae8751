package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborchat/harbor/internal/service"
)

type NotificationHandler struct {
	notificationService service.INotificationService
}

func NewNotificationHandler(notificationService service.INotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread_only") == "true"

	notifications, err := h.notificationService.List(c.Request.Context(), c.GetString("user_id"), unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	err := h.notificationService.MarkRead(c.Request.Context(), c.Param("notification_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	count, err := h.notificationService.MarkAllRead(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_count": count})
}
