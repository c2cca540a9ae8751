package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborchat/harbor/internal/service"
)

type ChannelHandler struct {
	channelService service.IChannelService
}

func NewChannelHandler(channelService service.IChannelService) *ChannelHandler {
	return &ChannelHandler{channelService: channelService}
}

func (h *ChannelHandler) Create(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := h.channelService.CreateChannel(c.Request.Context(), req.Name, req.Type, c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

// OpenDM finds or creates the direct channel with another user; calling it
// twice returns the same channel.
func (h *ChannelHandler) OpenDM(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := h.channelService.FindOrCreateDM(c.Request.Context(), c.GetString("user_id"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Join(c *gin.Context) {
	err := h.channelService.Join(c.Request.Context(), c.Param("channel_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}

func (h *ChannelHandler) Leave(c *gin.Context) {
	outcome, err := h.channelService.Leave(c.Request.Context(), c.Param("channel_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (h *ChannelHandler) List(c *gin.Context) {
	list, err := h.channelService.ListChannels(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ChannelHandler) ListMembers(c *gin.Context) {
	members, err := h.channelService.ListMembers(c.Request.Context(), c.Param("channel_id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}
