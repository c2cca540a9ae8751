package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harborchat/harbor/internal/handler"
	"github.com/harborchat/harbor/internal/ws"
	"github.com/harborchat/harbor/middleware/jwt"
)

type Handlers struct {
	Auth         *handler.AuthHandler
	Channel      *handler.ChannelHandler
	Message      *handler.MessageHandler
	Notification *handler.NotificationHandler
}

// SetupRoutes wires the HTTP surface. Every route below /api/v1 except
// auth goes through the same token middleware; the websocket endpoint
// authenticates via query token inside ServeWS.
func SetupRoutes(r *gin.Engine, tokens *jwt.TokenManager, logger *zap.Logger, h Handlers, wsDeps ws.Deps) {
	r.Use(RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": wsDeps.Hub.SessionCount(),
		})
	})

	r.GET("/ws", func(c *gin.Context) {
		ws.ServeWS(wsDeps, c)
	})

	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(tokens))
	{
		v1.GET("/users/me", h.Auth.Me)

		channels := v1.Group("/channels")
		{
			channels.POST("", h.Channel.Create)
			channels.GET("", h.Channel.List)
			channels.POST("/dm", h.Channel.OpenDM)
			channels.POST("/:channel_id/join", h.Channel.Join)
			channels.POST("/:channel_id/leave", h.Channel.Leave)
			channels.GET("/:channel_id/members", h.Channel.ListMembers)
			channels.GET("/:channel_id/messages", h.Message.ListChannelMessages)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("", h.Message.Create)
			messages.PATCH("/:message_id", h.Message.Edit)
			messages.DELETE("/:message_id", h.Message.Delete)
			messages.POST("/:message_id/reactions", h.Message.AddReaction)
			messages.DELETE("/:message_id/reactions/:emoji", h.Message.RemoveReaction)
			messages.POST("/:message_id/pin", h.Message.Pin)
			messages.DELETE("/:message_id/pin", h.Message.Unpin)
			messages.GET("/:message_id/thread", h.Message.ListThread)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.Notification.List)
			notifications.POST("/:notification_id/read", h.Notification.MarkRead)
			notifications.POST("/read-all", h.Notification.MarkAllRead)
		}
	}
}
