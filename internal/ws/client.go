package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harborchat/harbor/internal/service"
	"github.com/harborchat/harbor/middleware/jwt"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Room for a 2000-char message plus frame overhead.
	maxMessageSize = 16384

	// Bounded time per client-originated event; exceeding it yields a
	// transient ack error instead of a hung connection.
	eventTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Deps bundles what a live connection needs: the same services the HTTP
// transport calls, never transport-local validation.
type Deps struct {
	Hub      *Hub
	Channels service.IChannelService
	Messages service.IMessageService
	Presence *service.PresenceTracker
	Tokens   *jwt.TokenManager
	Logger   *zap.Logger
}

// Client pumps one websocket connection.
type Client struct {
	deps    Deps
	conn    *websocket.Conn
	session *Session

	userID   string
	username string
}

// ServeWS upgrades the request, registers the session with its channel
// subscriptions and starts the pumps. The token rides the query string
// because browsers cannot set headers on websocket dials.
func ServeWS(deps Deps, c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}
	claims, err := deps.Tokens.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	channelIDs, err := deps.Channels.UserChannelIDs(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve subscriptions"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := NewSession(uuid.New().String(), claims.UserID)
	client := &Client{
		deps:     deps,
		conn:     conn,
		session:  session,
		userID:   claims.UserID,
		username: claims.Username,
	}

	deps.Hub.Register(session, channelIDs)
	deps.Presence.OnConnect(c.Request.Context(), claims.UserID)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.deps.Hub.Unregister(c.session.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.deps.Presence.OnDisconnect(ctx, c.userID)
		cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.deps.Presence.Heartbeat(ctx, c.userID)
		cancel()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.deps.Logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reject(raw, service.NewError(service.KindValidation, "malformed frame"))
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.session.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one client event through the services. Errors become
// ack payloads; nothing an event does can close the connection.
func (c *Client) handleFrame(frame ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var (
		data any
		err  error
	)

	switch frame.Event {
	case ClientMessageSend:
		var p sendPayload
		if err = decode(frame.Data, &p); err == nil {
			in := service.CreateMessageInput{
				ChannelID:      p.ChannelID,
				AuthorID:       c.userID,
				Content:        p.Content,
				ThreadParentID: p.ThreadParentID,
			}
			if p.Attachment != nil {
				in.Attachment = &service.AttachmentRef{
					URL:    p.Attachment.URL,
					Size:   p.Attachment.Size,
					Format: p.Attachment.Format,
				}
			}
			data, err = c.deps.Messages.CreateMessage(ctx, in)
		}

	case ClientMessageEdit:
		var p editPayload
		if err = decode(frame.Data, &p); err == nil {
			data, err = c.deps.Messages.EditMessage(ctx, p.MessageID, c.userID, p.Content)
		}

	case ClientMessageDelete:
		var p messageRefPayload
		if err = decode(frame.Data, &p); err == nil {
			err = c.deps.Messages.DeleteMessage(ctx, p.MessageID, c.userID)
			data = gin.H{"message_id": p.MessageID}
		}

	case ClientMessageAddReaction:
		var p reactionPayload
		if err = decode(frame.Data, &p); err == nil {
			data, err = c.deps.Messages.AddReaction(ctx, p.MessageID, c.userID, p.Emoji)
		}

	case ClientMessageRemoveReaction:
		var p reactionPayload
		if err = decode(frame.Data, &p); err == nil {
			err = c.deps.Messages.RemoveReaction(ctx, p.MessageID, c.userID, p.Emoji)
			data = gin.H{"message_id": p.MessageID, "emoji": p.Emoji}
		}

	case ClientMessagePin, ClientMessageUnpin:
		var p messageRefPayload
		if err = decode(frame.Data, &p); err == nil {
			data, err = c.deps.Messages.SetPinned(ctx, p.MessageID, c.userID, frame.Event == ClientMessagePin)
		}

	case ClientThreadJoin:
		var p threadPayload
		if err = decode(frame.Data, &p); err == nil {
			if _, err = c.deps.Messages.GetMessage(ctx, p.ThreadID, c.userID); err == nil {
				c.deps.Hub.Subscribe(c.session.ID, ThreadRoom(p.ThreadID))
				data = gin.H{"thread_id": p.ThreadID}
			}
		}

	case ClientThreadLeave:
		var p threadPayload
		if err = decode(frame.Data, &p); err == nil {
			c.deps.Hub.Unsubscribe(c.session.ID, ThreadRoom(p.ThreadID))
			data = gin.H{"thread_id": p.ThreadID}
		}

	case ClientChannelJoin:
		var p channelPayload
		if err = decode(frame.Data, &p); err == nil {
			err = c.deps.Channels.Join(ctx, p.ChannelID, c.userID)
			data = gin.H{"channel_id": p.ChannelID}
		}

	case ClientChannelLeave:
		var p channelPayload
		if err = decode(frame.Data, &p); err == nil {
			var outcome service.LeaveOutcome
			outcome, err = c.deps.Channels.Leave(ctx, p.ChannelID, c.userID)
			data = gin.H{"channel_id": p.ChannelID, "outcome": outcome}
		}

	case ClientTypingStart, ClientTypingStop:
		var p channelPayload
		if err = decode(frame.Data, &p); err == nil {
			if err = c.deps.Channels.AssertMember(ctx, p.ChannelID, c.userID); err == nil {
				eventType := service.EventTypingStart
				if frame.Event == ClientTypingStop {
					eventType = service.EventTypingStop
				}
				c.deps.Hub.Publish(service.Event{
					Type:      eventType,
					ChannelID: p.ChannelID,
					Payload: gin.H{
						"channel_id": p.ChannelID,
						"user_id":    c.userID,
						"username":   c.username,
					},
				})
			}
		}

	default:
		err = service.NewError(service.KindValidation, "unknown event "+frame.Event)
	}

	c.ack(frame.Ref, data, err)
}

// ack echoes the client ref with either the mutation result or the typed
// error, mirroring the HTTP error taxonomy.
// reject answers a frame that failed to decode. The ref is recovered from
// the raw bytes when possible so the client can correlate the failure; the
// error frame goes out unkeyed otherwise.
func (c *Client) reject(raw []byte, err error) {
	ack := Ack{
		Ref: recoverRef(raw),
		Error: &AckError{
			Code:    string(service.KindOf(err)),
			Message: err.Error(),
		},
	}
	if !c.deps.Hub.Send(c.session.ID, ack) {
		c.deps.Logger.Debug("dropped ack for closed session", zap.String("session_id", c.session.ID))
	}
}

func (c *Client) ack(ref string, data any, err error) {
	if ref == "" {
		return
	}
	ack := Ack{Ref: ref, Success: err == nil, Data: data}
	if err != nil {
		ack.Data = nil
		ack.Error = &AckError{
			Code:    string(service.KindOf(err)),
			Message: err.Error(),
		}
	}
	if !c.deps.Hub.Send(c.session.ID, ack) {
		c.deps.Logger.Debug("dropped ack for closed session", zap.String("session_id", c.session.ID))
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return service.NewError(service.KindValidation, "event payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return service.NewError(service.KindValidation, "malformed event payload")
	}
	return nil
}
