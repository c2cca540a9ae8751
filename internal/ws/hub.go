package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	redispkg "github.com/harborchat/harbor/internal/pkg/redis"
	"github.com/harborchat/harbor/internal/service"
)

const (
	roomChannelPrefix = "channel:"
	roomThreadPrefix  = "thread:"

	// mirrorPrefix namespaces the redis pub/sub mirror so other nodes can
	// subscribe to room traffic.
	mirrorPrefix = "room:"
)

func ChannelRoom(channelID string) string { return roomChannelPrefix + channelID }
func ThreadRoom(messageID string) string  { return roomThreadPrefix + messageID }

// Session is one live connection: ephemeral, owned by the hub, destroyed on
// disconnect. Room membership lives here, never in durable storage.
type Session struct {
	ID     string
	UserID string

	send  chan any
	rooms map[string]struct{}
}

func NewSession(id, userID string) *Session {
	return &Session{
		ID:     id,
		UserID: userID,
		send:   make(chan any, 256),
		rooms:  make(map[string]struct{}),
	}
}

// Hub is the session registry and fanout router. A single run loop consumes
// published events, so deliveries to any one room keep the order in which
// the mutations committed and published.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	rooms    map[string]map[string]*Session

	events chan service.Event
	done   chan struct{}

	redis  redispkg.RedisClient
	logger *zap.Logger
}

// NewHub creates the hub. rdb may be nil; when set, every broadcast is
// mirrored onto redis pub/sub for other nodes.
func NewHub(rdb redispkg.RedisClient, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		events:   make(chan service.Event, 1024),
		done:     make(chan struct{}),
		redis:    rdb,
		logger:   logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

func (h *Hub) Close() {
	close(h.done)
}

// Publish implements service.Publisher. It enqueues for the run loop; the
// caller never blocks on socket writes.
func (h *Hub) Publish(event service.Event) {
	select {
	case h.events <- event:
	case <-h.done:
	}
}

// Register adds a session and auto-subscribes it to the channel room of
// every channel the user is currently a member of.
func (h *Hub) Register(session *Session, channelIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[session.ID] = session
	if h.byUser[session.UserID] == nil {
		h.byUser[session.UserID] = make(map[string]*Session)
	}
	h.byUser[session.UserID][session.ID] = session

	for _, channelID := range channelIDs {
		h.subscribeLocked(session, ChannelRoom(channelID))
	}
}

func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID)
}

// Subscribe and Unsubscribe are idempotent; thread rooms are the only rooms
// clients manage explicitly.
func (h *Hub) Subscribe(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.sessions[sessionID]; ok {
		h.subscribeLocked(session, room)
	}
}

func (h *Hub) Unsubscribe(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.sessions[sessionID]; ok {
		h.unsubscribeLocked(session, room)
	}
}

// Send delivers one frame to a single session, typically an ack. Holding the
// registry lock rules out a send on a channel the hub just closed.
func (h *Hub) Send(sessionID string, v any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	select {
	case session.send <- v:
		return true
	default:
		return false
	}
}

// SessionCount reports the number of registered sessions. Used by tests and
// the health endpoint.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// RoomSize reports the number of sessions subscribed to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) dispatch(event service.Event) {
	switch event.Type {
	case service.EventChannelMemberJoined:
		// Subscribe first so the joining user's sessions see their own event.
		h.subscribeUser(event.UserID, ChannelRoom(event.ChannelID))
		h.broadcast(ChannelRoom(event.ChannelID), event)
	case service.EventChannelMemberLeft:
		h.broadcast(ChannelRoom(event.ChannelID), event)
		h.unsubscribeUser(event.UserID, ChannelRoom(event.ChannelID))
	case service.EventChannelDeleted:
		h.broadcast(ChannelRoom(event.ChannelID), event)
		h.dropRoom(ChannelRoom(event.ChannelID))
	default:
		room := ChannelRoom(event.ChannelID)
		if event.ThreadID != "" {
			room = ThreadRoom(event.ThreadID)
		}
		h.broadcast(room, event)
	}
}

func (h *Hub) broadcast(room string, event service.Event) {
	frame := ServerFrame{Event: event.Type, Data: event.Payload}

	h.mu.Lock()
	var stale []string
	for id, session := range h.rooms[room] {
		select {
		case session.send <- frame:
		default:
			// Slow consumer: drop the session rather than stall the room.
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		h.removeLocked(id)
	}
	h.mu.Unlock()

	h.mirror(room, frame)
}

func (h *Hub) mirror(room string, frame ServerFrame) {
	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("failed to marshal mirror frame", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redis.Publish(ctx, mirrorPrefix+room, payload); err != nil {
		h.logger.Warn("failed to mirror event", zap.String("room", room), zap.Error(err))
	}
}

func (h *Hub) subscribeUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, session := range h.byUser[userID] {
		h.subscribeLocked(session, room)
	}
}

func (h *Hub) unsubscribeUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, session := range h.byUser[userID] {
		h.unsubscribeLocked(session, room)
	}
}

func (h *Hub) dropRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, session := range h.rooms[room] {
		delete(session.rooms, room)
	}
	delete(h.rooms, room)
}

func (h *Hub) subscribeLocked(session *Session, room string) {
	if _, ok := session.rooms[room]; ok {
		return
	}
	session.rooms[room] = struct{}{}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Session)
	}
	h.rooms[room][session.ID] = session
}

func (h *Hub) unsubscribeLocked(session *Session, room string) {
	delete(session.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, session.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) removeLocked(sessionID string) {
	session, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	if userSessions, ok := h.byUser[session.UserID]; ok {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(h.byUser, session.UserID)
		}
	}
	for room := range session.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(session.send)
}
