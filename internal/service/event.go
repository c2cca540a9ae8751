package service

// Event is the descriptor every successful mutation produces. The caller is
// the service itself: it hands the event to the injected Publisher and the
// fanout layer resolves the target rooms.
type Event struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	// ThreadID is set for thread replies; the event is additionally
	// delivered to the thread room.
	ThreadID string `json:"thread_id,omitempty"`
	// UserID is set for membership and presence events so the session
	// registry can adjust the affected user's subscriptions.
	UserID  string `json:"user_id,omitempty"`
	Payload any    `json:"payload"`
}

const (
	EventMessageNew             = "message:new"
	EventMessageEdited          = "message:edited"
	EventMessageDeleted         = "message:deleted"
	EventMessageReactionAdded   = "message:reaction_added"
	EventMessageReactionRemoved = "message:reaction_removed"
	EventMessagePinned          = "message:pinned"
	EventMessageUnpinned        = "message:unpinned"
	EventThreadNewReply         = "thread:new_reply"
	EventChannelMemberJoined    = "channel:member_joined"
	EventChannelMemberLeft      = "channel:member_left"
	EventChannelDeleted         = "channel:deleted"
	EventTypingStart            = "typing:start"
	EventTypingStop             = "typing:stop"
	EventPresenceOnline         = "presence:online"
	EventPresenceOffline        = "presence:offline"
)

// Publisher delivers one event to every live session subscribed to its target
// rooms. Implemented by ws.Hub; injected into the services so no mutation
// path reaches for a process-global broadcaster.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events. Used in tests and tooling.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
