package ws

import "encoding/json"

// Client-originated socket events. They carry the same semantics as the
// HTTP endpoints and go through the same services.
const (
	ClientMessageSend           = "message:send"
	ClientMessageEdit           = "message:edit"
	ClientMessageDelete         = "message:delete"
	ClientMessageAddReaction    = "message:add_reaction"
	ClientMessageRemoveReaction = "message:remove_reaction"
	ClientMessagePin            = "message:pin"
	ClientMessageUnpin          = "message:unpin"
	ClientThreadJoin            = "thread:join"
	ClientThreadLeave           = "thread:leave"
	ClientChannelJoin           = "channel:join"
	ClientChannelLeave          = "channel:leave"
	ClientTypingStart           = "typing:start"
	ClientTypingStop            = "typing:stop"
)

// ClientFrame is one inbound socket message. Mutating events carry a ref the
// ack frame echoes back.
type ClientFrame struct {
	Ref   string          `json:"ref,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// recoverRef pulls the ref out of a frame that failed full decoding. Returns
// "" when the bytes are too broken to carry one.
func recoverRef(raw []byte) string {
	var partial struct {
		Ref string `json:"ref"`
	}
	json.Unmarshal(raw, &partial)
	return partial.Ref
}

// ServerFrame is one outbound broadcast.
type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Ack answers a client-originated mutation with the same error taxonomy the
// HTTP transport maps to status codes.
type Ack struct {
	Ref     string    `json:"ref"`
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *AckError `json:"error,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sendPayload struct {
	ChannelID      string         `json:"channel_id"`
	Content        string         `json:"content"`
	ThreadParentID *string        `json:"thread_parent_id,omitempty"`
	Attachment     *attachmentRef `json:"attachment,omitempty"`
}

type attachmentRef struct {
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

type editPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type messageRefPayload struct {
	MessageID string `json:"message_id"`
}

type reactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type threadPayload struct {
	ThreadID string `json:"thread_id"`
}

type channelPayload struct {
	ChannelID string `json:"channel_id"`
}
