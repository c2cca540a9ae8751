package model

import "time"

const (
	NotificationTypeMention = "mention"
	NotificationTypeMessage = "message"
	NotificationTypeReply   = "reply"
	NotificationTypeInvite  = "channel_invite"
)

// Notification records are expired 7 days after creation by the storage
// retention sweeper; the services never see expired rows.
type Notification struct {
	ID          string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RecipientID string  `gorm:"index;not null;type:varchar(64)" json:"recipient_id"`
	SenderID    string  `gorm:"not null;type:varchar(64)" json:"sender_id"`
	Type        string  `gorm:"not null;type:varchar(32)" json:"type"`
	MessageID   *string `gorm:"type:varchar(64)" json:"message_id,omitempty"`
	ChannelID   *string `gorm:"type:varchar(64)" json:"channel_id,omitempty"`
	Content     string  `gorm:"type:text;not null" json:"content"`
	IsRead      bool    `gorm:"not null;default:false" json:"is_read"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
