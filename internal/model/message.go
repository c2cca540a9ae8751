package model

import "time"

// TombstoneContent replaces the content of a deleted message. The record
// stays but accepts no further edits, reactions or pins.
const TombstoneContent = "[message deleted]"

type Message struct {
	ID             string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ChannelID      string  `gorm:"index;not null;type:varchar(64)" json:"channel_id"`
	AuthorID       string  `gorm:"index;not null;type:varchar(64)" json:"author_id"`
	Content        string  `gorm:"type:text;not null" json:"content"`
	ThreadParentID *string `gorm:"index;type:varchar(64)" json:"thread_parent_id,omitempty"`

	AttachmentURL    *string `gorm:"type:text" json:"attachment_url,omitempty"`
	AttachmentSize   *int64  `json:"attachment_size,omitempty"`
	AttachmentFormat *string `gorm:"type:varchar(32)" json:"attachment_format,omitempty"`

	// SeqID is the per-channel commit sequence used for fanout ordering.
	SeqID int64 `gorm:"index;not null" json:"seq_id"`

	IsDeleted bool `gorm:"not null;default:false" json:"is_deleted"`
	IsEdited  bool `gorm:"not null;default:false" json:"is_edited"`
	IsPinned  bool `gorm:"not null;default:false" json:"is_pinned"`

	Reactions []Reaction `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions"`

	// ReplyCount is computed at query time for root-level listings.
	ReplyCount int64 `gorm:"-" json:"reply_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) HasAttachment() bool {
	return m.AttachmentURL != nil && *m.AttachmentURL != ""
}

type Reaction struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID string `gorm:"uniqueIndex:idx_reaction_identity;not null;type:varchar(64)" json:"-"`
	UserID    string `gorm:"uniqueIndex:idx_reaction_identity;not null;type:varchar(64)" json:"user_id"`
	Emoji     string `gorm:"uniqueIndex:idx_reaction_identity;not null;type:varchar(64)" json:"emoji"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Reaction) TableName() string {
	return "reactions"
}
