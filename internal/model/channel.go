package model

import "time"

const (
	ChannelTypePublic = "public"
	ChannelTypeDM     = "dm"
)

type Channel struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string `gorm:"uniqueIndex;not null;type:varchar(64)" json:"name"`
	Type      string `gorm:"not null;index;type:varchar(16)" json:"type"`
	CreatorID string `gorm:"not null;type:varchar(64)" json:"creator_id"`

	// PairKey is set for dm channels only: "dm:<minUserID>:<maxUserID>".
	// The unique index is what makes concurrent find-or-create race-safe.
	PairKey *string `gorm:"uniqueIndex;type:varchar(160)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Channel) TableName() string {
	return "channels"
}

type ChannelMember struct {
	ChannelID string `gorm:"primaryKey;type:varchar(64)" json:"channel_id"`
	UserID    string `gorm:"primaryKey;type:varchar(64)" json:"user_id"`

	JoinedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`
}

func (ChannelMember) TableName() string {
	return "channel_members"
}

// ChannelView is the listing projection: dm entries are annotated with the
// other participant's name at query time.
type ChannelView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	CreatorID   string    `json:"creator_id"`
	OtherUser   string    `json:"other_user,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}
