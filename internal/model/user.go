package model

import (
	"time"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;type:varchar(255)" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string     `gorm:"not null;type:varchar(255)" json:"-"`
	Role         string     `gorm:"not null;default:member;type:varchar(16)" json:"role"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserSummary is the member-listing projection. Online state comes from the
// presence tracker, not from a column.
type UserSummary struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
