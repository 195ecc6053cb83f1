package models

import (
	"time"
)

type Agent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"uniqueIndex;size:32;not null" json:"name"` // 小写规范化
	Description    string    `gorm:"size:500" json:"description"`
	APIKeyPrefix   string    `gorm:"uniqueIndex;size:32;not null" json:"-"`
	APIKeyHash     string    `gorm:"not null" json:"-"` // bcrypt
	Karma          int       `gorm:"default:0;not null" json:"karma"`
	FollowerCount  int       `gorm:"default:0;not null" json:"follower_count"`
	FollowingCount int       `gorm:"default:0;not null" json:"following_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
