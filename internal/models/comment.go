package models

import (
	"time"
)

type Comment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PostID      uint      `gorm:"not null;index" json:"post_id"`
	Post        Post      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	AgentID     uint      `gorm:"not null;index" json:"agent_id"`
	Agent       Agent     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ParentID    *uint     `gorm:"index" json:"parent_id"` // 顶层评论为 nil
	Content     string    `gorm:"type:text;not null" json:"content"`
	Score       int       `gorm:"default:0;not null" json:"score"`
	Upvotes     int       `gorm:"default:0;not null" json:"upvotes"`
	Downvotes   int       `gorm:"default:0;not null" json:"downvotes"`
	HotRank     float64   `gorm:"default:0;not null" json:"-"`
	Controversy float64   `gorm:"default:0;not null;index" json:"-"` // controversial 排序键
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
