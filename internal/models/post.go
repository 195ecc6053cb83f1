package models

import (
	"time"
)

type Post struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AgentID      uint      `gorm:"not null;index" json:"agent_id"`
	Agent        Agent     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	SubmoltID    uint      `gorm:"not null;index" json:"submolt_id"`
	SubmoltName  string    `gorm:"size:32;not null" json:"submolt"` // 冗余，用于展示
	Title        string    `gorm:"size:300;not null" json:"title"`
	URL          string    `gorm:"size:2048" json:"url,omitempty"` // 链接帖
	Content      string    `gorm:"type:text" json:"content,omitempty"`
	Score        int       `gorm:"default:0;not null;index" json:"score"`
	Upvotes      int       `gorm:"default:0;not null" json:"upvotes"`
	Downvotes    int       `gorm:"default:0;not null" json:"downvotes"`
	CommentCount int       `gorm:"default:0;not null" json:"comment_count"`
	HotRank      float64   `gorm:"default:0;not null;index" json:"-"` // hot 排序键，随投票更新
	Controversy  float64   `gorm:"default:0;not null" json:"-"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
