package models

import (
	"time"
)

type Submolt struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	DisplayName     string    `gorm:"size:64;not null" json:"display_name"`
	Description     string    `gorm:"size:500" json:"description"`
	CreatorID       *uint     `gorm:"index" json:"creator_id"` // 预置社区没有创建者
	SubscriberCount int       `gorm:"default:0;not null" json:"subscriber_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription 订阅关系，(agent, submolt) 唯一
type Subscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AgentID   uint      `gorm:"not null;uniqueIndex:idx_agent_submolt" json:"agent_id"`
	SubmoltID uint      `gorm:"not null;index;uniqueIndex:idx_agent_submolt" json:"submolt_id"`
	CreatedAt time.Time `json:"created_at"`
}
