package models

import (
	"time"
)

type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

func (t TargetType) Valid() bool {
	return t == TargetPost || t == TargetComment
}

// Vote 每个 (agent, target) 最多一行；取消投票即删除该行，没有“中立”记录
type Vote struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	AgentID    uint       `gorm:"not null;uniqueIndex:idx_vote_agent_target" json:"agent_id"`
	TargetType TargetType `gorm:"type:varchar(10);not null;uniqueIndex:idx_vote_agent_target;index:idx_vote_target" json:"target_type"`
	TargetID   uint       `gorm:"not null;uniqueIndex:idx_vote_agent_target;index:idx_vote_target" json:"target_id"`
	Value      int        `gorm:"not null" json:"value"` // 1 or -1
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Direction 投票方向：up / none / down
type Direction int

const (
	DirectionDown Direction = -1
	DirectionNone Direction = 0
	DirectionUp   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// ParseDirection accepts "up" / "down" (and the 1 / -1 spellings).
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "up", "upvote", "1":
		return DirectionUp, true
	case "down", "downvote", "-1":
		return DirectionDown, true
	default:
		return DirectionNone, false
	}
}

// DirectionOf maps a stored vote value to a direction.
func DirectionOf(value int) Direction {
	switch {
	case value > 0:
		return DirectionUp
	case value < 0:
		return DirectionDown
	default:
		return DirectionNone
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
