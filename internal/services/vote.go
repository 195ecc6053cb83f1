package services

import (
	"context"
	"errors"
	"time"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/metrics"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteResult is the voter's state and the target counters after a vote.
type VoteResult struct {
	TargetType models.TargetType `json:"target_type"`
	TargetID   uint              `json:"target_id"`
	Direction  models.Direction  `json:"direction"`
	Score      int               `json:"score"`
	Upvotes    int               `json:"upvotes"`
	Downvotes  int               `json:"downvotes"`
}

type VoteService struct {
	db *gorm.DB
}

func NewVoteService(db *gorm.DB) *VoteService {
	return &VoteService{db: db}
}

type targetCounters struct {
	Score     int
	Upvotes   int
	Downvotes int
	CreatedAt time.Time
}

// rankColumns 计算与 now 无关的存储排序键
func rankColumns(score, up, down int, createdAt time.Time) (map[string]any, error) {
	hot, err := utils.HotScore(score, createdAt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"hot_rank":    hot,
		"controversy": utils.ControversialScore(up, down),
	}, nil
}

// targetModel 返回投票目标对应的表模型
func targetModel(t models.TargetType) any {
	if t == models.TargetComment {
		return &models.Comment{}
	}
	return &models.Post{}
}

// targetAuthor locks the post or comment row for the rest of tx and returns its author.
func targetAuthor(tx *gorm.DB, t models.TargetType, id uint) (uint, error) {
	var row struct{ AgentID uint }
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(targetModel(t)).Select("agent_id").Where("id = ?", id).Take(&row).Error
	if err != nil {
		return 0, apperrors.FromDB(err, string(t)+" not found")
	}
	return row.AgentID, nil
}

// ApplyVote toggles voterID's vote on the target and updates the target's
// counters and the author's karma in one transaction.
func (s *VoteService) ApplyVote(ctx context.Context, voterID uint, targetType models.TargetType, targetID uint, direction models.Direction) (*VoteResult, error) {
	result, err := s.applyVote(ctx, voterID, targetType, targetID, direction)
	if err != nil {
		se := apperrors.AsStructuredError(err)
		metrics.VoteFailuresTotal.WithLabelValues(string(se.Type)).Inc()
		return nil, se
	}
	metrics.VotesTotal.WithLabelValues(string(targetType), result.Direction.String()).Inc()
	logging.FromContext(ctx).Debug("vote applied",
		"voter_id", voterID,
		"target_type", targetType,
		"target_id", targetID,
		"direction", result.Direction.String(),
		"score", result.Score,
	)
	return result, nil
}

func (s *VoteService) applyVote(ctx context.Context, voterID uint, targetType models.TargetType, targetID uint, direction models.Direction) (*VoteResult, error) {
	if !targetType.Valid() {
		return nil, apperrors.ValidationError("target_type must be post or comment")
	}
	if direction != models.DirectionUp && direction != models.DirectionDown {
		return nil, apperrors.ValidationError("direction must be up or down")
	}
	if targetID == 0 {
		return nil, apperrors.ValidationError("invalid target id")
	}

	var result *VoteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		authorID, err := targetAuthor(tx, targetType, targetID)
		if err != nil {
			return err
		}
		if authorID == voterID {
			return apperrors.ForbiddenError("cannot vote on your own " + string(targetType))
		}

		// 锁住该投票行，避免并发切换互相覆盖
		var existing models.Vote
		found := true
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("agent_id = ? AND target_type = ? AND target_id = ?", voterID, targetType, targetID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		from := models.DirectionNone
		if found {
			from = models.DirectionOf(existing.Value)
		}
		tr, err := ResolveVote(from, direction)
		if err != nil {
			return apperrors.InternalError("corrupt vote row", err)
		}

		switch {
		case !found:
			vote := models.Vote{
				AgentID:    voterID,
				TargetType: targetType,
				TargetID:   targetID,
				Value:      int(tr.Result),
			}
			if err := tx.Create(&vote).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return apperrors.ConflictError("concurrent vote on the same target, retry")
				}
				return err
			}
		case tr.Result == models.DirectionNone:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		default:
			if err := tx.Model(&existing).Update("value", int(tr.Result)).Error; err != nil {
				return err
			}
		}

		res := tx.Model(targetModel(targetType)).
			Where("id = ?", targetID).
			UpdateColumns(map[string]any{
				"score":     gorm.Expr("score + ?", tr.Delta),
				"upvotes":   gorm.Expr("upvotes + ?", tr.UpDelta),
				"downvotes": gorm.Expr("downvotes + ?", tr.DownDelta),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 目标已被删除，整个事务回滚
			return apperrors.NotFoundError(string(targetType) + " not found")
		}

		if err := tx.Model(&models.Agent{}).
			Where("id = ?", authorID).
			UpdateColumn("karma", gorm.Expr("karma + ?", tr.Delta)).Error; err != nil {
			return err
		}

		var counters targetCounters
		if err := tx.Model(targetModel(targetType)).
			Select("score", "upvotes", "downvotes", "created_at").
			Where("id = ?", targetID).
			Take(&counters).Error; err != nil {
			return err
		}
		keys, err := rankColumns(counters.Score, counters.Upvotes, counters.Downvotes, counters.CreatedAt)
		if err != nil {
			return apperrors.InternalError("ranking failed", err)
		}
		if err := tx.Model(targetModel(targetType)).Where("id = ?", targetID).UpdateColumns(keys).Error; err != nil {
			return err
		}

		result = &VoteResult{
			TargetType: targetType,
			TargetID:   targetID,
			Direction:  tr.Result,
			Score:      counters.Score,
			Upvotes:    counters.Upvotes,
			Downvotes:  counters.Downvotes,
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.FromDB(err, string(targetType)+" not found")
	}
	return result, nil
}

// VotesFor returns the viewer's direction for each of the given targets.
// Targets the viewer has not voted on are absent from the map.
func VotesFor(ctx context.Context, db *gorm.DB, viewerID uint, targetType models.TargetType, ids []uint) (map[uint]models.Direction, error) {
	out := make(map[uint]models.Direction, len(ids))
	if viewerID == 0 || len(ids) == 0 {
		return out, nil
	}
	var votes []models.Vote
	err := db.WithContext(ctx).
		Select("target_id", "value").
		Where("agent_id = ? AND target_type = ? AND target_id IN ?", viewerID, targetType, ids).
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	for _, v := range votes {
		out[v.TargetID] = models.DirectionOf(v.Value)
	}
	return out, nil
}
