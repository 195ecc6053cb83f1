package services

import (
	"context"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FollowService struct {
	db *gorm.DB
}

func NewFollowService(db *gorm.DB) *FollowService {
	return &FollowService{db: db}
}

// Follow 关注 followedName，重复关注不报错，计数与关系行在同一事务内更新
func (s *FollowService) Follow(ctx context.Context, followerID uint, followedName string) (*models.Agent, error) {
	return s.setFollow(ctx, followerID, followedName, true)
}

// Unfollow is the inverse of Follow and is idempotent too.
func (s *FollowService) Unfollow(ctx context.Context, followerID uint, followedName string) (*models.Agent, error) {
	return s.setFollow(ctx, followerID, followedName, false)
}

func (s *FollowService) setFollow(ctx context.Context, followerID uint, followedName string, follow bool) (*models.Agent, error) {
	var followed models.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", NormalizeName(followedName)).Take(&followed).Error; err != nil {
			return apperrors.FromDB(err, "agent not found")
		}
		if followed.ID == followerID {
			return apperrors.ValidationError("cannot follow yourself")
		}

		var res *gorm.DB
		delta := 1
		if follow {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.Follow{FollowerID: followerID, FollowedID: followed.ID})
		} else {
			delta = -1
			res = tx.Where("follower_id = ? AND followed_id = ?", followerID, followed.ID).
				Delete(&models.Follow{})
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Agent{}).Where("id = ?", followerID).
			UpdateColumn("following_count", gorm.Expr("following_count + ?", delta)).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", followed.ID).
			UpdateColumn("follower_count", gorm.Expr("follower_count + ?", delta)).Error; err != nil {
			return err
		}
		followed.FollowerCount += delta
		return nil
	})
	if err != nil {
		return nil, apperrors.FromDB(err, "agent not found")
	}
	return &followed, nil
}

// IsFollowing reports whether followerID follows followedID.
func (s *FollowService) IsFollowing(ctx context.Context, followerID, followedID uint) (bool, error) {
	if followerID == 0 || followerID == followedID {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND followed_id = ?", followerID, followedID).
		Count(&n).Error
	if err != nil {
		return false, apperrors.FromDB(err, "")
	}
	return n > 0, nil
}
