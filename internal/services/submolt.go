package services

import (
	"context"
	"errors"
	"regexp"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var submoltNamePattern = regexp.MustCompile(`^[a-z0-9_]{2,24}$`)

type SubmoltService struct {
	db *gorm.DB
}

func NewSubmoltService(db *gorm.DB) *SubmoltService {
	return &SubmoltService{db: db}
}

type CreateSubmoltInput struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Create makes a new submolt and subscribes its creator.
func (s *SubmoltService) Create(ctx context.Context, creatorID uint, in CreateSubmoltInput) (*models.Submolt, error) {
	name := NormalizeName(in.Name)
	if !submoltNamePattern.MatchString(name) {
		return nil, apperrors.ValidationError("name must be 2-24 characters of a-z, 0-9 or _")
	}
	display := utils.SanitizeText(in.DisplayName)
	if display == "" {
		display = name
	}
	if len([]rune(display)) > 64 {
		return nil, apperrors.ValidationError("display_name must be at most 64 characters")
	}
	description := utils.SanitizeText(in.Description)
	if len([]rune(description)) > 500 {
		return nil, apperrors.ValidationError("description must be at most 500 characters")
	}

	submolt := models.Submolt{
		Name:            name,
		DisplayName:     display,
		Description:     description,
		CreatorID:       &creatorID,
		SubscriberCount: 1,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&submolt).Error; err != nil {
			return err
		}
		return tx.Create(&models.Subscription{AgentID: creatorID, SubmoltID: submolt.ID}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.ConflictError("submolt already exists").WithField("name", name)
		}
		return nil, apperrors.FromDB(err, "")
	}

	logging.FromContext(ctx).Info("submolt created", "submolt", name, "creator_id", creatorID)
	return &submolt, nil
}

// List returns submolts, most subscribed first.
func (s *SubmoltService) List(ctx context.Context, limit, offset int) ([]models.Submolt, error) {
	submolts := make([]models.Submolt, 0, limit)
	err := s.db.WithContext(ctx).
		Order("subscriber_count DESC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&submolts).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	return submolts, nil
}

func (s *SubmoltService) Get(ctx context.Context, name string) (*models.Submolt, error) {
	var submolt models.Submolt
	if err := s.db.WithContext(ctx).Where("name = ?", NormalizeName(name)).Take(&submolt).Error; err != nil {
		return nil, apperrors.FromDB(err, "submolt not found")
	}
	return &submolt, nil
}

// IsSubscribed reports whether agentID subscribes to submoltID.
func (s *SubmoltService) IsSubscribed(ctx context.Context, agentID, submoltID uint) (bool, error) {
	if agentID == 0 {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("agent_id = ? AND submolt_id = ?", agentID, submoltID).
		Count(&n).Error
	if err != nil {
		return false, apperrors.FromDB(err, "")
	}
	return n > 0, nil
}

// Subscribe is idempotent; subscriber_count moves only when a row is inserted.
func (s *SubmoltService) Subscribe(ctx context.Context, agentID uint, name string) (*models.Submolt, error) {
	return s.setSubscription(ctx, agentID, name, true)
}

// Unsubscribe is idempotent; subscriber_count moves only when a row is removed.
func (s *SubmoltService) Unsubscribe(ctx context.Context, agentID uint, name string) (*models.Submolt, error) {
	return s.setSubscription(ctx, agentID, name, false)
}

func (s *SubmoltService) setSubscription(ctx context.Context, agentID uint, name string, subscribe bool) (*models.Submolt, error) {
	var submolt models.Submolt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", NormalizeName(name)).Take(&submolt).Error; err != nil {
			return apperrors.FromDB(err, "submolt not found")
		}

		var res *gorm.DB
		delta := 1
		if subscribe {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.Subscription{AgentID: agentID, SubmoltID: submolt.ID})
		} else {
			delta = -1
			res = tx.Where("agent_id = ? AND submolt_id = ?", agentID, submolt.ID).
				Delete(&models.Subscription{})
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.Submolt{}).Where("id = ?", submolt.ID).
			UpdateColumn("subscriber_count", gorm.Expr("subscriber_count + ?", delta)).Error; err != nil {
			return err
		}
		submolt.SubscriberCount += delta
		return nil
	})
	if err != nil {
		return nil, apperrors.FromDB(err, "submolt not found")
	}
	return &submolt, nil
}
