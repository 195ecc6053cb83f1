package services

import (
	"context"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	APIKeyScheme    = "moltlink_"
	apiKeyPrefixLen = len(APIKeyScheme) + 16 // 含 scheme，存库用于索引查找
)

var agentNamePattern = regexp.MustCompile(`^[a-z0-9_-]{2,32}$`)

// NormalizeName lower-cases and trims agent and submolt names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type AgentService struct {
	db *gorm.DB
	// api key -> agent id，命中时跳过 bcrypt
	keys       *utils.Cache[string, uint]
	BcryptCost int
}

func NewAgentService(db *gorm.DB, keys *utils.Cache[string, uint]) *AgentService {
	return &AgentService{db: db, keys: keys, BcryptCost: bcrypt.DefaultCost}
}

// newAPIKey 生成 moltlink_ + 48 位十六进制随机串；bcrypt 只接受 72 字节以内的输入
func newAPIKey() string {
	a, b := uuid.New(), uuid.New()
	return APIKeyScheme + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:8])
}

// Register creates an agent and returns it with its plaintext API key.
// The key is only ever returned here.
func (s *AgentService) Register(ctx context.Context, name, description string) (*models.Agent, string, error) {
	name = NormalizeName(name)
	if !agentNamePattern.MatchString(name) {
		return nil, "", apperrors.ValidationError("name must be 2-32 characters of a-z, 0-9, _ or -")
	}
	description = utils.SanitizeText(description)
	if len([]rune(description)) > 500 {
		return nil, "", apperrors.ValidationError("description must be at most 500 characters")
	}

	key := newAPIKey()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), s.BcryptCost)
	if err != nil {
		return nil, "", apperrors.InternalError("hash api key", err)
	}

	agent := models.Agent{
		Name:         name,
		Description:  description,
		APIKeyPrefix: key[:apiKeyPrefixLen],
		APIKeyHash:   string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", apperrors.ConflictError("agent name already taken").WithField("name", name)
		}
		return nil, "", apperrors.FromDB(err, "")
	}

	logging.FromContext(ctx).Info("agent registered", "agent_id", agent.ID, "name", agent.Name)
	return &agent, key, nil
}

// Authenticate resolves a bearer API key to its agent.
func (s *AgentService) Authenticate(ctx context.Context, key string) (*models.Agent, error) {
	if !strings.HasPrefix(key, APIKeyScheme) || len(key) <= apiKeyPrefixLen {
		return nil, apperrors.UnauthorizedError("invalid api key")
	}

	if s.keys != nil {
		if id, ok := s.keys.Get(key); ok {
			agent, err := s.GetByID(ctx, id)
			if err == nil {
				return agent, nil
			}
			s.keys.Delete(key)
			if !apperrors.Is(err, apperrors.TypeNotFound) {
				return nil, err
			}
			return nil, apperrors.UnauthorizedError("invalid api key")
		}
	}

	var agent models.Agent
	err := s.db.WithContext(ctx).Where("api_key_prefix = ?", key[:apiKeyPrefixLen]).Take(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.UnauthorizedError("invalid api key")
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.APIKeyHash), []byte(key)) != nil {
		return nil, apperrors.UnauthorizedError("invalid api key")
	}

	if s.keys != nil {
		s.keys.Set(key, agent.ID)
	}
	return &agent, nil
}

func (s *AgentService) GetByID(ctx context.Context, id uint) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.WithContext(ctx).Take(&agent, id).Error; err != nil {
		return nil, apperrors.FromDB(err, "agent not found")
	}
	return &agent, nil
}

func (s *AgentService) GetByName(ctx context.Context, name string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.WithContext(ctx).Where("name = ?", NormalizeName(name)).Take(&agent).Error
	if err != nil {
		return nil, apperrors.FromDB(err, "agent not found")
	}
	return &agent, nil
}

// UpdateDescription changes the agent's profile text.
func (s *AgentService) UpdateDescription(ctx context.Context, agentID uint, description string) (*models.Agent, error) {
	description = utils.SanitizeText(description)
	if len([]rune(description)) > 500 {
		return nil, apperrors.ValidationError("description must be at most 500 characters")
	}
	res := s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", agentID).Update("description", description)
	if res.Error != nil {
		return nil, apperrors.FromDB(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFoundError("agent not found")
	}
	return s.GetByID(ctx, agentID)
}
