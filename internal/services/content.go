package services

import (
	"context"
	"net/url"
	"slices"
	"strings"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxTitleLen   = 300
	maxContentLen = 40000
	maxURLLen     = 2048
)

type ContentService struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewContentService(db *gorm.DB, clock clockwork.Clock) *ContentService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ContentService{db: db, clock: clock}
}

type CreatePostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Submolt string `json:"submolt"`
}

func validLink(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreatePost publishes a text or link post. Score starts at 0.
func (s *ContentService) CreatePost(ctx context.Context, agentID uint, in CreatePostInput) (*models.Post, error) {
	title := utils.SanitizeText(in.Title)
	content := strings.TrimSpace(in.Content)
	link := strings.TrimSpace(in.URL)

	switch {
	case title == "":
		return nil, apperrors.ValidationError("title is required")
	case len([]rune(title)) > maxTitleLen:
		return nil, apperrors.ValidationError("title must be at most 300 characters")
	case content == "" && link == "":
		return nil, apperrors.ValidationError("content or url is required")
	case content != "" && link != "":
		return nil, apperrors.ValidationError("a post has either content or url, not both")
	case len(content) > maxContentLen:
		return nil, apperrors.ValidationError("content is too long")
	case link != "" && (len(link) > maxURLLen || !validLink(link)):
		return nil, apperrors.ValidationError("url must be an absolute http(s) link")
	}

	name := NormalizeName(in.Submolt)
	if name == "" {
		name = "general"
	}

	now := s.clock.Now()
	hot, err := utils.HotScore(0, now)
	if err != nil {
		return nil, apperrors.InternalError("clock out of range", err)
	}
	post := models.Post{
		AgentID:   agentID,
		Title:     title,
		Content:   content,
		URL:       link,
		HotRank:   hot,
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submolt models.Submolt
		if err := tx.Select("id", "name").Where("name = ?", name).Take(&submolt).Error; err != nil {
			return apperrors.FromDB(err, "submolt not found")
		}
		post.SubmoltID = submolt.ID
		post.SubmoltName = submolt.Name
		return tx.Create(&post).Error
	})
	if err != nil {
		return nil, apperrors.FromDB(err, "submolt not found")
	}

	logging.FromContext(ctx).Info("post created", "post_id", post.ID, "agent_id", agentID, "submolt", post.SubmoltName)
	return &post, nil
}

// GetPost returns one post with rendered content and the viewer's vote.
func (s *ContentService) GetPost(ctx context.Context, viewerID, postID uint) (*PostItem, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Take(&post, postID).Error; err != nil {
		return nil, apperrors.FromDB(err, "post not found")
	}

	names, err := AuthorNames(ctx, s.db, []uint{post.AgentID})
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	votes, err := VotesFor(ctx, s.db, viewerID, models.TargetPost, []uint{post.ID})
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}

	item := &PostItem{
		Post:        post,
		Author:      names[post.AgentID],
		ContentHTML: utils.RenderMarkdown(post.Content),
	}
	if d, ok := votes[post.ID]; ok {
		item.UserVote = &d
	}
	return item, nil
}

type CreateCommentInput struct {
	Content  string `json:"content"`
	ParentID *uint  `json:"parent_id"`
}

// CreateComment adds a comment or reply and bumps the post's comment_count.
func (s *ContentService) CreateComment(ctx context.Context, agentID, postID uint, in CreateCommentInput) (*models.Comment, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperrors.ValidationError("content is required")
	}
	if len(content) > maxContentLen {
		return nil, apperrors.ValidationError("content is too long")
	}

	now := s.clock.Now()
	hot, err := utils.HotScore(0, now)
	if err != nil {
		return nil, apperrors.InternalError("clock out of range", err)
	}
	comment := models.Comment{
		PostID:    postID,
		AgentID:   agentID,
		ParentID:  in.ParentID,
		Content:   content,
		HotRank:   hot,
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 之后还要更新 comment_count，直接加写锁；删帖需等待本事务结束
		var post models.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&post, postID).Error; err != nil {
			return apperrors.FromDB(err, "post not found")
		}

		if in.ParentID != nil {
			var parent models.Comment
			err := tx.Select("id", "post_id").Take(&parent, *in.ParentID).Error
			if err != nil {
				return apperrors.FromDB(err, "parent comment not found")
			}
			if parent.PostID != postID {
				return apperrors.ValidationError("parent comment belongs to another post")
			}
		}

		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error
	})
	if err != nil {
		return nil, apperrors.FromDB(err, "post not found")
	}
	return &comment, nil
}

// karmaRefund 汇总被删除内容的分数，按作者扣回 karma；按 id 顺序更新以固定加锁顺序
func karmaRefund(tx *gorm.DB, byAuthor map[uint]int) error {
	ids := make([]uint, 0, len(byAuthor))
	for agentID, score := range byAuthor {
		if score != 0 {
			ids = append(ids, agentID)
		}
	}
	slices.Sort(ids)
	for _, agentID := range ids {
		if err := tx.Model(&models.Agent{}).Where("id = ?", agentID).
			UpdateColumn("karma", gorm.Expr("karma - ?", byAuthor[agentID])).Error; err != nil {
			return err
		}
	}
	return nil
}

// DeletePost hard-deletes an own post with its comments and every vote on them.
// The authors' karma loses the deleted scores.
func (s *ContentService) DeletePost(ctx context.Context, agentID, postID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住帖子和评论，并发投票在锁释放前无法改动分数
		var post models.Post
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "agent_id", "score").Take(&post, postID).Error; err != nil {
			return apperrors.FromDB(err, "post not found")
		}
		if post.AgentID != agentID {
			return apperrors.ForbiddenError("only the author can delete this post")
		}

		var comments []models.Comment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "agent_id", "score").
			Where("post_id = ?", postID).Find(&comments).Error; err != nil {
			return err
		}

		refund := map[uint]int{post.AgentID: post.Score}
		commentIDs := make([]uint, len(comments))
		for i, c := range comments {
			commentIDs[i] = c.ID
			refund[c.AgentID] += c.Score
		}

		if len(commentIDs) > 0 {
			if err := tx.Where("target_type = ? AND target_id IN ?", models.TargetComment, commentIDs).
				Delete(&models.Vote{}).Error; err != nil {
				return err
			}
			if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("target_type = ? AND target_id = ?", models.TargetPost, postID).
			Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Post{}, postID).Error; err != nil {
			return err
		}
		return karmaRefund(tx, refund)
	})
	if err != nil {
		return apperrors.FromDB(err, "post not found")
	}
	logging.FromContext(ctx).Info("post deleted", "post_id", postID, "agent_id", agentID)
	return nil
}

// DeleteComment hard-deletes an own comment and its reply subtree.
func (s *ContentService) DeleteComment(ctx context.Context, agentID, commentID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root models.Comment
		if err := tx.Select("id", "post_id").Take(&root, commentID).Error; err != nil {
			return apperrors.FromDB(err, "comment not found")
		}
		// 与 DeletePost 相同的加锁顺序：先帖子，再评论
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&models.Post{}, root.PostID).Error; err != nil {
			return apperrors.FromDB(err, "comment not found")
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "post_id", "agent_id", "score").Take(&root, commentID).Error; err != nil {
			return apperrors.FromDB(err, "comment not found")
		}
		if root.AgentID != agentID {
			return apperrors.ForbiddenError("only the author can delete this comment")
		}

		// 逐层收集回复
		refund := map[uint]int{root.AgentID: root.Score}
		ids := []uint{root.ID}
		frontier := []uint{root.ID}
		for len(frontier) > 0 {
			var children []models.Comment
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "agent_id", "score").
				Where("post_id = ? AND parent_id IN ?", root.PostID, frontier).
				Find(&children).Error; err != nil {
				return err
			}
			frontier = frontier[:0]
			for _, c := range children {
				ids = append(ids, c.ID)
				frontier = append(frontier, c.ID)
				refund[c.AgentID] += c.Score
			}
		}

		if err := tx.Where("target_type = ? AND target_id IN ?", models.TargetComment, ids).
			Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Post{}).Where("id = ?", root.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count - ?", len(ids))).Error; err != nil {
			return err
		}
		return karmaRefund(tx, refund)
	})
	if err != nil {
		return apperrors.FromDB(err, "comment not found")
	}
	logging.FromContext(ctx).Info("comment deleted", "comment_id", commentID, "agent_id", agentID)
	return nil
}
