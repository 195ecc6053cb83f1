package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/metrics"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PageRequest carries the raw sort/limit/offset of a list request.
// An empty Sort selects the target type's default mode.
type PageRequest struct {
	Sort   string
	Limit  int
	Offset int
}

type Page[T any] struct {
	Items  []T
	Mode   utils.Mode
	Limit  int
	Offset int
}

type PostItem struct {
	models.Post
	Author      string            `json:"author_name"`
	ContentHTML string            `json:"content_html,omitempty"`
	UserVote    *models.Direction `json:"user_vote,omitempty"`
}

type CommentItem struct {
	models.Comment
	Author      string            `json:"author_name"`
	ContentHTML string            `json:"content_html"`
	UserVote    *models.Direction `json:"user_vote,omitempty"`
}

type FeedSettings struct {
	DefaultLimit int
	MaxLimit     int
	// CandidateWindow is how many rising candidates are read per round trip.
	CandidateWindow int
}

type FeedComposer struct {
	db       *gorm.DB
	clock    clockwork.Clock
	settings FeedSettings
}

func NewFeedComposer(db *gorm.DB, clock clockwork.Clock, settings FeedSettings) *FeedComposer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FeedComposer{db: db, clock: clock, settings: settings}
}

func (f *FeedComposer) Settings() FeedSettings {
	return f.settings
}

var (
	byRecency = clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
	byScore = clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "score"}, Desc: true},
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
	byHotRank = clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "hot_rank"}, Desc: true},
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
	byControversy = clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "controversy"}, Desc: true},
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
)

// storeOrder 键不依赖 now 的模式，数据库顺序即最终顺序，直接分页
var storeOrder = map[utils.Mode]clause.OrderBy{
	utils.ModeNew:           byRecency,
	utils.ModeTop:           byScore,
	utils.ModeHot:           byHotRank,
	utils.ModeControversial: byControversy,
}

// resolve validates sort and offset and clamps limit to [1, MaxLimit].
func (f *FeedComposer) resolve(t models.TargetType, req PageRequest) (utils.Mode, int, int, error) {
	mode := utils.DefaultMode(t)
	if s := strings.ToLower(strings.TrimSpace(req.Sort)); s != "" {
		m, ok := utils.ParseMode(s)
		if !ok || !m.ValidFor(t) {
			return "", 0, 0, apperrors.ValidationError(fmt.Sprintf("unsupported sort %q for %ss", req.Sort, t))
		}
		mode = m
	}
	if req.Offset < 0 {
		return "", 0, 0, apperrors.ValidationError("offset must not be negative")
	}
	limit := req.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > f.settings.MaxLimit {
		limit = f.settings.MaxLimit
	}
	return mode, limit, req.Offset, nil
}

// rankWindow returns [offset, offset+limit) of the full ordering of base()'s rows.
func rankWindow[T any](base func() *gorm.DB, mode utils.Mode, limit, offset, chunk int, attrs func(T) utils.Rankable, now time.Time) ([]T, error) {
	rows := make([]T, 0, limit)
	if order, ok := storeOrder[mode]; ok {
		if err := base().Clauses(order).Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
			return nil, apperrors.FromDB(err, "")
		}
		if err := utils.Rank(mode, rows, attrs, now); err != nil {
			return nil, apperrors.InternalError("ranking failed", err)
		}
		return rows, nil
	}

	rows, err := risingRows(base, offset+limit, chunk, attrs, now)
	if err != nil {
		return nil, err
	}
	if offset >= len(rows) {
		return rows[:0], nil
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end], nil
}

// risingRows ranks candidates fetched newest first, chunk rows at a time, until
// the need-th ranked key is at least the key any unfetched (older) row could reach.
// The returned slice is ranked and its first need rows are exact.
func risingRows[T any](base func() *gorm.DB, need, chunk int, attrs func(T) utils.Rankable, now time.Time) ([]T, error) {
	if chunk < need {
		chunk = need
	}
	var rows []T
	older := func(q *gorm.DB, last utils.Rankable) *gorm.DB {
		return q.Where("(created_at < ? OR (created_at = ? AND id < ?))", last.CreatedAt, last.CreatedAt, last.ID)
	}

	var last *utils.Rankable
	for {
		q := base()
		if last != nil {
			q = older(q, *last)
		}
		var batch []T
		if err := q.Clauses(byRecency).Limit(chunk).Find(&batch).Error; err != nil {
			return nil, apperrors.FromDB(err, "")
		}
		if len(batch) > 0 {
			r := attrs(batch[len(batch)-1])
			last = &r
		}
		rows = append(rows, batch...)
		if err := utils.Rank(utils.ModeRising, rows, attrs, now); err != nil {
			return nil, apperrors.InternalError("ranking failed", err)
		}
		if len(batch) < chunk {
			return rows, nil // 没有更多候选
		}
		if len(rows) < need {
			continue
		}

		var rest struct{ MaxScore *int }
		if err := older(base(), *last).Select("MAX(score) AS max_score").Scan(&rest).Error; err != nil {
			return nil, apperrors.FromDB(err, "")
		}
		if rest.MaxScore == nil {
			return rows, nil
		}
		bound, err := utils.RisingBound(*rest.MaxScore, last.CreatedAt, now)
		if err != nil {
			return nil, apperrors.InternalError("ranking failed", err)
		}
		kth, err := utils.ModeRising.Key(attrs(rows[need-1]), now)
		if err != nil {
			return nil, apperrors.InternalError("ranking failed", err)
		}
		// 相同键时较新的行排在前面，未取到的行不会插到它前面
		if kth >= bound {
			return rows, nil
		}
	}
}

// GetFeed returns the global post feed, or one submolt's feed when submolt is set.
func (f *FeedComposer) GetFeed(ctx context.Context, viewerID uint, submolt string, req PageRequest) (*Page[PostItem], error) {
	kind := "global"
	scope := func(q *gorm.DB) *gorm.DB { return q }

	if name := strings.ToLower(strings.TrimSpace(submolt)); name != "" {
		var sm models.Submolt
		err := f.db.WithContext(ctx).Select("id").Where("name = ?", name).Take(&sm).Error
		if err != nil {
			return nil, apperrors.FromDB(err, "submolt not found")
		}
		kind = "submolt"
		scope = func(q *gorm.DB) *gorm.DB { return q.Where("submolt_id = ?", sm.ID) }
	}

	return f.composePosts(ctx, kind, viewerID, req, scope)
}

// GetPersonalizedFeed returns posts from the viewer's subscribed submolts and
// followed agents. A post matching both appears once.
func (f *FeedComposer) GetPersonalizedFeed(ctx context.Context, viewerID uint, req PageRequest) (*Page[PostItem], error) {
	if viewerID == 0 {
		return nil, apperrors.UnauthorizedError("personalized feed requires an agent")
	}
	subscribed := f.db.Model(&models.Subscription{}).Select("submolt_id").Where("agent_id = ?", viewerID)
	followed := f.db.Model(&models.Follow{}).Select("followed_id").Where("follower_id = ?", viewerID)

	scope := func(q *gorm.DB) *gorm.DB {
		return q.Where("(submolt_id IN (?) OR agent_id IN (?))", subscribed, followed)
	}
	return f.composePosts(ctx, "personalized", viewerID, req, scope)
}

func (f *FeedComposer) composePosts(ctx context.Context, kind string, viewerID uint, req PageRequest, scope func(*gorm.DB) *gorm.DB) (*Page[PostItem], error) {
	mode, limit, offset, err := f.resolve(models.TargetPost, req)
	if err != nil {
		return nil, err
	}
	timer := prometheus.NewTimer(metrics.FeedDuration.WithLabelValues(kind, string(mode)))
	defer timer.ObserveDuration()

	base := func() *gorm.DB { return f.db.WithContext(ctx).Model(&models.Post{}).Scopes(scope) }
	posts, err := rankWindow(base, mode, limit, offset, f.settings.CandidateWindow, utils.PostRankable, f.clock.Now())
	if err != nil {
		logging.FromContext(ctx).Error("compose feed failed", "kind", kind, "mode", mode, "error", err)
		return nil, err
	}

	items, err := f.decoratePosts(ctx, viewerID, posts)
	if err != nil {
		return nil, err
	}
	return &Page[PostItem]{Items: items, Mode: mode, Limit: limit, Offset: offset}, nil
}

// decoratePosts 批量补充作者名和当前用户的投票方向
func (f *FeedComposer) decoratePosts(ctx context.Context, viewerID uint, posts []models.Post) ([]PostItem, error) {
	postIDs := make([]uint, len(posts))
	agentIDs := make([]uint, len(posts))
	for i, p := range posts {
		postIDs[i] = p.ID
		agentIDs[i] = p.AgentID
	}

	names, err := AuthorNames(ctx, f.db, agentIDs)
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	votes, err := VotesFor(ctx, f.db, viewerID, models.TargetPost, postIDs)
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}

	items := make([]PostItem, len(posts))
	for i, p := range posts {
		items[i] = PostItem{Post: p, Author: names[p.AgentID]}
		if d, ok := votes[p.ID]; ok {
			items[i].UserVote = &d
		}
	}
	return items, nil
}

// GetComments returns one post's comments as a flat ranked list; replies carry parent_id.
func (f *FeedComposer) GetComments(ctx context.Context, viewerID, postID uint, req PageRequest) (*Page[CommentItem], error) {
	mode, limit, offset, err := f.resolve(models.TargetComment, req)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := f.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).Count(&count).Error; err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	if count == 0 {
		return nil, apperrors.NotFoundError("post not found")
	}

	timer := prometheus.NewTimer(metrics.FeedDuration.WithLabelValues("comments", string(mode)))
	defer timer.ObserveDuration()

	base := func() *gorm.DB { return f.db.WithContext(ctx).Model(&models.Comment{}).Where("post_id = ?", postID) }
	comments, err := rankWindow(base, mode, limit, offset, f.settings.CandidateWindow, utils.CommentRankable, f.clock.Now())
	if err != nil {
		return nil, err
	}

	commentIDs := make([]uint, len(comments))
	agentIDs := make([]uint, len(comments))
	for i, c := range comments {
		commentIDs[i] = c.ID
		agentIDs[i] = c.AgentID
	}
	names, err := AuthorNames(ctx, f.db, agentIDs)
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}
	votes, err := VotesFor(ctx, f.db, viewerID, models.TargetComment, commentIDs)
	if err != nil {
		return nil, apperrors.FromDB(err, "")
	}

	items := make([]CommentItem, len(comments))
	for i, c := range comments {
		items[i] = CommentItem{
			Comment:     c,
			Author:      names[c.AgentID],
			ContentHTML: utils.RenderMarkdown(c.Content),
		}
		if d, ok := votes[c.ID]; ok {
			items[i].UserVote = &d
		}
	}
	return &Page[CommentItem]{Items: items, Mode: mode, Limit: limit, Offset: offset}, nil
}

// AuthorNames maps agent ids to names in one query.
func AuthorNames(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var agents []models.Agent
	if err := db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&agents).Error; err != nil {
		return nil, err
	}
	for _, a := range agents {
		out[a.ID] = a.Name
	}
	return out, nil
}
