package services

import (
	"context"
	"fmt"

	"moltlink/internal/logging"
	"moltlink/internal/metrics"
	"moltlink/internal/models"

	"gorm.io/gorm"
)

// Drift is one denormalized counter that disagrees with its source rows.
type Drift struct {
	Table  string `json:"table"`
	ID     uint   `json:"id"`
	Field  string `json:"field"`
	Stored int    `json:"stored"`
	Actual int    `json:"actual"`
}

func (d Drift) String() string {
	return fmt.Sprintf("%s#%d.%s stored=%d actual=%d", d.Table, d.ID, d.Field, d.Stored, d.Actual)
}

type ReconcileReport struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
	Fixed   bool    `json:"fixed"`
}

// Reconciler 从投票、关注、订阅、评论行重新计算冗余计数，报告并可选修复偏差
type Reconciler struct {
	db        *gorm.DB
	BatchSize int
}

func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db, BatchSize: 500}
}

type voteTotal struct {
	TargetID uint
	Up       int
	Down     int
}

type countRow struct {
	ID    uint
	Count int
}

func voteTotals(tx *gorm.DB, t models.TargetType) (map[uint]voteTotal, error) {
	var rows []voteTotal
	err := tx.Model(&models.Vote{}).
		Select("target_id, SUM(CASE WHEN value > 0 THEN 1 ELSE 0 END) AS up, SUM(CASE WHEN value < 0 THEN 1 ELSE 0 END) AS down").
		Where("target_type = ?", t).
		Group("target_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate %s votes: %w", t, err)
	}
	out := make(map[uint]voteTotal, len(rows))
	for _, r := range rows {
		out[r.TargetID] = r
	}
	return out, nil
}

// groupCount 统计 model 中按 column 分组的行数
func groupCount(tx *gorm.DB, model any, column string) (map[uint]int, error) {
	var rows []countRow
	err := tx.Model(model).
		Select(column + " AS id, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Count
	}
	return out, nil
}

// Run checks every counter. With fix set, drifted counters are overwritten
// with the recomputed values in the same transaction.
func (r *Reconciler) Run(ctx context.Context, fix bool) (*ReconcileReport, error) {
	report := &ReconcileReport{Drifts: []Drift{}, Fixed: fix}
	log := logging.FromContext(ctx)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		postVotes, err := voteTotals(tx, models.TargetPost)
		if err != nil {
			return err
		}
		commentVotes, err := voteTotals(tx, models.TargetComment)
		if err != nil {
			return err
		}
		commentCounts, err := groupCount(tx, &models.Comment{}, "post_id")
		if err != nil {
			return err
		}

		karma := make(map[uint]int)
		check := func(table string, id uint, field string, stored, actual int) {
			report.Checked++
			if stored != actual {
				report.Drifts = append(report.Drifts, Drift{Table: table, ID: id, Field: field, Stored: stored, Actual: actual})
			}
		}

		var posts []models.Post
		err = tx.Select("id", "agent_id", "score", "upvotes", "downvotes", "comment_count").
			FindInBatches(&posts, r.BatchSize, func(_ *gorm.DB, _ int) error {
				for _, p := range posts {
					v := postVotes[p.ID]
					check("posts", p.ID, "score", p.Score, v.Up-v.Down)
					check("posts", p.ID, "upvotes", p.Upvotes, v.Up)
					check("posts", p.ID, "downvotes", p.Downvotes, v.Down)
					check("posts", p.ID, "comment_count", p.CommentCount, commentCounts[p.ID])
					karma[p.AgentID] += v.Up - v.Down
				}
				return nil
			}).Error
		if err != nil {
			return fmt.Errorf("scan posts: %w", err)
		}

		var comments []models.Comment
		err = tx.Select("id", "agent_id", "score", "upvotes", "downvotes").
			FindInBatches(&comments, r.BatchSize, func(_ *gorm.DB, _ int) error {
				for _, c := range comments {
					v := commentVotes[c.ID]
					check("comments", c.ID, "score", c.Score, v.Up-v.Down)
					check("comments", c.ID, "upvotes", c.Upvotes, v.Up)
					check("comments", c.ID, "downvotes", c.Downvotes, v.Down)
					karma[c.AgentID] += v.Up - v.Down
				}
				return nil
			}).Error
		if err != nil {
			return fmt.Errorf("scan comments: %w", err)
		}

		followers, err := groupCount(tx, &models.Follow{}, "followed_id")
		if err != nil {
			return err
		}
		following, err := groupCount(tx, &models.Follow{}, "follower_id")
		if err != nil {
			return err
		}

		var agents []models.Agent
		err = tx.Select("id", "karma", "follower_count", "following_count").
			FindInBatches(&agents, r.BatchSize, func(_ *gorm.DB, _ int) error {
				for _, a := range agents {
					check("agents", a.ID, "karma", a.Karma, karma[a.ID])
					check("agents", a.ID, "follower_count", a.FollowerCount, followers[a.ID])
					check("agents", a.ID, "following_count", a.FollowingCount, following[a.ID])
				}
				return nil
			}).Error
		if err != nil {
			return fmt.Errorf("scan agents: %w", err)
		}

		subscribers, err := groupCount(tx, &models.Subscription{}, "submolt_id")
		if err != nil {
			return err
		}
		var submolts []models.Submolt
		if err := tx.Select("id", "subscriber_count").Find(&submolts).Error; err != nil {
			return fmt.Errorf("scan submolts: %w", err)
		}
		for _, s := range submolts {
			check("submolts", s.ID, "subscriber_count", s.SubscriberCount, subscribers[s.ID])
		}

		for _, d := range report.Drifts {
			metrics.ReconcileDriftTotal.WithLabelValues(d.Table + "." + d.Field).Inc()
			log.Warn("counter drift", "table", d.Table, "id", d.ID, "field", d.Field, "stored", d.Stored, "actual", d.Actual)
		}
		if !fix {
			return nil
		}
		type target struct {
			table string
			id    uint
		}
		var rerank []target
		seen := make(map[target]bool)
		for _, d := range report.Drifts {
			if err := tx.Table(d.Table).Where("id = ?", d.ID).UpdateColumn(d.Field, d.Actual).Error; err != nil {
				return fmt.Errorf("fix %s: %w", d, err)
			}
			switch d.Field {
			case "score", "upvotes", "downvotes":
				t := target{d.Table, d.ID}
				if !seen[t] {
					seen[t] = true
					rerank = append(rerank, t)
				}
			}
		}
		// 计数修正后重算存储排序键
		for _, t := range rerank {
			var c targetCounters
			if err := tx.Table(t.table).Select("score", "upvotes", "downvotes", "created_at").Where("id = ?", t.id).Take(&c).Error; err != nil {
				return fmt.Errorf("rerank %s#%d: %w", t.table, t.id, err)
			}
			keys, err := rankColumns(c.Score, c.Upvotes, c.Downvotes, c.CreatedAt)
			if err != nil {
				return fmt.Errorf("rerank %s#%d: %w", t.table, t.id, err)
			}
			if err := tx.Table(t.table).Where("id = ?", t.id).UpdateColumns(keys).Error; err != nil {
				return fmt.Errorf("rerank %s#%d: %w", t.table, t.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("reconcile finished", "checked", report.Checked, "drifts", len(report.Drifts), "fixed", fix)
	return report, nil
}
