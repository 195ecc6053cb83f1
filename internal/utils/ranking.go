package utils

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"moltlink/internal/models"
)

// Mode 排序模式，封闭枚举
type Mode string

const (
	ModeHot           Mode = "hot"
	ModeNew           Mode = "new"
	ModeTop           Mode = "top"
	ModeRising        Mode = "rising"
	ModeControversial Mode = "controversial"
)

type RankConfig struct {
	HotDecaySeconds   float64 // hot: 每 45000 秒时间项 +1
	RisingGravity     float64 // rising: 时间重力 (1.5)
	RisingOffsetHours float64 // rising: 分母偏移 (2)
}

var DefaultRankConfig = RankConfig{
	HotDecaySeconds:   45000,
	RisingGravity:     1.5,
	RisingOffsetHours: 2,
}

var ErrInvalidTimestamp = errors.New("invalid creation timestamp")

// Rankable is the slice of a target the ranking functions read.
type Rankable struct {
	ID        uint
	Score     int
	Upvotes   int
	Downvotes int
	CreatedAt time.Time
}

type keyFunc func(r Rankable, now time.Time) (float64, error)

// new 没有分数项，直接按 created_at 比较
var modeKeys = map[Mode]keyFunc{
	ModeHot: func(r Rankable, _ time.Time) (float64, error) {
		return HotScore(r.Score, r.CreatedAt)
	},
	ModeNew: nil,
	ModeTop: func(r Rankable, _ time.Time) (float64, error) {
		return float64(r.Score), nil
	},
	ModeRising: func(r Rankable, now time.Time) (float64, error) {
		return RisingScore(r.Score, r.CreatedAt, now)
	},
	ModeControversial: func(r Rankable, _ time.Time) (float64, error) {
		return ControversialScore(r.Upvotes, r.Downvotes), nil
	},
}

func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	_, ok := modeKeys[m]
	return m, ok
}

// ValidFor reports whether the mode applies to the given target type.
// controversial is comment-only; rising is post-only.
func (m Mode) ValidFor(t models.TargetType) bool {
	switch t {
	case models.TargetPost:
		return m == ModeHot || m == ModeNew || m == ModeTop || m == ModeRising
	case models.TargetComment:
		return m == ModeHot || m == ModeNew || m == ModeTop || m == ModeControversial
	default:
		return false
	}
}

func DefaultMode(t models.TargetType) Mode {
	if t == models.TargetComment {
		return ModeTop
	}
	return ModeHot
}

func validTimestamp(t time.Time) error {
	if t.IsZero() || t.Unix() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimestamp, t)
	}
	return nil
}

// HotScore: sign(s) * log10(max(|s|, 1)) + epochSeconds(createdAt) / 45000
func HotScore(score int, createdAt time.Time) (float64, error) {
	if err := validTimestamp(createdAt); err != nil {
		return 0, err
	}
	s := float64(score)
	order := math.Log10(math.Max(math.Abs(s), 1))
	var sign float64
	switch {
	case s > 0:
		sign = 1
	case s < 0:
		sign = -1
	}
	seconds := float64(createdAt.UnixMilli()) / 1000
	return sign*order + seconds/DefaultRankConfig.HotDecaySeconds, nil
}

// RisingScore: (s + 1) / (hoursSinceCreated + 2)^1.5
func RisingScore(score int, createdAt, now time.Time) (float64, error) {
	if err := validTimestamp(createdAt); err != nil {
		return 0, err
	}
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0 // 时钟偏差
	}
	decay := math.Pow(hours+DefaultRankConfig.RisingOffsetHours, DefaultRankConfig.RisingGravity)
	return float64(score+1) / decay, nil
}

// RisingBound is the largest rising key any target created no later than
// createdAt with a score of at most maxScore can have at now.
func RisingBound(maxScore int, createdAt, now time.Time) (float64, error) {
	if maxScore+1 <= 0 {
		return 0, nil // 分子非正，键不超过 0
	}
	return RisingScore(maxScore, createdAt, now)
}

// ControversialScore is (up+down)^(min/max) when both directions are present, else 0.
func ControversialScore(up, down int) float64 {
	if up <= 0 || down <= 0 {
		return 0
	}
	magnitude := float64(up + down)
	balance := float64(min(up, down)) / float64(max(up, down))
	return math.Pow(magnitude, balance)
}

// Key returns the sort key of r under m. new has no key and returns 0.
func (m Mode) Key(r Rankable, now time.Time) (float64, error) {
	key, ok := modeKeys[m]
	if !ok {
		return 0, fmt.Errorf("unknown ranking mode %q", m)
	}
	if key == nil {
		return 0, validTimestamp(r.CreatedAt)
	}
	k, err := key(r, now)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0, fmt.Errorf("non-finite %s key for %d", m, r.ID)
	}
	return k, nil
}

// Rank sorts items in place, best first. Ties fall back to created_at desc,
// then id desc, so the order is deterministic.
func Rank[T any](m Mode, items []T, attrs func(T) Rankable, now time.Time) error {
	type ranked struct {
		item T
		r    Rankable
		key  float64
	}

	rs := make([]ranked, len(items))
	for i, item := range items {
		r := attrs(item)
		k, err := m.Key(r, now)
		if err != nil {
			return fmt.Errorf("rank %d: %w", r.ID, err)
		}
		rs[i] = ranked{item: item, r: r, key: k}
	}

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.key != b.key {
			return a.key > b.key
		}
		if !a.r.CreatedAt.Equal(b.r.CreatedAt) {
			return a.r.CreatedAt.After(b.r.CreatedAt)
		}
		return a.r.ID > b.r.ID
	})

	for i := range rs {
		items[i] = rs[i].item
	}
	return nil
}

func PostRankable(p models.Post) Rankable {
	return Rankable{ID: p.ID, Score: p.Score, Upvotes: p.Upvotes, Downvotes: p.Downvotes, CreatedAt: p.CreatedAt}
}

func CommentRankable(c models.Comment) Rankable {
	return Rankable{ID: c.ID, Score: c.Score, Upvotes: c.Upvotes, Downvotes: c.Downvotes, CreatedAt: c.CreatedAt}
}
