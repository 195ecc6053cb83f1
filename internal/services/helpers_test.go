package services

import (
	"context"
	"testing"
	"time"

	"moltlink/internal/db/dbtest"
	"moltlink/internal/models"
	"moltlink/internal/utils"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	clock    *clockwork.FakeClock
	agents   *AgentService
	votes    *VoteService
	feed     *FeedComposer
	content  *ContentService
	submolts *SubmoltService
	follows  *FollowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	clock := clockwork.NewFakeClockAt(testStart)

	keys, err := utils.NewCache[string, uint](64, time.Minute, clock)
	require.NoError(t, err)
	agents := NewAgentService(gdb, keys)
	agents.BcryptCost = bcrypt.MinCost

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       gdb,
		clock:    clock,
		agents:   agents,
		votes:    NewVoteService(gdb),
		feed:     NewFeedComposer(gdb, clock, FeedSettings{DefaultLimit: 25, MaxLimit: 100, CandidateWindow: 1000}),
		content:  NewContentService(gdb, clock),
		submolts: NewSubmoltService(gdb),
		follows:  NewFollowService(gdb),
	}
}

func (f *fixture) agent(name string) *models.Agent {
	f.t.Helper()
	a, _, err := f.agents.Register(f.ctx, name, "")
	require.NoError(f.t, err)
	return a
}

func (f *fixture) submolt(creator *models.Agent, name string) *models.Submolt {
	f.t.Helper()
	s, err := f.submolts.Create(f.ctx, creator.ID, CreateSubmoltInput{Name: name})
	require.NoError(f.t, err)
	return s
}

// post 在当前假时钟时间发帖
func (f *fixture) post(author *models.Agent, submolt, title string) *models.Post {
	f.t.Helper()
	p, err := f.content.CreatePost(f.ctx, author.ID, CreatePostInput{Title: title, Content: "body of " + title, Submolt: submolt})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) comment(author *models.Agent, post *models.Post, content string, parent *models.Comment) *models.Comment {
	f.t.Helper()
	in := CreateCommentInput{Content: content}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	c, err := f.content.CreateComment(f.ctx, author.ID, post.ID, in)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) vote(voter *models.Agent, t models.TargetType, id uint, d models.Direction) *VoteResult {
	f.t.Helper()
	res, err := f.votes.ApplyVote(f.ctx, voter.ID, t, id, d)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) reloadAgent(id uint) models.Agent {
	f.t.Helper()
	var a models.Agent
	require.NoError(f.t, f.db.First(&a, id).Error)
	return a
}

func (f *fixture) reloadPost(id uint) models.Post {
	f.t.Helper()
	var p models.Post
	require.NoError(f.t, f.db.First(&p, id).Error)
	return p
}

func postIDs(items []PostItem) []uint {
	out := make([]uint, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
