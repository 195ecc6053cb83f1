package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"moltlink/internal/db/dbtest"
	"moltlink/internal/middleware"
	"moltlink/internal/services"
	"moltlink/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	clock  *clockwork.FakeClock
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := dbtest.New(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	keys, err := utils.NewCache[string, uint](64, time.Minute, clock)
	require.NoError(t, err)
	agents := services.NewAgentService(gdb, keys)
	agents.BcryptCost = bcrypt.MinCost

	engine := New(Deps{
		DB:          gdb,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Agents:      agents,
		Follows:     services.NewFollowService(gdb),
		Submolts:    services.NewSubmoltService(gdb),
		Content:     services.NewContentService(gdb, clock),
		Votes:       services.NewVoteService(gdb),
		Feed:        services.NewFeedComposer(gdb, clock, services.FeedSettings{DefaultLimit: 25, MaxLimit: 100, CandidateWindow: 1000}),
		RateLimiter: limiter,
	})
	return &testServer{t: t, engine: engine, clock: clock}
}

func (s *testServer) do(method, path, key string, body any) (int, map[string]any) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (s *testServer) register(name string) string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/agents/register", "", gin.H{"name": name, "description": "test agent"})
	require.Equal(s.t, http.StatusCreated, code, body)
	agent := body["agent"].(map[string]any)
	assert.NotContains(s.t, agent, "api_key_hash")
	return agent["api_key"].(string)
}

func (s *testServer) createPost(key, title string) int {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/posts", key, gin.H{"title": title, "content": "hello **world**", "submolt": "general"})
	require.Equal(s.t, http.StatusCreated, code, body)
	return int(body["data"].(map[string]any)["id"].(float64))
}

func path(format string, id int) string {
	return "/api/v1/" + format + "/" + strconv.Itoa(id)
}

func TestRegisterAndMe(t *testing.T) {
	s := newTestServer(t, nil)
	key := s.register("crab")

	code, body := s.do(http.MethodGet, "/api/v1/agents/me", key, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "crab", body["data"].(map[string]any)["name"])

	code, body = s.do(http.MethodGet, "/api/v1/agents/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["type"])

	code, body = s.do(http.MethodPost, "/api/v1/agents/register", "", gin.H{"name": "crab"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body["type"])
}

func TestPostVoteFlow(t *testing.T) {
	s := newTestServer(t, nil)
	author, voter := s.register("author"), s.register("voter")
	id := s.createPost(author, "first")

	code, body := s.do(http.MethodPost, path("posts", id)+"/upvote", voter, nil)
	require.Equal(t, http.StatusOK, code, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "up", data["direction"])
	assert.Equal(t, 1.0, data["score"])

	code, body = s.do(http.MethodPost, path("posts", id)+"/downvote", voter, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, -1.0, body["data"].(map[string]any)["score"])

	code, body = s.do(http.MethodPost, path("posts", id)+"/downvote", voter, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "none", body["data"].(map[string]any)["direction"])
	assert.Equal(t, 0.0, body["data"].(map[string]any)["score"])

	code, body = s.do(http.MethodPost, path("posts", id)+"/upvote", author, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["type"])

	code, _ = s.do(http.MethodPost, path("posts", 9999)+"/upvote", voter, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/posts/abc/upvote", voter, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, path("posts", id)+"/upvote", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestListPostsShape(t *testing.T) {
	s := newTestServer(t, nil)
	author, viewer := s.register("author"), s.register("viewer")
	first := s.createPost(author, "first")
	s.clock.Advance(time.Minute)
	s.createPost(author, "second")
	s.do(http.MethodPost, path("posts", first)+"/upvote", viewer, nil)

	code, body := s.do(http.MethodGet, "/api/v1/posts?sort=new&limit=1", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "second", item["title"])
	assert.Equal(t, "author", item["author_name"])
	assert.Equal(t, "general", item["submolt"])
	assert.NotContains(t, item, "user_vote")
	assert.Equal(t, map[string]any{"limit": 1.0, "offset": 0.0, "count": 1.0, "sort": "new"}, body["pagination"])

	code, body = s.do(http.MethodGet, "/api/v1/posts?sort=new&limit=1&offset=1", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	item = body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "first", item["title"])
	assert.Equal(t, "up", item["user_vote"])

	code, body = s.do(http.MethodGet, "/api/v1/posts?offset=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["type"])
	code, _ = s.do(http.MethodGet, "/api/v1/posts?limit=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(http.MethodGet, "/api/v1/posts?sort=controversial", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodGet, path("posts", first), viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["data"].(map[string]any)["content_html"], "<strong>world</strong>")
}

func TestCommentsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	author, other := s.register("author"), s.register("other")
	id := s.createPost(author, "thread")

	code, body := s.do(http.MethodPost, path("posts", id)+"/comments", other, gin.H{"content": "first!"})
	require.Equal(t, http.StatusCreated, code, body)
	parent := int(body["data"].(map[string]any)["id"].(float64))

	code, body = s.do(http.MethodPost, path("posts", id)+"/comments", author, gin.H{"content": "reply", "parent_id": parent})
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = s.do(http.MethodPost, path("comments", parent)+"/upvote", author, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodGet, path("posts", id)+"/comments?sort=top", "", nil)
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "first!", items[0].(map[string]any)["content"])
	assert.Equal(t, 1.0, items[0].(map[string]any)["score"])

	code, body = s.do(http.MethodGet, path("posts", id), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["data"].(map[string]any)["comment_count"])

	code, _ = s.do(http.MethodDelete, path("comments", parent), author, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodDelete, path("comments", parent), other, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodGet, path("posts", id)+"/comments", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])
}

func TestSubmoltsAndPersonalizedFeed(t *testing.T) {
	s := newTestServer(t, nil)
	reader, writer := s.register("reader"), s.register("writer")

	code, body := s.do(http.MethodPost, "/api/v1/submolts", writer, gin.H{"name": "lobsters", "description": "shells"})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = s.do(http.MethodPost, "/api/v1/posts", writer, gin.H{"title": "molting", "url": "https://example.com/molt", "submolt": "lobsters"})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = s.do(http.MethodGet, "/api/v1/feed", reader, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])

	code, body = s.do(http.MethodPost, "/api/v1/submolts/lobsters/subscribe", reader, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["data"].(map[string]any)["subscriber_count"])

	code, body = s.do(http.MethodGet, "/api/v1/feed", reader, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"], 1)

	code, body = s.do(http.MethodGet, "/api/v1/submolts/lobsters/feed?sort=top", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"], 1)
	assert.Equal(t, "https://example.com/molt", body["data"].([]any)[0].(map[string]any)["url"])

	code, body = s.do(http.MethodGet, "/api/v1/submolts/lobsters", reader, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["data"].(map[string]any)["is_subscribed"])

	code, _ = s.do(http.MethodGet, "/api/v1/submolts/nowhere/feed", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(http.MethodGet, "/api/v1/submolts", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 2)

	code, _ = s.do(http.MethodGet, "/api/v1/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestFollowEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	a, b := s.register("agent_a"), s.register("agent_b")

	code, body := s.do(http.MethodPost, "/api/v1/agents/agent_b/follow", a, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 1.0, body["data"].(map[string]any)["follower_count"])

	// B 在 general 发帖，A 未订阅 general，通过关注进入 A 的 feed
	id := s.createPost(b, "from b")
	code, body = s.do(http.MethodGet, "/api/v1/feed", a, nil)
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(id), items[0].(map[string]any)["id"])

	code, body = s.do(http.MethodGet, "/api/v1/agents/agent_b", a, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["data"].(map[string]any)["is_following"])

	code, _ = s.do(http.MethodPost, "/api/v1/agents/agent_a/follow", a, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodDelete, "/api/v1/agents/agent_b/follow", a, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, body["data"].(map[string]any)["follower_count"])
}

func TestDeletePostEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	author, other := s.register("author"), s.register("other")
	id := s.createPost(author, "bye")

	code, _ := s.do(http.MethodDelete, path("posts", id), other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(http.MethodDelete, path("posts", id), author, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, path("posts", id), "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRateLimitAndOps(t *testing.T) {
	limiter, err := middleware.NewRateLimiter(0.001, 2, 64, time.Minute)
	require.NoError(t, err)
	s := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		code, _ := s.do(http.MethodGet, "/api/v1/submolts", "", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := s.do(http.MethodGet, "/api/v1/submolts", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["type"])

	code, body = s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code, "ops endpoints are not rate limited")
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "moltlink_http_requests_total")
}
