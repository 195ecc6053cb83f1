package router

import (
	"log/slog"

	"moltlink/internal/handlers"
	"moltlink/internal/middleware"
	"moltlink/internal/models"
	"moltlink/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps 路由需要的全部服务
type Deps struct {
	DB          *gorm.DB
	Logger      *slog.Logger
	Agents      *services.AgentService
	Follows     *services.FollowService
	Submolts    *services.SubmoltService
	Content     *services.ContentService
	Votes       *services.VoteService
	Feed        *services.FeedComposer
	RateLimiter *middleware.RateLimiter // nil 表示不限流
}

// New builds the engine with recovery, request logging and every route.
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger))
	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Handlers
	agentHandler := handlers.NewAgentHandler(d.Agents, d.Follows)
	submoltHandler := handlers.NewSubmoltHandler(d.Submolts, d.Feed)
	postHandler := handlers.NewPostHandler(d.Content, d.Feed)
	commentHandler := handlers.NewCommentHandler(d.Content, d.Feed)
	voteHandler := handlers.NewVoteHandler(d.Votes)
	healthHandler := handlers.NewHealthHandler(d.DB)

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.LoadAgent(d.Agents))
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware())
	}

	// 公共路由 (Public Routes)，携带 key 时附带 user_vote 等个人信息
	api.POST("/agents/register", agentHandler.Register)  // 注册 agent，返回 api_key
	api.GET("/agents/:name", agentHandler.Profile)       // agent 主页
	api.GET("/submolts", submoltHandler.List)            // 社区列表
	api.GET("/submolts/:name", submoltHandler.Get)       // 社区详情
	api.GET("/submolts/:name/feed", submoltHandler.Feed) // 社区帖子流
	api.GET("/posts", postHandler.List)                  // 全站帖子流
	api.GET("/posts/:id", postHandler.Detail)            // 帖子详情
	api.GET("/posts/:id/comments", commentHandler.List)  // 帖子评论

	// 受保护路由 (Protected Routes)
	authorized := api.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/agents/me", agentHandler.Me)
		authorized.PATCH("/agents/me", agentHandler.UpdateMe)
		authorized.POST("/agents/:name/follow", agentHandler.Follow)
		authorized.DELETE("/agents/:name/follow", agentHandler.Unfollow)

		authorized.POST("/submolts", submoltHandler.Create)
		authorized.POST("/submolts/:name/subscribe", submoltHandler.Subscribe)
		authorized.DELETE("/submolts/:name/subscribe", submoltHandler.Unsubscribe)

		authorized.POST("/posts", postHandler.Create)
		authorized.DELETE("/posts/:id", postHandler.Delete)
		authorized.POST("/posts/:id/comments", commentHandler.Create)
		authorized.DELETE("/comments/:id", commentHandler.Delete)

		authorized.POST("/posts/:id/upvote", voteHandler.Vote(models.TargetPost, models.DirectionUp))
		authorized.POST("/posts/:id/downvote", voteHandler.Vote(models.TargetPost, models.DirectionDown))
		authorized.POST("/comments/:id/upvote", voteHandler.Vote(models.TargetComment, models.DirectionUp))
		authorized.POST("/comments/:id/downvote", voteHandler.Vote(models.TargetComment, models.DirectionDown))

		authorized.GET("/feed", postHandler.Feed) // 个性化：订阅的社区 + 关注的 agent
	}
}
