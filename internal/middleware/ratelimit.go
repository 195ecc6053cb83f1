package middleware

import (
	"strconv"
	"sync"
	"time"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/metrics"
	"moltlink/internal/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter 按 agent（匿名请求按 IP）分配令牌桶，限流器存放在 LRU 中
type RateLimiter struct {
	mu       sync.Mutex
	limiters *utils.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(perSecond float64, burst, size int, idle time.Duration) (*RateLimiter, error) {
	limiters, err := utils.NewCache[string, *rate.Limiter](size, idle, nil)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{limiters: limiters, limit: rate.Limit(perSecond), burst: burst}, nil
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
	}
	// 重新写入以刷新空闲过期时间
	rl.limiters.Set(key, l)
	return l
}

// Allow reports whether one more request for key fits in its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiterFor(key).Allow()
}

// Middleware must run after LoadAgent so authenticated requests are keyed by agent.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := CurrentAgentID(c); id != 0 {
			key = "agent:" + strconv.FormatUint(uint64(id), 10)
		}
		if !rl.Allow(key) {
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", "1")
			Abort(c, apperrors.RateLimitedError("rate limit exceeded"))
			return
		}
		c.Next()
	}
}
