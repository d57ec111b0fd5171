package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"reward_platform/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

const (
	localLimiterSize = 10_000
	localLimiterTTL  = 15 * time.Minute
)

// localLimiter - token bucket на ключ; давно не виденные ключи вытесняет LRU
type localLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newLocalLimiter(cfg RateLimitConfig) *localLimiter {
	return &localLimiter{
		limit:    rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](localLimiterSize, nil, localLimiterTTL),
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Add продлевает TTL активного ключа
	l.limiters.Add(key, lim)
	l.mu.Unlock()
	return lim.Allow()
}

// redisLimiter - фиксированное окно в секунду, общее для всех инстансов
type redisLimiter struct {
	rdb redis.UniversalClient
	max int64
}

func (l *redisLimiter) allow(ctx context.Context, key string, now time.Time) (bool, error) {
	k := fmt.Sprintf("ratelimit:%s:%d", key, now.Unix())
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.max, nil
}

// RateLimiter использует redis, если он задан, и локальный token bucket при его ошибках
type RateLimiter struct {
	local  *localLimiter
	remote *redisLimiter
}

func NewRateLimiter(cfg RateLimitConfig, rdb redis.UniversalClient) *RateLimiter {
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil
	}
	rl := &RateLimiter{local: newLocalLimiter(cfg)}
	if rdb != nil {
		rl.remote = &redisLimiter{rdb: rdb, max: int64(max(cfg.Burst, int(cfg.RPS)))}
	}
	return rl
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl == nil || key == "" {
		return true
	}
	if rl.remote != nil {
		ok, err := rl.remote.allow(ctx, key, time.Now())
		if err == nil {
			return ok
		}
		logger.WithContext(ctx).Warn("redis rate limit failed, using local limiter", "error", err)
	}
	return rl.local.allow(key)
}

// RateLimit ограничивает запросы по пользователю, а до авторизации по IP
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.Request.Context(), rateLimitKey(c)) {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if u, ok := CurrentUser(c); ok {
		return "user:" + strconv.FormatInt(u.ID, 10)
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
