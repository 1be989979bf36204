package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/httputil"
)

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	// Idle limiters are evicted after this long
	TTL time.Duration
}

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	config   RateLimiterConfig
	limiters *cache.Cache
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:   config,
		limiters: cache.New(config.TTL, config.TTL),
	}
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.limiterFor(clientKey(c))
		if !limiter.Allow() {
			c.Header("Retry-After", strconv.Itoa(rl.retryAfter()))
			httputil.RespondWithError(c, &apperrors.AppError{
				Code:    apperrors.ErrRateLimited,
				Message: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	if v, ok := rl.limiters.Get(key); ok {
		rl.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	if err := rl.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// lost the race to another request from the same client
		if v, ok := rl.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// retryAfter is the wait in whole seconds until one token refills
func (rl *RateLimiter) retryAfter() int {
	if rl.config.Rate <= 0 || rl.config.Rate == rate.Inf {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(rl.config.Rate))))
}

// clientKey prefers the authenticated user over the client address
func clientKey(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}
