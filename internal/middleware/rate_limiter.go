package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per requester
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key with bursts up to burst
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

func (rl *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow reports whether a request for key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	return rl.get(key, now).AllowN(now, 1)
}

// Remaining returns the whole tokens currently available for key
func (rl *RateLimiter) Remaining(key string) int {
	now := time.Now()
	n := int(rl.get(key, now).TokensAt(now))
	if n < 0 {
		return 0
	}
	return n
}

// Sweep drops buckets idle for longer than the idle TTL
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.idleTTL)
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
}

// RateLimitMiddleware limits by user ID, falling back to client IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, exists := c.Get(userIDKey); exists {
			if id, ok := userID.(uuid.UUID); ok {
				key = id.String()
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		if !rl.Allow(key) {
			c.Header("X-RateLimit-Remaining", "0")
			retry := time.Duration(float64(time.Second) / float64(rl.limit))
			Abort(c, http.StatusTooManyRequests, APIError{
				Code:       ErrCodeRateLimited,
				Message:    "Too many requests, please try again later",
				RetryAfter: int(retry.Milliseconds()),
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		c.Next()
	}
}
