package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-IP token bucket rate limiter
// ──────────────────────────────────────────────────────────────────────────────

// maxTrackedIPs bounds the limiter table; the least recently seen IPs are
// evicted first and start again with a full bucket.
const maxTrackedIPs = 10_000

// rateLimiter holds one rate.Limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache
	limit    rate.Limit
	burst    int
}

// newRateLimiter creates a limiter allowing rps requests per second per IP.
// A burst below 1 is raised to max(10, rps).
func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = int(rps)
		if burst < 10 {
			burst = 10
		}
	}
	cache, _ := lru.New(maxTrackedIPs) // size is a positive constant
	return &rateLimiter{limiters: cache, limit: rate.Limit(rps), burst: burst}
}

// allow returns true when key may proceed and consumes one token.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.limiters.Get(key)
	if !ok {
		v = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(key, v)
	}
	rl.mu.Unlock()
	return v.(*rate.Limiter).Allow()
}

// RateLimitMiddleware returns a gin.HandlerFunc that enforces a per-IP token
// bucket of rps requests per second with the given burst. Clients exceeding
// the limit receive 429 Too Many Requests. A non-positive rps disables it.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	rl := newRateLimiter(rps, burst)

	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
