package ginserver

import (
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each principal, or client IP for anonymous calls, with its own token bucket.
type RateLimiter struct {
	RPS   float64
	Burst int
	TTL   time.Duration

	mu      sync.Mutex
	entries map[string]*limiterEntry
	sweptAt time.Time
	now     func() time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{RPS: rps, Burst: burst, TTL: 10 * time.Minute, now: time.Now}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.entries == nil {
		r.entries = make(map[string]*limiterEntry)
	}
	if now.Sub(r.sweptAt) > r.TTL {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > r.TTL {
				delete(r.entries, k)
			}
		}
		r.sweptAt = now
	}
	if e, ok := r.entries[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(r.RPS), r.Burst)
	r.entries[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Handle must run after AuthMiddleware so authenticated callers get their own bucket.
func (r *RateLimiter) Handle(c *gin.Context) {
	if r.RPS <= 0 {
		c.Next()
		return
	}
	key := "ip:" + c.ClientIP()
	if p, ok := currentPrincipal(c); ok {
		key = "user:" + p.UserID
	}
	if !r.limiter(key).Allow() {
		abortWithCode(c, codeRateLimited, "too many requests")
		return
	}
	c.Next()
}
