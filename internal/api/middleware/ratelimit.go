// Package middleware holds the gin middleware shared by the operator API.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

// The operator surface is small and single-tenant; the limiter exists to stop
// a misbehaving dashboard or script from hammering the mutation endpoints
// (settlement retry, cutover), not to police a public API.

// bucket is an in-memory token bucket for one client IP.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// ipLimiter holds per-IP buckets behind a shared read-write lock.
type ipLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // maximum token capacity
}

// staleAfter is how long an idle bucket survives before eviction.
const staleAfter = 10 * time.Minute

func newIPLimiter(rps int) *ipLimiter {
	burst := float64(rps)
	if burst < 10 {
		burst = 10 // absorb short bursts even at low rates
	}
	return &ipLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   burst,
	}
}

// take deducts one token for key and reports whether one was available.
func (rl *ipLimiter) take(key string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if b, ok = rl.buckets[key]; !ok {
			b = &bucket{tokens: rl.burst, lastRefill: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictStale drops buckets that have not been touched for staleAfter, keeping
// the map bounded over long uptimes.
func (rl *ipLimiter) evictStale() {
	cutoff := time.Now().Add(-staleAfter)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		b.mu.Lock()
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, ip)
		}
		b.mu.Unlock()
	}
}

// RateLimitMiddleware returns a gin.HandlerFunc enforcing a per-IP token
// bucket of rps requests per second. Rejections carry the standard error
// envelope and a Retry-After hint.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	rl := newIPLimiter(rps)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.evictStale()
		}
	}()

	return func(c *gin.Context) {
		if !rl.take(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
