package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/skyarchive/internal/archive"
	"github.com/sujalbistaa/skyarchive/internal/metrics"
)

const (
	adminTokenHeader = "X-Admin-Token"
	adminTokenQuery  = "token"
	adminContextKey  = "skyarchive.admin"
)

// --- Rate Limiter ---

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      r,
		burst:    b,
	}
}

// NewUploadLimiter allows one upload per interval per IP. A zero interval
// disables limiting.
func NewUploadLimiter(interval time.Duration) *IPRateLimiter {
	if interval <= 0 {
		return NewIPRateLimiter(rate.Inf, 1)
	}
	return NewIPRateLimiter(rate.Every(interval), 1)
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Prune drops visitors idle for longer than maxIdle.
func (rl *IPRateLimiter) Prune(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// Cleanup prunes idle visitors every interval until ctx is done.
func (rl *IPRateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(interval)
		}
	}
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}

// --- Admin auth ---

func suppliedToken(c *gin.Context) string {
	if t := c.GetHeader(adminTokenHeader); t != "" {
		return t
	}
	return c.Query(adminTokenQuery)
}

func tokenMatches(required, supplied string) bool {
	if required == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(required), []byte(supplied)) == 1
}

// AdminAuthMiddleware rejects requests without the shared admin token. An
// unset token rejects everything.
func AdminAuthMiddleware(requiredToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokenMatches(requiredToken, suppliedToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": archive.ErrUnauthorized.Error()})
			return
		}
		c.Set(adminContextKey, true)
		c.Next()
	}
}

// OptionalAdminMiddleware marks the request as admin when a valid token is
// present, and lets it through either way.
func OptionalAdminMiddleware(requiredToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenMatches(requiredToken, suppliedToken(c)) {
			c.Set(adminContextKey, true)
		}
		c.Next()
	}
}

func isAdmin(c *gin.Context) bool {
	return c.GetBool(adminContextKey)
}

// SecurityHeadersMiddleware adds basic, sensible security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		// Images may come from the blob host; everything else is same-origin.
		c.Header("Content-Security-Policy", "default-src 'self'; img-src 'self' data: https:")
		c.Next()
	}
}

// MetricsMiddleware records request latency by route template.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
