package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/docsync/docsync/pkg/metrics"
)

// RESTLimiter enforces a token-bucket limit per key on the HTTP surface.
// This complements the relay's fixed-window limiter, which covers the
// websocket protocol; the REST middleware smooths bursts on the blob and
// document endpoints.
type RESTLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func NewRESTLimiter(rps float64, burst int) *RESTLimiter {
	return &RESTLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *RESTLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Middleware returns the Gin handler. Key selection prefers the
// authenticated user id when RequireUser ran earlier in the chain,
// otherwise the client IP.
func (l *RESTLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
			if key == "" {
				key = "unknown"
			}
		}
		if !l.get(key).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("rest").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("rest").Inc()
		c.Next()
	}
}
