package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client IP.
type clientLimiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byIP  map[string]*clientLimiter
}

func (s *clientLimiters) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	l, ok := s.byIP[ip]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.byIP[ip] = l
	}
	l.lastSeen = now
	s.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

func (s *clientLimiters) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, l := range s.byIP {
		if now.Sub(l.lastSeen) > limiterIdle {
			delete(s.byIP, ip)
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting on the API. Probe routes (/, /healthz, /metrics) are never
// limited. Idle buckets are evicted until ctx is cancelled.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	limiters := &clientLimiters{
		rps:   rate.Limit(rps),
		burst: burst,
		byIP:  make(map[string]*clientLimiter),
	}

	go func() {
		ticker := time.NewTicker(limiterSweep)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiters.evictIdle(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/", "/healthz", "/metrics":
			c.Next()
			return
		}
		if !limiters.allow(c.ClientIP(), time.Now()) {
			recordRejection("rate_limited")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
