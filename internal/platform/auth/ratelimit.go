package auth

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"library-backend/internal/platform/apierr"
)

// IPLimiter keeps one token bucket per client IP.
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 1024
)

func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &IPLimiter{
		limiters: make(map[string]*ipEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.limiters) >= limiterSweepSize {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
	}
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (l *IPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			apierr.Abort(c, apierr.RateLimited("too many login attempts, try again later"))
			return
		}
		c.Next()
	}
}
