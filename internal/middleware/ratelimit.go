package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/metrics"
	"github.com/coopquest/backend/pkg/response"
)

// WindowLimiter admits one call per key per window.
type WindowLimiter interface {
	AllowOnce(ctx context.Context, key string, window time.Duration) (bool, error)
}

// LocalLimiter is an in-process WindowLimiter for single-instance deployments.
type LocalLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewLocalLimiter creates an in-memory limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{last: make(map[string]time.Time), now: time.Now}
}

// AllowOnce reports whether key has not been seen within window.
func (l *LocalLimiter) AllowOnce(_ context.Context, key string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if t, ok := l.last[key]; ok && now.Sub(t) < window {
		return false, nil
	}
	l.last[key] = now
	// prune so the map does not grow with every team that ever scanned
	if len(l.last) > 1024 {
		for k, t := range l.last {
			if now.Sub(t) >= window {
				delete(l.last, k)
			}
		}
	}
	return true, nil
}

// ScanRateLimit allows one scan per team per window. Limiter errors fail open.
func ScanRateLimit(limiter WindowLimiter, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		teamID, _ := c.Get(ContextTeamID)
		id, _ := teamID.(uuid.UUID)
		if id == uuid.Nil || window <= 0 {
			c.Next()
			return
		}
		ok, err := limiter.AllowOnce(c.Request.Context(), "scan_limit:"+id.String(), window)
		if err != nil {
			logger.Warn("scan rate limiter unavailable", zap.String("team_id", id.String()), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			metrics.RateLimiterRejections.Inc()
			response.TooManyRequests(c, "please wait before scanning again")
			c.Abort()
			return
		}
		c.Next()
	}
}
