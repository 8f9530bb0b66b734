package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL drops limiters for keys not seen for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, Burst: 200, IdleTTL: 10 * time.Minute}
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

type limiterStore struct {
	cfg  RateLimitConfig
	mu   sync.Mutex
	keys map[string]*limiterEntry
	now  func() time.Time
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.keys[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.keys[key] = e
		if len(s.keys)%1024 == 0 {
			s.evict(now)
		}
	}
	e.seen = now
	return e.lim
}

func (s *limiterStore) evict(now time.Time) {
	for k, e := range s.keys {
		if now.Sub(e.seen) > s.cfg.IdleTTL {
			delete(s.keys, k)
		}
	}
}

// RateLimit throttles per authenticated user, or per client IP before
// authentication has run.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := &limiterStore{cfg: cfg, keys: make(map[string]*limiterEntry), now: time.Now}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !store.get(key).Allow() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
