package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an address may go unseen before its limiter is
// dropped.
const limiterIdle = 10 * time.Minute

// RateLimiter limits requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows perMinute requests per address with the given
// burst. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	// Entries outlive a full bucket refill.
	idle := limiterIdle
	if perMinute > 0 {
		if refill := time.Duration(burst) * time.Minute / time.Duration(perMinute); refill > idle {
			idle = refill
		}
	}
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim
}

// sweepLocked drops limiters for addresses idle longer than l.idle.
func (l *RateLimiter) sweepLocked(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.seen) >= l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// Middleware answers 429 once an address exceeds its budget.
func (l *RateLimiter) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !l.limiter(ip).Allow() {
				logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				WriteError(w, http.StatusTooManyRequests, ErrRateLimited, "Rate limit exceeded. Try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
