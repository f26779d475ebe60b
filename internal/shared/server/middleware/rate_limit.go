package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"papers-backend/internal/shared/server/respond"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	// UploadRateLimitGroup covers the multipart ingestion routes.
	UploadRateLimitGroup = "UPLOAD"

	// pruneEvery is how many Allow calls pass between sweeps for idle clients.
	pruneEvery = 1024
)

// RateLimitRule is a token bucket: Rate tokens per second up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// RateLimiter keeps one token bucket per client and group.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	calls   int
	now     func() time.Time
}

type clientLimiter struct {
	lim   *rate.Limiter
	burst int
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		now:     now,
	}
}

// RateLimit throttles requests per client and group. Groups without a rule
// pass through. The client is X-User-Id when present, otherwise the remote IP.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		client := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if client == "" {
			client = c.ClientIP()
		}
		allowed, retryAfter := cfg.Limiter.Allow(client+"|"+group, rule)
		if allowed {
			c.Next()
			return
		}
		retryAfterMs := int(retryAfter.Milliseconds())
		if retryAfterMs <= 0 {
			retryAfterMs = 1000
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(retryAfterMs)/1000))))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests", gin.H{
			"retryAfterMs": retryAfterMs,
		})
	}
}

// Allow takes a token for key and, when none is left, reports how long until
// the next one.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil || rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(now)
	}

	cl, ok := l.clients[key]
	if !ok || cl.burst != rule.Burst || float64(cl.lim.Limit()) != rule.Rate {
		cl = &clientLimiter{lim: rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst), burst: rule.Burst}
		l.clients[key] = cl
	}

	res := cl.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// pruneLocked forgets clients whose bucket has refilled, since a fresh bucket
// behaves the same.
func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, cl := range l.clients {
		if cl.lim.TokensAt(now) >= float64(cl.burst) {
			delete(l.clients, key)
		}
	}
}

// Clients returns the number of tracked client buckets.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
