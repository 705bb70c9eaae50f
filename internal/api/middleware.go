package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Headers set by the authenticating proxy in front of the ledger
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const callerKey = "caller"

// Caller is the authenticated identity of a request
type Caller struct {
	ID   string
	Role string
}

// IsAdmin reports whether the caller reviews and manages the ledger
func (c Caller) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

// identify resolves the caller from the auth headers and rejects anonymous requests
func identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		role := c.GetHeader(HeaderUserRole)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		if role == "" {
			role = models.RoleVendor
		}
		if role != models.RoleVendor && role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}
		c.Set(callerKey, Caller{ID: id, Role: role})
		c.Next()
	}
}

// requireRole lets only callers with role through
func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(Caller)
	return caller
}

// RateLimit configures the per-IP token bucket. A zero RPS disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

// rateLimitMiddleware keeps one token bucket per client IP
func rateLimitMiddleware(cfg RateLimit) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := newIPLimiters(cfg)
	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		if !limiters.get(ip, time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

const minLimiterIdle = 3 * time.Minute

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters holds the per-IP buckets. A bucket idle long enough to have
// refilled completely is dropped on the next sweep.
type ipLimiters struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	buckets   map[string]*ipBucket
}

func newIPLimiters(cfg RateLimit) *ipLimiters {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / cfg.RPS * float64(time.Second))
	if idle < minLimiterIdle {
		idle = minLimiterIdle
	}
	return &ipLimiters{
		rps:     rate.Limit(cfg.RPS),
		burst:   burst,
		idle:    idle,
		buckets: make(map[string]*ipBucket),
	}
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		for key, b := range l.buckets {
			if now.Sub(b.lastSeen) >= l.idle {
				delete(l.buckets, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
