package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/chatsync/internal/metrics"
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	RPS       float64
	Burst     int
	Whitelist []string // IPs or CIDRs exempt from rate limiting
	// Redis, when set, shares counters between server processes.
	Redis *redis.Client
}

// Counter decides whether the request identified by key may proceed.
type Counter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int)
}

// RateLimiter limits requests per client IP and, behind RequireSession,
// per resolved session user. IP and user budgets are kept apart.
type RateLimiter struct {
	counter      Counter
	users        Counter
	limit        int
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	rl := &RateLimiter{
		limit:        cfg.Burst,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}
	if cfg.Redis != nil {
		rl.counter = &redisCounter{client: cfg.Redis, limit: cfg.Burst, window: window(cfg.RPS, cfg.Burst)}
		rl.users = rl.counter
	} else {
		rl.counter = newLocalCounter(cfg.RPS, cfg.Burst)
		rl.users = newLocalCounter(cfg.RPS, cfg.Burst)
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			// Single IP
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// window is the fixed window in which burst requests are allowed at rps.
func window(rps float64, burst int) time.Duration {
	w := time.Duration(float64(burst) / rps * float64(time.Second))
	if w < time.Second {
		w = time.Second
	}
	return w
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	// Check exact IP match
	if rl.whitelistIPs[ipStr] {
		return true
	}

	// Check CIDR ranges
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ipKey is the limit key of an anonymous client.
func ipKey(ip string) string {
	return "ratelimit:ip:" + ip
}

// userKey is the limit key of a resolved session user.
func userKey(email string) string {
	return "ratelimit:user:" + strings.ToLower(email)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	// Check Fly.io header first
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	// Then X-Forwarded-For
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	// Then X-Real-IP
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the per-IP rate limiting middleware. Health and
// metrics endpoints are never limited. The session header is not trusted
// here; it has not been checked against the directory yet.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ip := RealIP(r)

		// Skip rate limiting for whitelisted IPs
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.allow(w, r, rl.counter, ipKey(ip), ip) {
			next.ServeHTTP(w, r)
		}
	})
}

// PerUser limits requests per session user. It must run after
// RequireSession; requests without a resolved session pass through.
func (rl *RateLimiter) PerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := GetSessionFromContext(r.Context())
		ip := RealIP(r)
		if !ok || !s.Valid() || rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.allow(w, r, rl.users, userKey(s.Email), ip) {
			next.ServeHTTP(w, r)
		}
	})
}

// allow charges one request to key and writes the 429 response when the
// budget is spent.
func (rl *RateLimiter) allow(w http.ResponseWriter, r *http.Request, counter Counter, key, ip string) bool {
	allowed, remaining := counter.Allow(r.Context(), key)

	// Set rate limit headers
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

	if allowed {
		return true
	}

	w.Header().Set("Retry-After", "1")
	metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()

	rl.logger.Warn().
		Str("type", "security").
		Str("event", "rate_limit_exceeded").
		Str("ip", ip).
		Str("endpoint", r.URL.Path).
		Str("key", key).
		Msg("rate limit exceeded")

	jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// limiterIdleTTL is the minimum time a key must be unused before its bucket
// is dropped.
const limiterIdleTTL = 10 * time.Minute

type localEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// localCounter keeps one token bucket per key in process memory. Buckets
// idle for longer than idle are swept on access.
type localCounter struct {
	mu        sync.Mutex
	m         map[string]*localEntry
	rps       float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLocalCounter(rps float64, burst int) *localCounter {
	idle := limiterIdleTTL
	// A bucket must not be dropped before it could have refilled.
	if w := window(rps, burst); w > idle {
		idle = w
	}
	return &localCounter{
		m:         make(map[string]*localEntry),
		rps:       rps,
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (c *localCounter) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= c.idle {
		c.sweep(now)
	}
	e, ok := c.m[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(rate.Limit(c.rps), c.burst)}
		c.m[key] = e
	}
	e.seen = now
	return e.limiter
}

func (c *localCounter) sweep(now time.Time) {
	for key, e := range c.m {
		if now.Sub(e.seen) >= c.idle {
			delete(c.m, key)
		}
	}
	c.lastSweep = now
}

// Len returns the number of live buckets.
func (c *localCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *localCounter) Allow(_ context.Context, key string) (bool, int) {
	l := c.get(key)
	allowed := l.Allow()
	remaining := int(l.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// redisCounter is a fixed-window counter shared through Redis.
type redisCounter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func (c *redisCounter) Allow(ctx context.Context, key string) (bool, int) {
	now := time.Now()

	// Use a fixed window key based on current time bucket
	windowKey := fmt.Sprintf("%s:%d", key, now.UnixNano()/int64(c.window))

	pipe := c.client.Pipeline()
	countCmd := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, c.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open when Redis is unreachable.
		return true, c.limit
	}

	count := int(countCmd.Val())
	remaining := c.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= c.limit, remaining
}
