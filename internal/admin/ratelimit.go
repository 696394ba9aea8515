package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/exposure-controller/internal/metrics"
)

const (
	// bucketIdleTTL is how long an unused client bucket survives a sweep.
	bucketIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
)

// routeLimit is the token bucket shape for admin paths under prefix.
type routeLimit struct {
	prefix string
	every  rate.Limit
	burst  int
}

// defaultRoutes: channel listings are polled by dashboards, the lattice is
// static so a few reads per minute is plenty. The empty prefix is the fallback.
var defaultRoutes = []routeLimit{
	{prefix: "/admin/v1/channels", every: 5, burst: 10},
	{prefix: "/admin/v1/lattice", every: rate.Limit(10.0 / 60), burst: 2},
	{prefix: "", every: 1, burst: 5},
}

type bucketKey struct {
	route  string
	client string
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter throttles admin reads per client address and route. A
// background sweeper drops idle buckets until Stop is called.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	routes  []routeLimit
	logger  *slog.Logger
	nowFunc func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[bucketKey]*bucket),
		routes:  defaultRoutes,
		logger:  logger.With("component", "admin_ratelimit"),
		nowFunc: time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the sweeper. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.nowFunc().Add(-bucketIdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Buckets returns the number of live client buckets.
func (rl *RateLimiter) Buckets() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Middleware rejects requests over budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := rl.match(r.URL.Path)
		client := clientAddr(r)
		if !rl.allow(bucketKey{route: route.prefix, client: client}, route) {
			metrics.AdminRateLimited.Inc()
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("admin request rate limited", "path", r.URL.Path, "client", client)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(path string) routeLimit {
	for _, route := range rl.routes {
		if strings.HasPrefix(path, route.prefix) {
			return route
		}
	}
	return routeLimit{every: 1, burst: 5}
}

func (rl *RateLimiter) allow(key bucketKey, route routeLimit) bool {
	now := rl.nowFunc()
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(route.every, route.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	rl.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address without its port.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
