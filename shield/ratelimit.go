package shield

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// RateLimitConfig is the rule of one endpoint ("METHOD /path").
type RateLimitConfig struct {
	Endpoint      string `db:"endpoint"`
	MaxRequests   int    `db:"max_requests"`
	WindowSeconds int    `db:"window_seconds"`
	Enabled       bool   `db:"enabled"`
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter limits requests per client IP and endpoint with fixed
// windows. Rules come from the rate_limits table (see Schema).
type RateLimiter struct {
	db      *sqlx.DB
	exclude []string

	mu      sync.RWMutex
	rules   map[string]RateLimitConfig
	buckets sync.Map
	now     func() time.Time
}

// NewRateLimiter loads the rules from db. Paths starting with one of
// excludePrefixes are never limited.
func NewRateLimiter(db *sqlx.DB, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{
		db:      db,
		exclude: excludePrefixes,
		rules:   make(map[string]RateLimitConfig),
		now:     time.Now,
	}
	rl.Reload(context.Background())
	return rl
}

// Run reloads rules every minute and drops expired buckets every five,
// until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	reload := time.NewTicker(time.Minute)
	gc := time.NewTicker(5 * time.Minute)
	defer reload.Stop()
	defer gc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-reload.C:
			rl.Reload(ctx)
		case <-gc.C:
			rl.gc()
		}
	}
}

// Reload replaces the rules with the table content. On error the current
// rules stay.
func (rl *RateLimiter) Reload(ctx context.Context) {
	if rl.db == nil {
		return
	}
	var rows []RateLimitConfig
	err := rl.db.SelectContext(ctx, &rows,
		`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		slog.Warn("ratelimit: reload rules", "error", err)
		return
	}
	rules := make(map[string]RateLimitConfig, len(rows))
	for _, r := range rows {
		rules[r.Endpoint] = r
	}
	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()
	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	rl.mu.RLock()
	cfg, ok := rl.rules[endpoint]
	rl.mu.RUnlock()
	if !ok || !cfg.Enabled {
		return true
	}

	now := rl.now()
	window := time.Duration(cfg.WindowSeconds) * time.Second
	v, _ := rl.buckets.LoadOrStore(ip+" "+endpoint, &bucket{resetAt: now.Add(window)})
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}
	b.count++
	return b.count <= cfg.MaxRequests
}

// Middleware answers 429 with a JSON error once a client exceeds the rule
// of the requested endpoint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		rl.mu.RLock()
		retry := rl.rules[endpoint].WindowSeconds
		rl.mu.RUnlock()
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
