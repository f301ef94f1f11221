// Package shield provides the HTTP middleware of the argus API: security
// headers, JSON body limits, request tracing and per-endpoint rate limits.
//
// Usage:
//
//	r := chi.NewRouter()
//	stack, rl := shield.APIStack(db, 1<<20)
//	go rl.Run(ctx)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the middleware for a JSON API, in order: HeadToGet,
// SecurityHeaders, MaxBody, TraceID, rate limiting. Health and metrics
// endpoints are not rate limited.
func APIStack(db *sqlx.DB, maxBody int64) ([]func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(db, "/health", "/metrics")
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		TraceID,
		rl.Middleware,
	}, rl
}

// HeadToGet serves HEAD requests with the GET handlers; net/http drops
// the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
