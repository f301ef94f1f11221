package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/argus/idgen"
	"github.com/hazyhaar/argus/kit"
)

var newTraceID = idgen.Token(8)

// TraceID tags each request with a trace ID, honouring an incoming
// X-Trace-ID. The ID goes into the context (kit.WithTraceID), the
// response headers and a per-request logger under LoggerKey.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 64 {
			traceID = newTraceID()
		}
		ctx := kit.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request", "remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
