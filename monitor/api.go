package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/argus/kit"
	"github.com/hazyhaar/argus/monitor/internal/orchestrator"
)

// endpoints are the transport-neutral operations shared by REST and MCP.
type endpoints struct {
	create  kit.Endpoint
	cancel  kit.Endpoint
	list    kit.Endpoint
	session kit.Endpoint
}

func (s *Service) newEndpoints() endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Recover(), kit.Logging(s.logger, name))(e)
	}
	return endpoints{
		create: wrap("create_watch", func(ctx context.Context, req any) (any, error) {
			return s.CreateWatch(ctx, req.(*WatchRequest))
		}),
		cancel: wrap("cancel_watch", func(ctx context.Context, req any) (any, error) {
			if err := s.CancelWatch(ctx, req.(*WatchKey)); err != nil {
				return nil, err
			}
			return map[string]string{"status": "cancelled"}, nil
		}),
		list: wrap("list_watches", func(ctx context.Context, _ any) (any, error) {
			return s.ListWatches(ctx)
		}),
		session: wrap("validate_session", func(ctx context.Context, req any) (any, error) {
			ok, err := s.ValidateSession(ctx, req.(*SessionRequest))
			if err != nil {
				return nil, err
			}
			return map[string]bool{"valid": ok}, nil
		}),
	}
}

// Handler returns the HTTP surface of the service:
//
//	POST   /api/watches            create a watch (201, 400, 409)
//	DELETE /api/watches            cancel a watch (200, 400, 404)
//	GET    /api/watches            list running watches
//	POST   /api/sessions/validate  check a client's session token
//	GET    /health
//	GET    /metrics
//	       /mcp                    MCP streamable HTTP, when enabled
func (s *Service) Handler() http.Handler {
	ep := s.newEndpoints()

	r := chi.NewRouter()
	for _, mw := range s.stack {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": Version,
			"watches": len(s.orch.Jobs()),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	r.Post("/api/watches", serveJSON[WatchRequest](ep.create, http.StatusCreated))
	r.Delete("/api/watches", serveJSON[WatchKey](ep.cancel, http.StatusOK))
	r.Get("/api/watches", func(w http.ResponseWriter, r *http.Request) {
		resp, err := ep.list(kit.WithTransport(r.Context(), "http"), nil)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"watches": resp})
	})
	r.Post("/api/sessions/validate", serveJSON[SessionRequest](ep.session, http.StatusOK))

	if s.cfg.MCP.Enabled {
		srv := mcp.NewServer(&mcp.Implementation{Name: "argus", Version: Version}, nil)
		s.RegisterMCP(srv)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

// serveJSON decodes a T from the body, calls ep and writes its response
// with status.
func serveJSON[T any](ep kit.Endpoint, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
			return
		}
		resp, err := ep(kit.WithTransport(r.Context(), "http"), &req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, status, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
