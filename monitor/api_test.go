package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const createBody = `{"document_url":"https://example.com/a","client_url":"https://hooks.example.net/x","keywords":["argus"],"ignore_case":true}`

func TestAPI_WatchLifecycle(t *testing.T) {
	// WHAT: Create, list, conflict, cancel and not-found over REST.
	// WHY: Status codes are the contract with HTTP subscribers.
	h := newHarness(t, testConfig(t))
	api := h.svc.Handler()

	rec := do(t, api, http.MethodPost, "/api/watches", createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	sess := decode[map[string]any](t, rec)
	token, _ := sess["token"].(string)
	if token == "" {
		t.Fatalf("no token in %s", rec.Body)
	}

	if rec := do(t, api, http.MethodPost, "/api/watches", createBody); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, api, http.MethodGet, "/api/watches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	list := decode[struct {
		Watches []Watch `json:"watches"`
	}](t, rec)
	if len(list.Watches) != 1 || list.Watches[0].Document.URL != "https://example.com/a" {
		t.Fatalf("list = %+v", list)
	}

	valid := `{"client_url":"https://hooks.example.net/x","token":"` + token + `"}`
	rec = do(t, api, http.MethodPost, "/api/sessions/validate", valid)
	if rec.Code != http.StatusOK || !decode[map[string]bool](t, rec)["valid"] {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, api, http.MethodPost, "/api/sessions/validate", `{"client_url":"https://hooks.example.net/x","token":"forged"}`)
	if rec.Code != http.StatusOK || decode[map[string]bool](t, rec)["valid"] {
		t.Fatalf("forged token accepted: %s", rec.Body)
	}

	key := `{"document_url":"https://example.com/a","client_url":"https://hooks.example.net/x"}`
	if rec := do(t, api, http.MethodDelete, "/api/watches", key); rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, api, http.MethodDelete, "/api/watches", key); rec.Code != http.StatusNotFound {
		t.Fatalf("second cancel: %d %s", rec.Code, rec.Body)
	}
}

func TestAPI_BadRequests(t *testing.T) {
	// WHAT: Invalid input maps to 400 and oversized bodies to 413.
	// WHY: Clients need to tell their own mistakes from server failures.
	cfg := testConfig(t)
	cfg.MaxBody = 256
	h := newHarness(t, cfg)
	api := h.svc.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{"document_url":`, http.StatusBadRequest},
		{"no keywords", `{"document_url":"https://example.com/a","client_url":"https://hooks.example.net/x","keywords":[]}`, http.StatusBadRequest},
		{"bad scheme", `{"document_url":"gopher://example.com/a","client_url":"https://hooks.example.net/x","keywords":["a"]}`, http.StatusBadRequest},
		{"too large", `{"document_url":"https://example.com/a","client_url":"https://hooks.example.net/x","keywords":["` + strings.Repeat("x", 512) + `"]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/api/watches", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			if _, ok := decode[map[string]string](t, rec)["error"]; !ok {
				t.Fatalf("no error field in %s", rec.Body)
			}
		})
	}
	if rec := do(t, api, http.MethodDelete, "/api/watches", `{"document_url":"https://example.com/a"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("cancel without client: %d", rec.Code)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	// WHAT: /health reports the watch count, /metrics exposes orchestrator series.
	// WHY: Both are polled by the operator's monitoring.
	h := newHarness(t, testConfig(t))
	api := h.svc.Handler()
	if rec := do(t, api, http.MethodPost, "/api/watches", createBody); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}

	rec := do(t, api, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	health := decode[map[string]any](t, rec)
	if health["status"] != "ok" || health["watches"] != float64(1) {
		t.Fatalf("health = %v", health)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("no trace ID header")
	}

	rec = do(t, api, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"argus_subscriptions", "argus_documents", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}

	if rec := do(t, api, http.MethodHead, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("HEAD /health: %d", rec.Code)
	}
}
