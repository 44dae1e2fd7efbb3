package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRecoverMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RecoverMiddleware)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("rule table missing")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body["status"] != statusError || body["message"] != "internal server error" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		origin string
		want   string
	}{
		{"https://dash.example", "https://dash.example"},
		{"https://evil.example", ""},
		{"", "*"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
		if rr.Code != http.StatusOK {
			t.Errorf("origin %q: expected request to pass through, got %d", tt.origin, rr.Code)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Get("/api/test/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": statusError})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/test/runs/abc123", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("expected request id echoed, got %q", got)
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Error("expected a trace id header")
	}

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", line, err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("expected WARN for a 404, got %v", entry["level"])
	}
	if entry["route"] != "/api/test/runs/{id}" {
		t.Errorf("expected route pattern, got %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("expected status 404, got %v", entry["status"])
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", entry["request_id"])
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := wrap(rr)
	rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusTeapot)

	if rw.status != http.StatusOK {
		t.Errorf("expected implicit 200 to stick, got %d", rw.status)
	}
	if rw.bytes != 2 {
		t.Errorf("expected 2 bytes, got %d", rw.bytes)
	}
	if wrap(rw) != rw {
		t.Error("expected wrap to reuse an existing recorder")
	}
}
