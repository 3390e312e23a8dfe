package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/logger"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,handler" {
		t.Errorf("expected a,b,handler, got %s", got)
	}
}

func TestLogging_RecordsStatusAndRedactsQuery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Output: &buf, Level: logger.LevelDebug})

	h := Logging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcoding/jobs/x?token=secret&page=2", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry logger.Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if entry.Level != "warn" {
		t.Errorf("expected warn for 404, got %s", entry.Level)
	}
	if entry.Fields["status"] != float64(http.StatusNotFound) {
		t.Errorf("expected status 404, got %v", entry.Fields["status"])
	}
	if q := entry.Fields["query"].(string); strings.Contains(q, "secret") || !strings.Contains(q, "page=2") {
		t.Errorf("unexpected sanitized query %q", q)
	}
}

func TestLogging_SkipsHealth(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Output: &buf, Level: logger.LevelDebug})
	h := Logging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Errorf("expected no log for /health, got %s", buf.String())
	}
}

func TestRecoverer(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Output: &buf, Level: logger.LevelDebug})
	h := Recoverer(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var resp apperrors.ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error.Code != apperrors.CodeInternalError {
		t.Errorf("expected INTERNAL_ERROR, got %s", resp.Error.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com"},
		{"other origin", http.MethodGet, "https://evil.example.com", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/transcoding/stats", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("expected allow origin %q, got %q", tt.wantAllow, got)
			}
		})
	}
}

func TestGzip(t *testing.T) {
	h := Gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":[]}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcoding/jobs", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding")
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != `{"jobs":[]}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestSanitizeQuery(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"status=queued":     "status=queued",
		"token=abc&limit=5": "token=[REDACTED]&limit=5",
		"api_key=x&flag":    "api_key=[REDACTED]&flag",
	}
	for in, want := range tests {
		if got := sanitizeQuery(in); got != want {
			t.Errorf("sanitizeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
