package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) {
	// Create a buffer to capture log output
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// Create a test handler
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Wrap with logger middleware
	loggedHandler := Logger(logger)(handler)

	// Create a test request
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Execute the request
	loggedHandler.ServeHTTP(rec, req)

	// Check response
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Parse log output
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	// Verify log fields
	if logEntry["method"] != "GET" {
		t.Errorf("expected method GET, got %v", logEntry["method"])
	}
	if logEntry["path"] != "/test" {
		t.Errorf("expected path /test, got %v", logEntry["path"])
	}
	if logEntry["status"] != float64(200) {
		t.Errorf("expected status 200, got %v", logEntry["status"])
	}
	if logEntry["message"] != "request completed" {
		t.Errorf("expected message 'request completed', got %v", logEntry["message"])
	}
}

func TestLoggerWithErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
	})

	loggedHandler := Logger(logger)(handler)

	req := httptest.NewRequest(http.MethodGet, "/notfound", nil)
	rec := httptest.NewRecorder()

	loggedHandler.ServeHTTP(rec, req)

	var logEntry map[string]interface{}
	json.Unmarshal(buf.Bytes(), &logEntry)

	if logEntry["status"] != float64(404) {
		t.Errorf("expected status 404, got %v", logEntry["status"])
	}
}

func TestLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/api/status/{address}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/555", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if logEntry["path"] != "/api/status/555" {
		t.Errorf("expected concrete path in log, got %v", logEntry["path"])
	}

	if got := routePattern(req); got != "/api/status/555" {
		// outside the router there is no route context
		t.Errorf("expected raw path without route context, got %s", got)
	}
}

func TestLoggerServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	Logger(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if logEntry["level"] != "error" {
		t.Errorf("expected level error, got %v", logEntry["level"])
	}
}
