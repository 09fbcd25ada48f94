package sim

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	running bool
	started Plan
}

func (f *fakeRunner) Start(plan Plan) error {
	if f.running {
		return ErrRunning
	}
	if plan.Agents+plan.Clients == 0 {
		return ErrEmptyPlan
	}
	f.running = true
	f.started = plan
	return nil
}

func (f *fakeRunner) Stop() error {
	if !f.running {
		return ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeRunner) Status() Status {
	return Status{Running: f.running, Plan: f.started}
}

func setupTestAPI(running bool) (*fakeRunner, *mux.Router) {
	runner := &fakeRunner{running: running}
	api := NewAPI(runner, Plan{Agents: 3, Clients: 4}, zerolog.Nop())

	router := mux.NewRouter()
	api.SetupRoutes(router)
	return runner, router
}

func TestHealthHandler(t *testing.T) {
	_, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %s", body["status"])
	}
}

func TestStatusHandler(t *testing.T) {
	_, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["running"] != false {
		t.Fatalf("expected running=false, got %v", body["running"])
	}
}

func TestStartHandler(t *testing.T) {
	runner, router := setupTestAPI(false)

	payload := `{"agents": 2, "clients": 1, "holdTimeMs": 500}`
	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if runner.started.Agents != 2 || runner.started.Clients != 1 {
		t.Fatalf("expected 2 agents and 1 client, got %+v", runner.started)
	}
	if runner.started.HoldTimeMs != 500 {
		t.Fatalf("expected hold time 500, got %d", runner.started.HoldTimeMs)
	}
}

func TestStartHandlerEmptyBodyUsesBasePlan(t *testing.T) {
	runner, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if runner.started.Agents != 3 || runner.started.Clients != 4 {
		t.Fatalf("expected base plan, got %+v", runner.started)
	}
}

func TestStartHandlerAlreadyRunning(t *testing.T) {
	_, router := setupTestAPI(true)

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestStartHandlerInvalidBody(t *testing.T) {
	_, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodPost, "/start", bytes.NewBufferString(`{bad`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStopHandler(t *testing.T) {
	runner, router := setupTestAPI(true)

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if runner.running {
		t.Fatal("expected runner to be stopped")
	}
}

func TestStopHandlerNotRunning(t *testing.T) {
	_, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, router := setupTestAPI(false)

	req := httptest.NewRequest(http.MethodGet, "/start", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
