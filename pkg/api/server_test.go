package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubManager struct{}

func (stubManager) ListSources() []string { return []string{"main"} }

func (stubManager) GetAllStats() map[string]interface{} {
	return map[string]interface{}{"main": map[string]int{"published": 7}}
}

func (stubManager) GetSourceStats(id string) (interface{}, bool) {
	if id != "main" {
		return nil, false
	}
	return map[string]int{"published": 7}, true
}

func (stubManager) PoolStats() interface{} {
	return map[string]int{"created": 3}
}

func newTestServer() *Server {
	return NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Manager: stubManager{}})
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["sources"]; !ok {
		t.Error("response missing sources")
	}
	if _, ok := body["pool"]; !ok {
		t.Error("response missing pool")
	}
}

func TestSourceEndpoint(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.handleSource(rec, httptest.NewRequest(http.MethodGet, "/api/v1/source?id=main", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleSource(rec, httptest.NewRequest(http.MethodGet, "/api/v1/source?id=ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown source status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleSource(rec, httptest.NewRequest(http.MethodGet, "/api/v1/source", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
