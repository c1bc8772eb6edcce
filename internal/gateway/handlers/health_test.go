package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	InitStartTime()

	handler := HealthHandler("1.0.0", "gpt-5-nano", map[string]Pinger{
		"storage": pingFunc(func(context.Context) error { return nil }),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %s, want ok", resp.Status)
	}
	if resp.Version != "1.0.0" || resp.Model != "gpt-5-nano" {
		t.Errorf("version/model = %s/%s", resp.Version, resp.Model)
	}
	if resp.Checks["storage"] != "ok" {
		t.Errorf("storage check = %q, want ok", resp.Checks["storage"])
	}
	if resp.Uptime < 0 {
		t.Errorf("uptime = %d, want >= 0", resp.Uptime)
	}
}

func TestHealthHandler_Degraded(t *testing.T) {
	handler := HealthHandler("1.0.0", "", map[string]Pinger{
		"storage": pingFunc(func(context.Context) error { return errors.New("database is locked") }),
	})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "degraded" || resp.Checks["storage"] != "database is locked" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
