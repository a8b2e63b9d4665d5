package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leaflabhq/leaflab-backend/pkg/config"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

type testPinger struct {
	err error
}

func (p *testPinger) Ping(ctx context.Context) error {
	return p.err
}

func healthTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
	}
}

func TestHealthLive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	HealthLive(healthTestConfig())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got := resp.Header().Get("X-LeafLab-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}
}

func TestHealthReadySuccess(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	handler := HealthReady(healthTestConfig(), &testPinger{}, &testPinger{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["status"] != "ready" {
		t.Fatalf("expected ready, got %v", envelope.Data)
	}
}

func TestHealthReadyDatabaseDown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	handler := HealthReady(healthTestConfig(), &testPinger{err: errors.New("connection refused")}, &testPinger{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestHealthReadyRedisDown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp := httptest.NewRecorder()
	handler := HealthReady(healthTestConfig(), &testPinger{}, &testPinger{err: errors.New("connection refused")}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
