package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quoteflow/cachekit/pkg/cache"
	"github.com/quoteflow/cachekit/pkg/store"
)

func setupTestClient(t *testing.T) *store.Client {
	t.Helper()

	// Unreachable remote: handlers must still answer from the fallback path.
	client := store.NewClient(store.Config{
		Addr:           "127.0.0.1:1",
		DialTimeout:    50 * time.Millisecond,
		CommandTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint_Degraded(t *testing.T) {
	handler := readyHandler(setupTestClient(t))

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 with unreachable store, got %d", resp.StatusCode)
	}

	var health store.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", health.Status)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	manager, err := cache.NewManager(cache.Options{Store: setupTestClient(t)})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	handler := analyticsHandler(manager)

	req := httptest.NewRequest("GET", "/analytics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var analytics cache.Analytics
	if err := json.NewDecoder(resp.Body).Decode(&analytics); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler := statsHandler(setupTestClient(t))

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "total_commands") {
		t.Errorf("Body missing counters: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	// Creating a manager registers the cache metric families.
	if _, err := cache.NewManager(cache.Options{Store: setupTestClient(t)}); err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "cachekit_hit_rate") {
		t.Error("Expected metrics output to contain cachekit_hit_rate")
	}
}
