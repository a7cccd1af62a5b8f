// cache-monitor exposes health, readiness, analytics, and Prometheus
// endpoints for a cachekit deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quoteflow/cachekit/internal/config"
	"github.com/quoteflow/cachekit/pkg/cache"
	"github.com/quoteflow/cachekit/pkg/compress"
	"github.com/quoteflow/cachekit/pkg/logging"
	"github.com/quoteflow/cachekit/pkg/store"
)

func main() {
	cfg := config.NewDefault()
	if path := os.Getenv("CACHEKIT_CONFIG"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	storeClient := store.NewClient(cfg.StoreConfig())
	defer storeClient.Close()

	manager, err := cache.NewManager(cache.Options{
		Store:             storeClient,
		Compressor:        compress.New(cfg.CompressOptions()),
		Strategies:        cfg.CacheStrategies(),
		Rules:             cfg.PrefetchRules(),
		L1MaxEntries:      cfg.Cache.L1MaxEntries,
		EdgeMaxEntries:    cfg.Cache.EdgeMaxEntries,
		PrefetchQueueSize: cfg.Cache.PrefetchQueueSize,
		PrefetchInterval:  cfg.Cache.PrefetchInterval,
		PrefetchBatch:     cfg.Cache.PrefetchBatch,
		CleanupInterval:   cfg.Cache.CleanupInterval,
		MetricsInterval:   cfg.Cache.MetricsInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cache manager")
	}
	manager.Start()
	defer manager.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(storeClient))
	mux.HandleFunc("/analytics", analyticsHandler(manager))
	mux.HandleFunc("/stats", statsHandler(storeClient))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Monitor.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.Monitor.Addr).Msg("cache-monitor listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown did not complete cleanly")
	}
	logger.Info().Msg("cache-monitor stopped")
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports store reachability. A degraded store answers 503 so
// orchestrators keep traffic on instances with a live Redis connection; the
// process itself stays healthy because the in-process fallback still serves.
func readyHandler(client *store.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := client.HealthCheck(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

func analyticsHandler(manager *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.GetAnalytics())
	}
}

func statsHandler(client *store.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := client.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"total_commands":    stats.TotalCommands,
			"hits":              stats.Hits,
			"misses":            stats.Misses,
			"errors":            stats.Errors,
			"fallback_ops":      stats.FallbackOps,
			"avg_response_time": stats.AvgResponseTime.String(),
		})
	}
}
