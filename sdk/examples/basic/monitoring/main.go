// Monitoring Example
// This example exposes SDK call metrics for Prometheus next to the
// in-process MetricsCollector snapshot.

package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/birbparty/taobao-top/internal/telemetry"
	"github.com/birbparty/taobao-top/sdk"
)

func main() {
	logger := telemetry.NewLogger(telemetry.DefaultConfig(), os.Stderr)

	reg := prometheus.NewRegistry()
	collector := sdk.NewMetricsCollector()

	config := sdk.DefaultConfig().
		WithCredentials(os.Getenv("TOP_APP_KEY"), os.Getenv("TOP_APP_SECRET")).
		WithDomain(envOr("TOP_DOMAIN", "http://localhost:8080")).
		WithLogger(logger).
		WithObserver(sdk.NewCompositeObserver(collector, telemetry.NewPrometheusObserver(reg)))

	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	// Generate some traffic
	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := client.ServerTime(ctx, nil); err != nil {
				logger.WithError(err).Warn("time call failed")
			}
			cancel()
			time.Sleep(2 * time.Second)
		}
	}()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.GetMetrics())
	})

	logger.Info("serving /metrics and /stats on :9090")
	log.Fatal(http.ListenAndServe(":9090", nil))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
