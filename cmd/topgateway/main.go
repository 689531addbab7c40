package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/taobao-top/internal/config"
	"github.com/birbparty/taobao-top/internal/gateway"
	"github.com/birbparty/taobao-top/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Telemetry.ServiceName == "taobao-top" {
		cfg.Telemetry.ServiceName = "topgateway"
	}

	ctx := context.Background()
	tel, err := telemetry.Init(ctx, &cfg.Telemetry, os.Stdout)
	if err != nil {
		logrus.Fatalf("Failed to initialize telemetry: %v", err)
	}
	log := tel.Logger

	apps := cfg.Gateway.Apps
	if len(apps) == 0 && cfg.AppKey != "" {
		apps = map[string]string{cfg.AppKey: cfg.AppSecret}
	}
	if len(apps) == 0 {
		log.Fatal("No apps configured: set GATEWAY_APPS or TOP_APP_KEY and TOP_APP_SECRET")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := gateway.New(gateway.Config{
		Apps:     apps,
		Latency:  cfg.Gateway.Latency,
		Registry: registry,
		Logger:   log,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server forced to shutdown")
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Failed to flush telemetry")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr": cfg.Gateway.Addr,
		"apps": len(apps),
	}).Info("TOP gateway emulator listening")

	if err := server.Listen(cfg.Gateway.Addr); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}
