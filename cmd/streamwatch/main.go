// Package main implements streamwatch, a CLI that subscribes to channels on a
// GraphMemory streaming backend, prints transformed updates as they arrive,
// and exposes client metrics for Prometheus.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/elementalcollision/graphmemory-stream/metric"
	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
	"github.com/elementalcollision/graphmemory-stream/stream"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streamwatch"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting streamwatch",
		"version", Version,
		"url", cfg.Connection.URL,
		"subscriptions", len(cfg.Channels))

	registry := metric.NewRegistry()
	metricsSrv := startMetricsServer(cfg.Metrics, registry)

	client, err := stream.NewClient(
		stream.WithLogger(logger),
		stream.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	client.OnStateChange(func(s stream.ConnectionState) {
		slog.Info("connection state changed",
			"status", s.Status,
			"reconnectAttempts", s.ReconnectAttempts,
			"error", s.Err)
	})

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := client.Connect(signalCtx, cfg.connectionConfig()); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := subscribeAll(client, cfg); err != nil {
		return err
	}

	slog.Info("streamwatch running, press Ctrl-C to stop")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	client.Close()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	slog.Info("streamwatch shutdown complete")
	return nil
}

// subscribeAll registers every configured channel, printing each update as a
// JSON line tagged with the channel and arrival time.
func subscribeAll(client *stream.Client, cfg *Config) error {
	for _, spec := range cfg.Channels {
		subCfg, err := spec.subscriptionConfig()
		if err != nil {
			return err
		}

		channel := subCfg.Channel
		id, err := client.Subscribe(subCfg, func(data any) {
			printUpdate(channel, data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		slog.Info("watching channel", "channel", channel, "subscriptionId", id)
	}
	return nil
}

func printUpdate(channel string, data any) {
	line, err := json.Marshal(map[string]any{
		"channel":    channel,
		"receivedAt": timestamp.Format(timestamp.Now()),
		"data":       data,
	})
	if err != nil {
		slog.Warn("update not serializable", "channel", channel, "error", err)
		return
	}
	fmt.Println(string(line))
}

// startMetricsServer serves /metrics when enabled. Returns nil when disabled.
func startMetricsServer(cfg MetricsSection, registry *metric.Registry) *http.Server {
	if !cfg.Enabled || cfg.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
