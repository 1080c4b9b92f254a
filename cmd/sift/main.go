package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/sift/internal/api"
	"github.com/MikeSquared-Agency/sift/internal/app"
	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
)

func main() {
	cfg, err := config.Load()
	setupLogging(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("sift starting", "port", cfg.Port, "labels", cfg.Labels, "workers", cfg.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Pipeline, store, slack and insights
	c, err := app.Build(ctx, cfg, hermesClient, slog.Default())
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	// Competing consumers share the queue group, so each export is scored once.
	if err := hermesClient.QueueSubscribe(hermes.SubjectExportStored, "sift", c.Processor.HandleExportStored); err != nil {
		slog.Error("failed to subscribe to export events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	var runs api.RunReader
	if c.Store != nil {
		runs = c.Store
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, c.Processor, runs, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish("swarm.agent.sift.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"labels":    c.Pipeline.Labels(),
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("sift ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	slog.Info("sift stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
