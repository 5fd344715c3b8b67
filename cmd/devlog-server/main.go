// Package main provides the devlog telemetry server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codervisor/devlog/internal/config"
	"github.com/codervisor/devlog/internal/db"
	"github.com/codervisor/devlog/internal/hierarchy"
	"github.com/codervisor/devlog/internal/hub"
	"github.com/codervisor/devlog/internal/metrics"
	"github.com/codervisor/devlog/internal/pool"
	"github.com/codervisor/devlog/internal/server"
	"github.com/codervisor/devlog/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	slog.Info("starting devlog-server", "port", cfg.ServerPort)

	mc := metrics.NewCollector()
	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}

	// One pooled connection per key; the default key covers the single
	// backing database, with idle eviction and degraded fallback for free.
	clients := pool.New(
		func(ctx context.Context, key string) (*db.Client, error) {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			client, err := db.NewClient(ctx, dbCfg, logger, mc)
			if err != nil {
				return nil, err
			}
			if err := client.InitSchema(ctx); err != nil {
				_ = client.Close(ctx)
				return nil, err
			}
			return client, nil
		},
		func(ctx context.Context, client *db.Client) error {
			return client.Close(ctx)
		},
		pool.Options{IdleTTL: cfg.PoolIdleTTL, Logger: logger},
	)
	defer clients.Close(context.Background())

	if *wipeDB || os.Getenv("DEVLOG_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		h, err := clients.Get(ctx, pool.DefaultKey)
		if err == nil {
			if !h.Degraded() {
				if err := h.Value().WipeData(ctx); err != nil {
					slog.Error("failed to wipe database", "error", err)
					cancel()
					os.Exit(1)
				}
			}
			h.Release()
		}
		cancel()
	}

	src := &service.PoolSource{Pool: clients}
	broadcast := hub.New(64, logger)
	resolver := hierarchy.NewResolver(src, mc, logger)
	sessions := service.NewSessionStore(src, 256, logger)
	events := service.NewEventStore(src, broadcast, cfg.MaxEventBatch, mc, logger)
	runs := service.NewRunManager(src, cfg.RunRetention, logger)
	pipeline := service.NewIngestionPipeline(src, resolver, runs, broadcast, sessions, cfg.IngestConcurrency, mc, logger)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	runs.StartReaper(reaperCtx)

	srv := server.New(sessions, events, pipeline, runs, resolver, broadcast, mc, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
