package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/aevon-lab/insight/internal/core/config"
	"github.com/aevon-lab/insight/internal/core/sources"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/discovery"
	"github.com/aevon-lab/insight/internal/insights"
	"github.com/aevon-lab/insight/internal/server"
	"github.com/aevon-lab/insight/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "insight.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration (validates every data source file)
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"sources", len(cfg.Loaded),
		"sources_path", cfg.Sources.Path,
		"schedule", cfg.Discovery.Schedule,
	)

	// 2. Initialize Warehouse Connection Pool
	pool := warehouse.NewPool(cfg.Warehouse.Settings())
	defer pool.Close()

	// 3. Initialize Data Sources and Snapshot Registry
	sourceRepo, err := sources.NewFileSystemRepository(cfg.Sources.Path)
	if err != nil {
		slog.Error("Failed to load data sources", "error", err)
		os.Exit(1)
	}
	registry := snapshot.NewRegistry(cfg.Snapshots.CacheCapacity)

	// 4. Initialize Insights (discovery + metric queries)
	insightsSvc := insights.NewService(
		sourceRepo,
		pool,
		registry,
		cfg.Discovery.Options(),
		cfg.Discovery.DefaultLookbackDays,
	)

	// 5. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), insightsSvc, cfg.Server.Mode, cfg.Server.MaxBodySizeMB)
	insightsSvc.RegisterRoutes(srv.Engine)

	// 6. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Discovery.OnStartup {
		go func() {
			if err := insightsSvc.RediscoverAll(ctx); err != nil {
				slog.Error("Startup discovery finished with errors", "error", err)
			}
		}()
	}

	if cfg.Discovery.Schedule != "" {
		scheduler, err := discovery.NewScheduler(cfg.Discovery.Schedule, insightsSvc)
		if err != nil {
			slog.Error("Invalid discovery schedule", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Scheduled re-discovery disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
