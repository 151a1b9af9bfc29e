package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/logger"
	"civic-ingest/internal/telemetry"
	"civic-ingest/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg, "supervisor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.SupervisorPIDFile), 0o755); err == nil {
		if err := services.WritePIDFile(cfg.SupervisorPIDFile); err != nil {
			lg.Warn("Failed to write PID file", "path", cfg.SupervisorPIDFile, "error", err)
		}
		defer services.RemovePIDFile(cfg.SupervisorPIDFile)
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		lg.Warn("Metrics disabled", "error", err)
	}

	// Children default to one item per process unless BATCH_SIZE is set here
	batchSize := 1
	if v, err := strconv.Atoi(os.Getenv("BATCH_SIZE")); err == nil && v > 0 {
		batchSize = v
	}

	sup := services.NewSupervisor(
		database.NewSyncRepo(mongoClient.Database(cfg.DBName)),
		services.ExecRunner{Bin: cfg.WorkerBin, BatchSize: batchSize, Stdout: os.Stdout, Stderr: os.Stderr},
		cfg.MaxRetriesPerFile,
		metrics,
		lg,
	)

	lg.Info("Supervisor started", "worker_bin", cfg.WorkerBin, "max_retries", cfg.MaxRetriesPerFile)
	summary, err := sup.Run(ctx)
	lg.Info("Supervisor finished",
		"attempts", summary.Attempts,
		"synced", summary.Synced,
		"failed", summary.Failed,
		"strikes", summary.Strikes,
		"gave_up", summary.GaveUp,
	)
	if err != nil && ctx.Err() == nil {
		lg.Error("Supervisor stopped with error", "error", err)
		os.Exit(1)
	}
}
