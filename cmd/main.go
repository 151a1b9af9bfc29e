package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-ingest/internal/app"
	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/logger"
	"civic-ingest/internal/queue"
	"civic-ingest/internal/telemetry"
	"civic-ingest/middleware"
	"civic-ingest/routes"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg, "api")

	shutdownTracer, err := telemetry.InitTracer("civic-ingest-api", cfg.OTELEndpoint)
	if err != nil {
		lg.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg, app.Options{NeedStorage: cfg.BlobBucket != ""})
	if err != nil {
		lg.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := database.EnsureIndexes(ctx, a.DB); err != nil {
		lg.Error("Failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	// Approvals go through the review queue
	queueClient := queue.NewClient(config.AsynqRedisOpt(cfg))
	defer queueClient.Close()
	a.UseEnqueuer(queueClient)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(a.Metrics))
	router.Use(middleware.RequestLogger(lg))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))

	routes.SetupHealthRoutes(router)

	api := router.Group("/api")
	var uploadLimits []gin.HandlerFunc
	uploadLimits = append(uploadLimits, middleware.RequestSizeLimit(cfg.MaxFileSize+1<<20))
	if rdb, err := a.RedisClient(); err == nil {
		uploadLimits = append(uploadLimits, middleware.RateLimitMiddleware(rdb, 30, time.Minute))
	} else {
		lg.Warn("Upload rate limiting disabled", "error", err)
	}
	routes.SetupUploadRoutes(api, cfg, a.Intake, uploadLimits...)
	routes.SetupJobRoutes(api, a.Jobs, a.Review)
	routes.SetupSyncRoutes(api, a.Repos.Sync)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	lg.Info("Server exited")
}
