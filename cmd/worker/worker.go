package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"civic-ingest/internal/app"
	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/logger"
	"civic-ingest/internal/queue"
	"civic-ingest/internal/telemetry"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

type workerFlags struct {
	key         string
	town        string
	limit       int
	concurrency int
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg, "worker")

	shutdownTracer, err := telemetry.InitTracer("civic-ingest-worker", cfg.OTELEndpoint)
	if err != nil {
		lg.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(cfg, lg).ExecuteContext(ctx); err != nil {
		lg.Error("Worker failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config, lg *slog.Logger) *cobra.Command {
	flags := &workerFlags{}

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Discover and ingest municipal documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.town, "town", "", "limit discovery to one town prefix")
	root.PersistentFlags().IntVar(&flags.limit, "limit", 0, "max items for this run (default BATCH_SIZE)")

	run := func(mode string, fn func(ctx context.Context, a *app.App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, lg.With("mode", mode), app.Options{NeedStorage: mode != "review" || cfg.BlobBucket != ""})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Storage != nil {
				if err := config.VerifyBucketRegion(ctx, a.Storage, cfg); err != nil {
					return err
				}
			}
			if err := database.EnsureIndexes(ctx, a.DB); err != nil {
				return err
			}
			return fn(ctx, a)
		}
	}

	discover := &cobra.Command{
		Use:   "discover",
		Short: "Register unseen bucket objects as pending sync records",
		RunE:  run("discover", func(ctx context.Context, a *app.App) error { return runDiscover(ctx, a, flags) }),
	}

	work := &cobra.Command{
		Use:   "worker",
		Short: "Process one batch of pending sync records",
		RunE: run("worker", func(ctx context.Context, a *app.App) error {
			if flags.key != "" {
				return a.Worker.ProcessKey(ctx, flags.key)
			}
			return runBatch(ctx, a, flags)
		}),
	}
	work.Flags().StringVar(&flags.key, "key", "", "process exactly this source key")

	all := &cobra.Command{
		Use:   "all",
		Short: "Discover, then process one batch",
		RunE: run("all", func(ctx context.Context, a *app.App) error {
			if err := runDiscover(ctx, a, flags); err != nil {
				return err
			}
			return runBatch(ctx, a, flags)
		}),
	}

	ocr := &cobra.Command{
		Use:   "ocr",
		Short: "Drain the OCR queue of uploaded blobs",
		RunE: run("ocr", func(ctx context.Context, a *app.App) error {
			summary, err := a.OCRQueue.Drain(ctx, flags.limit)
			a.Logger.Info("OCR drain complete", "completed", summary.Completed, "failed", summary.Failed)
			return err
		}),
	}

	review := &cobra.Command{
		Use:   "review",
		Short: "Serve the review indexing queue",
		RunE: run("review", func(ctx context.Context, a *app.App) error {
			return runReviewServer(ctx, a, flags)
		}),
	}
	review.Flags().IntVar(&flags.concurrency, "concurrency", 4, "tasks processed in parallel")

	root.AddCommand(discover, work, all, ocr, review)
	return root
}

func runDiscover(ctx context.Context, a *app.App, flags *workerFlags) error {
	summary, err := a.Discovery.Discover(ctx, flags.town)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	a.Logger.Info("Discovery complete", "scanned", summary.Scanned, "eligible", summary.Eligible, "added", summary.Added)
	return nil
}

func runBatch(ctx context.Context, a *app.App, flags *workerFlags) error {
	size := a.Config.BatchSize
	if flags.limit > 0 {
		size = flags.limit
	}
	summary, err := a.Worker.RunBatch(ctx, size)
	if err != nil {
		return err
	}
	a.Logger.Info("Batch complete", "processed", summary.Processed, "synced", summary.Synced, "failed", summary.Failed)
	return nil
}

func runReviewServer(ctx context.Context, a *app.App, flags *workerFlags) error {
	redisOpt := config.AsynqRedisOpt(a.Config)

	// Index tasks re-enqueued from here (retries) go back on the same queue
	client := queue.NewClient(redisOpt)
	defer client.Close()
	a.UseEnqueuer(client)

	server := queue.NewServer(redisOpt, flags.concurrency, a.Logger)
	mux := asynq.NewServeMux()
	queue.NewTaskProcessor(a.Review, a.OCRQueue, a.Logger).Register(mux)

	a.Logger.Info("Starting review queue worker", "concurrency", flags.concurrency, "redis", redisOpt.Addr)
	if err := server.Start(mux); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}
	<-ctx.Done()
	server.Shutdown()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
