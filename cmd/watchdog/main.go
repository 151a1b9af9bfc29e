package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/logger"
	"civic-ingest/internal/schedule"
	"civic-ingest/services"

	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg, "watchdog")

	var (
		every   time.Duration
		cronExp string
		logFile string
	)

	root := &cobra.Command{
		Use:           "watchdog",
		Short:         "Restart the supervisor when it is missing or stalled",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			mongoClient, err := config.ConnectMongoDB(cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				mongoClient.Disconnect(ctx)
			}()

			if err := os.MkdirAll(filepath.Dir(cfg.WatchdogStateFile), 0o755); err != nil {
				return err
			}

			wd := services.NewWatchdog(
				database.NewSyncRepo(mongoClient.Database(cfg.DBName)),
				services.PIDFileControl{
					PIDFile: cfg.SupervisorPIDFile,
					Bin:     cfg.SupervisorBin,
					LogFile: logFile,
					Logger:  lg,
				},
				cfg.WatchdogStateFile,
				cfg.WatchdogStallAfter,
				lg,
			)
			check := func(ctx context.Context) error {
				decision, err := wd.Check(ctx)
				if err != nil {
					return err
				}
				lg.Info("Watchdog check", "decision", decision)
				return nil
			}

			if every <= 0 && cronExp == "" {
				return check(ctx)
			}

			sched := schedule.NewScheduler(ctx)
			if cronExp != "" {
				err = sched.ScheduleCron("watchdog", cronExp, check)
			} else {
				err = sched.ScheduleInterval("watchdog", every, check)
			}
			if err != nil {
				return err
			}
			sched.Start()
			lg.Info("Watchdog scheduled", "every", every.String(), "cron", cronExp)

			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}
	root.Flags().DurationVar(&every, "every", 0, "run periodically at this interval instead of once")
	root.Flags().StringVar(&cronExp, "cron", "", "run on a cron expression instead of once")
	root.Flags().StringVar(&logFile, "supervisor-log", "", "file receiving a restarted supervisor's output")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		lg.Error("Watchdog failed", "error", err)
		stop()
		os.Exit(1)
	}
}
