package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
	"civic-ingest/utils"
)

// SupervisorQueue is the ledger view the supervisor needs
type SupervisorQueue interface {
	NextPending(ctx context.Context) (*models.SyncRecord, error)
	Get(ctx context.Context, sourceKey string) (*models.SyncRecord, error)
	MarkFailed(ctx context.Context, sourceKey, message string) error
}

// ItemRunner processes exactly one source key in isolation
type ItemRunner interface {
	Run(ctx context.Context, sourceKey string) error
}

// ExecRunner runs one disposable worker process per item
type ExecRunner struct {
	Bin       string
	BatchSize int // passed to the child as BATCH_SIZE; 0 means 1
	Stdout    io.Writer
	Stderr    io.Writer
}

func (r ExecRunner) Run(ctx context.Context, sourceKey string) error {
	size := r.BatchSize
	if size < 1 {
		size = 1
	}
	cmd := exec.CommandContext(ctx, r.Bin, "worker", "--key", sourceKey)
	cmd.Env = append(os.Environ(), "BATCH_SIZE="+strconv.Itoa(size))
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	return cmd.Run()
}

// SupervisorSummary counts one supervisor lifetime. Synced and Failed count
// children that exited cleanly, by the status they left on the row.
type SupervisorSummary struct {
	Attempts int `json:"attempts"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Strikes  int `json:"strikes"`
	GaveUp   int `json:"gave_up"`
}

// Supervisor re-invokes single-item workers until nothing is pending. Strikes
// live in memory only and reset when an item finally leaves pending.
type Supervisor struct {
	queue      SupervisorQueue
	runner     ItemRunner
	maxRetries int
	strikes    map[string]int
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

func NewSupervisor(queue SupervisorQueue, runner ItemRunner, maxRetries int, metrics *telemetry.Metrics, logger *slog.Logger) *Supervisor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Supervisor{
		queue:      queue,
		runner:     runner,
		maxRetries: maxRetries,
		strikes:    map[string]int{},
		metrics:    metrics,
		logger:     logger,
	}
}

// Run loops until the pending queue is empty or ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) (SupervisorSummary, error) {
	var summary SupervisorSummary
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec, err := s.queue.NextPending(ctx)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("No pending work, supervisor exiting",
				"attempts", summary.Attempts, "synced", summary.Synced, "failed", summary.Failed, "gave_up", summary.GaveUp)
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("next pending: %w", err)
		}

		summary.Attempts++
		if err := s.attempt(ctx, rec.SourceKey, &summary); err != nil {
			return summary, err
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, key string, summary *SupervisorSummary) error {
	logCtx := s.logger.With("key", key)
	logCtx.Info("Spawning worker")

	runErr := s.runner.Run(ctx, key)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	after, err := s.queue.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reload %s: %w", key, err)
	}
	if runErr == nil && after.Status != models.SyncStatusPending {
		delete(s.strikes, key)
		if after.Status == models.SyncStatusSynced {
			summary.Synced++
		} else {
			summary.Failed++
		}
		return nil
	}

	// A crash, or a clean exit that left the row pending, both count.
	s.strikes[key]++
	strikes := s.strikes[key]
	summary.Strikes++
	s.metrics.RecordStrike(ctx)
	logCtx.Warn("Worker strike", "strikes", strikes, "max", s.maxRetries, "error", runErr)

	if strikes < s.maxRetries {
		return nil
	}

	msg := fmt.Sprintf("worker crashed %d times", strikes)
	if runErr != nil {
		msg += ": " + runErr.Error()
	}
	if err := s.queue.MarkFailed(ctx, key, utils.Truncate(msg, utils.MaxErrorMessageLen)); err != nil && !errors.Is(err, models.ErrTransitionConflict) {
		return fmt.Errorf("mark %s failed: %w", key, err)
	}
	delete(s.strikes, key)
	summary.GaveUp++
	logCtx.Error("Giving up on file", "strikes", strikes)
	return nil
}
