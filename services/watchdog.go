package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"civic-ingest/models"
)

// WatchdogState is persisted between invocations; it only drives stall detection
type WatchdogState struct {
	SyncedCount    int64     `json:"synced_count"`
	LastProgressAt time.Time `json:"last_progress_at"`
	CheckedAt      time.Time `json:"checked_at"`
}

// WatchdogDecision is the outcome of one check
type WatchdogDecision string

const (
	WatchdogIdle             WatchdogDecision = "idle"
	WatchdogHealthy          WatchdogDecision = "healthy"
	WatchdogRestartedMissing WatchdogDecision = "restarted_missing"
	WatchdogRestartedStalled WatchdogDecision = "restarted_stalled"
)

// ProgressSource reports ledger totals
type ProgressSource interface {
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int64, error)
}

// ProcessControl observes and restarts the supervisor
type ProcessControl interface {
	Running() (bool, error)
	Restart(ctx context.Context) error
}

// Watchdog restarts the supervisor when it is absent with work pending, or
// running without moving the synced count for too long.
type Watchdog struct {
	source     ProgressSource
	control    ProcessControl
	statePath  string
	stallAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewWatchdog(source ProgressSource, control ProcessControl, statePath string, stallAfter time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		source:     source,
		control:    control,
		statePath:  statePath,
		stallAfter: stallAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Check runs one observation and rewrites the state file
func (w *Watchdog) Check(ctx context.Context) (WatchdogDecision, error) {
	now := w.now()
	counts, err := w.source.CountByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("count ledger: %w", err)
	}
	state, err := w.loadState()
	if err != nil {
		return "", err
	}

	synced, pending := counts[models.SyncStatusSynced], counts[models.SyncStatusPending]
	if state.CheckedAt.IsZero() || synced != state.SyncedCount {
		state.LastProgressAt = now
	}
	state.SyncedCount = synced
	state.CheckedAt = now

	running, err := w.control.Running()
	if err != nil {
		return "", fmt.Errorf("inspect supervisor: %w", err)
	}

	decision := WatchdogHealthy
	switch {
	case pending == 0:
		decision = WatchdogIdle
	case !running:
		decision = WatchdogRestartedMissing
	case now.Sub(state.LastProgressAt) >= w.stallAfter:
		decision = WatchdogRestartedStalled
	}

	logCtx := w.logger.With("synced", synced, "pending", pending, "running", running, "decision", decision)
	if decision == WatchdogRestartedMissing || decision == WatchdogRestartedStalled {
		if err := w.control.Restart(ctx); err != nil {
			return "", fmt.Errorf("restart supervisor: %w", err)
		}
		// Give the new supervisor a full window before judging it.
		state.LastProgressAt = now
		logCtx.Warn("Supervisor restarted")
	} else {
		logCtx.Info("Watchdog check")
	}

	if err := w.saveState(state); err != nil {
		return decision, err
	}
	return decision, nil
}

func (w *Watchdog) loadState() (WatchdogState, error) {
	var state WatchdogState
	data, err := os.ReadFile(w.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read watchdog state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		w.logger.Warn("Corrupt watchdog state, starting fresh", "path", w.statePath, "error", err)
		return WatchdogState{}, nil
	}
	return state, nil
}

func (w *Watchdog) saveState(state WatchdogState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.statePath), 0o755); err != nil {
		return err
	}
	tmp := w.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watchdog state: %w", err)
	}
	return os.Rename(tmp, w.statePath)
}
