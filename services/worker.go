package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
	"civic-ingest/utils"
)

// SyncQueue is the ledger view the batch worker drives
type SyncQueue interface {
	ListPending(ctx context.Context, limit int) ([]models.SyncRecord, error)
	Get(ctx context.Context, sourceKey string) (*models.SyncRecord, error)
	MarkSynced(ctx context.Context, sourceKey, searchDocumentID string) error
	MarkFailed(ctx context.Context, sourceKey, message string) error
}

// Downloader fetches one object into a local file
type Downloader interface {
	Download(ctx context.Context, key, dst string) error
}

// BlobSaver stores downloaded bytes
type BlobSaver interface {
	SaveBlob(ctx context.Context, data []byte, filename string) (*models.FileBlob, bool, error)
}

// FileIngestor runs the shared analyze/OCR/upload/link stage
type FileIngestor interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// BatchSummary counts one worker pass
type BatchSummary struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// BatchWorker takes pending ledger rows through the ingestion stage one at a time
type BatchWorker struct {
	queue      SyncQueue
	downloader Downloader
	blobs      BlobSaver
	ingestor   FileIngestor
	extractor  *MetadataExtractor
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tempRoot   string
}

func NewBatchWorker(queue SyncQueue, downloader Downloader, blobs BlobSaver, ingestor FileIngestor, extractor *MetadataExtractor, metrics *telemetry.Metrics, logger *slog.Logger) *BatchWorker {
	return &BatchWorker{
		queue:      queue,
		downloader: downloader,
		blobs:      blobs,
		ingestor:   ingestor,
		extractor:  extractor,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunBatch processes up to batchSize pending rows, oldest first. An item error
// marks that row failed and the loop moves on.
func (w *BatchWorker) RunBatch(ctx context.Context, batchSize int) (BatchSummary, error) {
	var summary BatchSummary
	records, err := w.queue.ListPending(ctx, batchSize)
	if err != nil {
		return summary, fmt.Errorf("list pending: %w", err)
	}
	w.logger.Info("Starting batch", "batch_size", batchSize, "pending", len(records))

	for i := range records {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Processed++
		if w.processRecord(ctx, &records[i]) {
			summary.Synced++
		} else {
			summary.Failed++
		}
	}

	w.logger.Info("Batch complete", "processed", summary.Processed, "synced", summary.Synced, "failed", summary.Failed)
	return summary, nil
}

// ProcessKey handles one source key; used by the supervisor's child processes.
// Rows that are no longer pending are left alone.
func (w *BatchWorker) ProcessKey(ctx context.Context, sourceKey string) error {
	rec, err := w.queue.Get(ctx, sourceKey)
	if err != nil {
		return err
	}
	if rec.Status != models.SyncStatusPending {
		w.logger.Info("Skipping non-pending record", "key", sourceKey, "status", rec.Status)
		return nil
	}
	w.processRecord(ctx, rec)
	return nil
}

// processRecord reports whether the row ended synced
func (w *BatchWorker) processRecord(ctx context.Context, rec *models.SyncRecord) bool {
	start := time.Now()
	logCtx := w.logger.With("key", rec.SourceKey, "town", rec.Town)

	docID, err := w.ingestKey(ctx, rec.SourceKey)
	if err == nil {
		err = w.queue.MarkSynced(ctx, rec.SourceKey, docID)
	}
	if err != nil {
		msg := utils.ErrorMessage(err)
		logCtx.Error("File failed", "error", msg)
		if markErr := w.queue.MarkFailed(ctx, rec.SourceKey, msg); markErr != nil && !errors.Is(markErr, models.ErrTransitionConflict) {
			logCtx.Error("Failed to record failure", "error", markErr)
		}
		w.metrics.RecordFile(ctx, "failed", time.Since(start).Seconds())
		return false
	}

	logCtx.Info("File synced", "document_id", docID, "duration", time.Since(start).String())
	w.metrics.RecordFile(ctx, "synced", time.Since(start).Seconds())
	return true
}

func (w *BatchWorker) ingestKey(ctx context.Context, sourceKey string) (string, error) {
	workDir, err := os.MkdirTemp(w.tempRoot, "sync-*")
	if err != nil {
		return "", fmt.Errorf("failed to create working dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, path.Base(sourceKey))
	if err := w.downloader.Download(ctx, sourceKey, localPath); err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	meta := w.extractor.Extract(sourceKey)
	blob, _, err := w.blobs.SaveBlob(ctx, data, meta.Filename)
	if err != nil {
		return "", fmt.Errorf("save blob: %w", err)
	}

	result, err := w.ingestor.Ingest(ctx, IngestRequest{
		FilePath:  localPath,
		Blob:      blob,
		Metadata:  meta,
		SourceKey: sourceKey,
	})
	if err != nil {
		return "", err
	}
	return result.Upload.DocumentID, nil
}
