package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
)

// OCRDrainSummary counts one drain pass
type OCRDrainSummary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// OCRQueue works through blobs queued for OCR. Claims are atomic, so any
// number of queue consumers can run side by side.
type OCRQueue struct {
	blobs    *BlobStore
	ocr      OCRRunner
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tempRoot string
}

func NewOCRQueue(blobs *BlobStore, ocr OCRRunner, metrics *telemetry.Metrics, logger *slog.Logger) *OCRQueue {
	return &OCRQueue{blobs: blobs, ocr: ocr, metrics: metrics, logger: logger}
}

// Drain claims and processes queued blobs oldest first until the queue is
// empty or limit items were handled (limit <= 0 means no limit).
func (q *OCRQueue) Drain(ctx context.Context, limit int) (OCRDrainSummary, error) {
	var summary OCRDrainSummary
	for limit <= 0 || summary.Completed+summary.Failed < limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		blob, err := q.blobs.ClaimNextOCR(ctx)
		if errors.Is(err, models.ErrNotFound) {
			break
		}
		if err != nil {
			return summary, err
		}

		if err := q.process(ctx, blob); err != nil {
			summary.Failed++
			q.metrics.RecordOCR(ctx, "failed")
			q.logger.Warn("Queued OCR failed", "blob_id", blob.ID.Hex(), "error", err)
			if failErr := q.blobs.FailOCR(ctx, blob.ID, err); failErr != nil {
				return summary, failErr
			}
			continue
		}
		summary.Completed++
		q.metrics.RecordOCR(ctx, "completed")
	}

	q.logger.Info("OCR queue drained", "completed", summary.Completed, "failed", summary.Failed)
	return summary, nil
}

func (q *OCRQueue) process(ctx context.Context, blob *models.FileBlob) error {
	workDir, err := os.MkdirTemp(q.tempRoot, "ocrq-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, "source"+filepath.Ext(blob.OriginalFilename))
	if err := q.blobs.OpenToFile(ctx, blob, localPath); err != nil {
		return err
	}
	text, err := q.ocr.OCR(ctx, localPath)
	if err != nil {
		return err
	}
	return q.blobs.CompleteOCR(ctx, blob.ID, text)
}

// DrainCount adapts Drain for the task queue
func (q *OCRQueue) DrainCount(ctx context.Context, limit int) (int, error) {
	summary, err := q.Drain(ctx, limit)
	return summary.Completed + summary.Failed, err
}
