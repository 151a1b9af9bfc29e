package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/models"
)

// ReviewIndexer indexes approved jobs. It is the only path into indexed.
type ReviewIndexer struct {
	jobs     *JobService
	blobs    *BlobStore
	ingestor FileIngestor
	logger   *slog.Logger
	tempRoot string
}

func NewReviewIndexer(jobs *JobService, blobs *BlobStore, ingestor FileIngestor, logger *slog.Logger) *ReviewIndexer {
	return &ReviewIndexer{jobs: jobs, blobs: blobs, ingestor: ingestor, logger: logger}
}

// IndexJob uploads and links an approved job. On failure the job stays
// approved with its error recorded; an already indexed job is a no-op.
func (r *ReviewIndexer) IndexJob(ctx context.Context, id primitive.ObjectID) error {
	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobStatusIndexed:
		return nil
	case models.JobStatusApproved:
	default:
		return fmt.Errorf("job %s is %s: %w", id.Hex(), job.Status, models.ErrInvalidTransition)
	}

	result, err := r.index(ctx, job)
	if err != nil {
		r.logger.Error("Indexing failed", "job_id", id.Hex(), "error", err)
		if recErr := r.jobs.RecordError(ctx, id, err); recErr != nil {
			r.logger.Error("Failed to record job error", "job_id", id.Hex(), "error", recErr)
		}
		return err
	}

	if _, err := r.jobs.MarkIndexed(ctx, id, result.Version.DocumentID, result.Version.ID); err != nil {
		return fmt.Errorf("mark job %s indexed: %w", id.Hex(), err)
	}
	return nil
}

func (r *ReviewIndexer) index(ctx context.Context, job *models.IngestionJob) (*IngestResult, error) {
	blob, err := r.blobs.Get(ctx, job.BlobID)
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}

	workDir, err := os.MkdirTemp(r.tempRoot, "review-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, filepath.Base(job.Filename))
	if err := r.blobs.OpenToFile(ctx, blob, localPath); err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}

	meta := job.EffectiveMetadata()
	if meta.Filename == "" {
		meta.Filename = job.Filename
	}
	return r.ingestor.Ingest(ctx, IngestRequest{
		FilePath:  localPath,
		Blob:      blob,
		Metadata:  meta,
		SourceKey: job.SourceKey,
	})
}
