package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/models"
	"civic-ingest/utils"
)

// JobRepository persists ingestion jobs with conditional status updates
type JobRepository interface {
	Insert(ctx context.Context, job *models.IngestionJob) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.IngestionJob, error)
	List(ctx context.Context, status models.JobStatus, limit int64) ([]models.IngestionJob, error)
	Transition(ctx context.Context, id primitive.ObjectID, from, to models.JobStatus, patch models.JobPatch) (*models.IngestionJob, error)
}

// IndexEnqueuer schedules asynchronous indexing of an approved job
type IndexEnqueuer interface {
	EnqueueIndexJob(ctx context.Context, jobID string) error
}

// JobService is the only writer of job status
type JobService struct {
	repo     JobRepository
	enqueuer IndexEnqueuer
	logger   *slog.Logger
}

func NewJobService(repo JobRepository, enqueuer IndexEnqueuer, logger *slog.Logger) *JobService {
	return &JobService{repo: repo, enqueuer: enqueuer, logger: logger}
}

// Create inserts a job in staging and hands it to review
func (s *JobService) Create(ctx context.Context, job *models.IngestionJob) (*models.IngestionJob, error) {
	job.Status = models.JobStatusStaging
	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, err
	}
	return s.transition(ctx, job, models.JobStatusNeedsReview, models.JobPatch{})
}

func (s *JobService) Get(ctx context.Context, id primitive.ObjectID) (*models.IngestionJob, error) {
	return s.repo.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, status models.JobStatus, limit int64) ([]models.IngestionJob, error) {
	return s.repo.List(ctx, status, limit)
}

// Transition validates against the state machine, then applies a conditional update
func (s *JobService) Transition(ctx context.Context, id primitive.ObjectID, to models.JobStatus, patch models.JobPatch) (*models.IngestionJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, job, to, patch)
}

func (s *JobService) transition(ctx context.Context, job *models.IngestionJob, to models.JobStatus, patch models.JobPatch) (*models.IngestionJob, error) {
	if job.Status == to {
		if job.Status.IsTerminal() {
			return nil, fmt.Errorf("job %s is %s: %w", job.ID.Hex(), job.Status, models.ErrInvalidTransition)
		}
	} else if !job.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("job %s: %s -> %s: %w", job.ID.Hex(), job.Status, to, models.ErrInvalidTransition)
	}

	updated, err := s.repo.Transition(ctx, job.ID, job.Status, to, patch)
	if err != nil {
		return nil, err
	}
	if job.Status != to {
		s.logger.Info("Job status changed", "job_id", job.ID.Hex(), "from", job.Status, "to", to)
	}
	return updated, nil
}

// UpdateFinalMetadata records reviewer-confirmed metadata without changing status
func (s *JobService) UpdateFinalMetadata(ctx context.Context, id primitive.ObjectID, meta models.DocumentMetadata) (*models.IngestionJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusNeedsReview && job.Status != models.JobStatusApproved {
		return nil, fmt.Errorf("job %s is %s: %w", id.Hex(), job.Status, models.ErrInvalidTransition)
	}
	meta.IsMinutes = meta.Category == "minutes"
	return s.transition(ctx, job, job.Status, models.JobPatch{FinalMetadata: &meta})
}

// Approve moves a reviewed job to approved and schedules indexing. final may be
// nil to accept the suggestion.
func (s *JobService) Approve(ctx context.Context, id primitive.ObjectID, final *models.DocumentMetadata) (*models.IngestionJob, error) {
	patch := models.JobPatch{}
	if final != nil {
		meta := *final
		meta.IsMinutes = meta.Category == "minutes"
		patch.FinalMetadata = &meta
	}
	job, err := s.Transition(ctx, id, models.JobStatusApproved, patch)
	if err != nil {
		return nil, err
	}
	if err := s.Enqueue(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Enqueue (re)schedules indexing for an approved job
func (s *JobService) Enqueue(ctx context.Context, job *models.IngestionJob) error {
	if job.Status != models.JobStatusApproved {
		return fmt.Errorf("job %s is %s: %w", job.ID.Hex(), job.Status, models.ErrInvalidTransition)
	}
	if s.enqueuer == nil {
		return nil
	}
	if err := s.enqueuer.EnqueueIndexJob(ctx, job.ID.Hex()); err != nil {
		return fmt.Errorf("enqueue indexing for job %s: %w", job.ID.Hex(), err)
	}
	return nil
}

func (s *JobService) Reject(ctx context.Context, id primitive.ObjectID, reason string) (*models.IngestionJob, error) {
	patch := models.JobPatch{}
	if reason != "" {
		msg := utils.Truncate(reason, utils.MaxErrorMessageLen)
		patch.ErrorMessage = &msg
	}
	return s.Transition(ctx, id, models.JobStatusRejected, patch)
}

// MarkIndexed is called only after upload and registry both succeeded
func (s *JobService) MarkIndexed(ctx context.Context, id, documentID, versionID primitive.ObjectID) (*models.IngestionJob, error) {
	clear := ""
	return s.Transition(ctx, id, models.JobStatusIndexed, models.JobPatch{
		ErrorMessage: &clear,
		DocumentID:   &documentID,
		VersionID:    &versionID,
	})
}

// RecordError leaves an approved job approved with the failure surfaced
func (s *JobService) RecordError(ctx context.Context, id primitive.ObjectID, cause error) error {
	msg := utils.ErrorMessage(cause)
	_, err := s.Transition(ctx, id, models.JobStatusApproved, models.JobPatch{ErrorMessage: &msg})
	return err
}
