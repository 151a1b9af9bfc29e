package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"civic-ingest/models"
	"civic-ingest/utils"
)

// IntakeService turns a manual upload into a job awaiting review
type IntakeService struct {
	analyzer  Analyzer
	blobs     *BlobStore
	jobs      *JobService
	extractor *MetadataExtractor
	logger    *slog.Logger
	tempRoot  string
}

func NewIntakeService(analyzer Analyzer, blobs *BlobStore, jobs *JobService, extractor *MetadataExtractor, logger *slog.Logger) *IntakeService {
	return &IntakeService{analyzer: analyzer, blobs: blobs, jobs: jobs, extractor: extractor, logger: logger}
}

// Submit analyzes, dedups and stores an upload, then opens a review job. Duplicate
// findings become a warning on the job, never a rejection.
func (s *IntakeService) Submit(ctx context.Context, filename string, data []byte) (*models.IngestionJob, error) {
	filename = filepath.Base(filename)
	workDir, err := os.MkdirTemp(s.tempRoot, "upload-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, filename)
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	analysis, err := s.analyzer.Analyze(ctx, localPath, filename)
	if err != nil {
		return nil, fmt.Errorf("analyze upload: %w", err)
	}

	rawHash := utils.ContentHash(data)
	report, err := s.blobs.FindDuplicates(ctx, rawHash, utils.PreviewHash(utils.PreviewText(analysis.Text)))
	if err != nil {
		s.logger.Warn("Duplicate lookup failed", "file", filename, "error", err)
	}

	blob, _, err := s.blobs.SaveBlob(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if !blob.Analyzed {
		if err := s.blobs.RecordAnalysis(ctx, blob.ID, analysis); err != nil {
			return nil, fmt.Errorf("record analysis: %w", err)
		}
	}
	if analysis.NeedsOCR && !blob.HasOCRText() {
		if err := s.blobs.QueueOCR(ctx, blob.ID); err != nil {
			return nil, fmt.Errorf("queue ocr: %w", err)
		}
	}

	job, err := s.jobs.Create(ctx, &models.IngestionJob{
		BlobID:             blob.ID,
		Filename:           filename,
		SuggestedMetadata:  s.extractor.Extract(filename),
		DuplicateWarning:   report.Warning(),
		NeedsOCR:           analysis.NeedsOCR,
		ExtractedCharCount: analysis.ExtractedTextCharCount,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Upload queued for review",
		"job_id", job.ID.Hex(),
		"blob_id", blob.ID.Hex(),
		"needs_ocr", analysis.NeedsOCR,
		"duplicate", report.Warning() != "",
	)
	return job, nil
}
