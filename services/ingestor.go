package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
)

// ErrOCRInProgress means another consumer holds the blob's OCR claim; the item is retryable
var ErrOCRInProgress = errors.New("ocr in progress elsewhere")

// Analyzer is the quality gate
type Analyzer interface {
	Analyze(ctx context.Context, filePath, displayFilename string) (*models.Analysis, error)
}

// OCRRunner produces a text surrogate for a scanned file
type OCRRunner interface {
	OCR(ctx context.Context, filePath string) (string, error)
}

// Uploader sends a document to the search backend
type Uploader interface {
	Upload(ctx context.Context, in UploadInput) (UploadResult, error)
}

// VersionLinker records an indexed upload in the document registry
type VersionLinker interface {
	LinkVersion(ctx context.Context, req LinkRequest) (*models.DocumentVersion, error)
}

// OCRBlobs is the slice of the blob store the ingestor touches
type OCRBlobs interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error)
	RecordAnalysis(ctx context.Context, id primitive.ObjectID, analysis *models.Analysis) error
	ClaimOCR(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error)
	CompleteOCR(ctx context.Context, id primitive.ObjectID, text string) error
	FailOCR(ctx context.Context, id primitive.ObjectID, cause error) error
}

// IngestRequest is one stored file on its way to the index
type IngestRequest struct {
	FilePath  string
	Blob      *models.FileBlob
	Metadata  models.DocumentMetadata
	SourceKey string
}

// IngestResult is what a successful ingest produced
type IngestResult struct {
	Analysis *models.Analysis
	Upload   UploadResult
	Version  *models.DocumentVersion
	UsedOCR  bool
	Notes    string
}

// Ingestor is the stage shared by the auto-sync worker and the review indexer:
// analyze, escalate to OCR when needed, upload, link.
type Ingestor struct {
	analyzer Analyzer
	ocr      OCRRunner
	blobs    OCRBlobs
	uploader Uploader
	registry VersionLinker
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewIngestor(analyzer Analyzer, ocr OCRRunner, blobs OCRBlobs, uploader Uploader, registry VersionLinker, metrics *telemetry.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		analyzer: analyzer,
		ocr:      ocr,
		blobs:    blobs,
		uploader: uploader,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.file")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.blob_id", req.Blob.ID.Hex()))

	logCtx := i.logger.With("blob_id", req.Blob.ID.Hex(), "file", req.Metadata.Filename)

	analysis, err := i.analyzer.Analyze(ctx, req.FilePath, req.Metadata.Filename)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	if !req.Blob.Analyzed {
		if err := i.blobs.RecordAnalysis(ctx, req.Blob.ID, analysis); err != nil {
			return nil, fmt.Errorf("record analysis: %w", err)
		}
	}
	span.SetAttributes(attribute.Bool("ingest.needs_ocr", analysis.NeedsOCR))

	result := &IngestResult{
		Analysis: analysis,
		Notes:    fmt.Sprintf("native text: %d chars via %s", analysis.ExtractedTextCharCount, analysis.Method),
	}

	var surrogate string
	if analysis.NeedsOCR {
		text, note, err := i.ocrText(ctx, req)
		if err != nil {
			return nil, err
		}
		surrogate = text
		result.Notes = note
		result.UsedOCR = text != ""
	}

	upload, err := i.uploader.Upload(ctx, UploadInput{
		Metadata:  req.Metadata,
		SourceKey: req.SourceKey,
		FilePath:  req.FilePath,
		MimeType:  analysis.MimeType,
		Text:      surrogate,
	})
	if err != nil {
		return nil, err
	}
	result.Upload = upload

	version, err := i.registry.LinkVersion(ctx, LinkRequest{
		Metadata:         req.Metadata,
		BlobID:           req.Blob.ID,
		SearchDocumentID: upload.DocumentID,
		StoreName:        upload.StoreName,
		Notes:            result.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("link version: %w", err)
	}
	result.Version = version

	logCtx.Info("Ingested file", "document_id", upload.DocumentID, "version_id", version.ID.Hex(), "ocr", result.UsedOCR)
	return result, nil
}

// ocrText returns the OCR surrogate, or "" with an explanatory note when the
// original binary should be indexed instead. Only a claim held elsewhere is an error.
func (i *Ingestor) ocrText(ctx context.Context, req IngestRequest) (string, string, error) {
	if req.Blob.HasOCRText() {
		return req.Blob.OCRText, ocrNote(req.Blob.OCRText), nil
	}

	claimed, err := i.blobs.ClaimOCR(ctx, req.Blob.ID)
	if errors.Is(err, models.ErrTransitionConflict) {
		current, getErr := i.blobs.Get(ctx, req.Blob.ID)
		if getErr != nil {
			return "", "", getErr
		}
		if current.HasOCRText() {
			return current.OCRText, ocrNote(current.OCRText), nil
		}
		if current.OCRStatus == models.OCRStatusProcessing {
			return "", "", fmt.Errorf("blob %s: %w", req.Blob.ID.Hex(), ErrOCRInProgress)
		}
		return "", "OCR completed with no text; indexed original", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("claim ocr: %w", err)
	}

	text, ocrErr := i.ocr.OCR(ctx, req.FilePath)
	if ocrErr != nil {
		i.metrics.RecordOCR(ctx, "failed")
		i.logger.Warn("OCR failed, indexing original binary", "blob_id", claimed.ID.Hex(), "error", ocrErr)
		if err := i.blobs.FailOCR(ctx, claimed.ID, ocrErr); err != nil {
			i.logger.Error("Failed to record OCR failure", "blob_id", claimed.ID.Hex(), "error", err)
		}
		return "", "OCR attempted and failed: " + ocrErr.Error(), nil
	}

	i.metrics.RecordOCR(ctx, "completed")
	if err := i.blobs.CompleteOCR(ctx, claimed.ID, text); err != nil {
		return "", "", fmt.Errorf("record ocr result: %w", err)
	}
	return text, ocrNote(text), nil
}

func ocrNote(text string) string {
	count, _ := ClassifyText(text, 0)
	return fmt.Sprintf("OCR text surrogate: %d chars", count)
}
