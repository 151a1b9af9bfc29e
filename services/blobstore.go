package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/internal/objectstore"
	"civic-ingest/models"
	"civic-ingest/utils"
)

// BlobRepository is the persistence BlobStore needs
type BlobRepository interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error)
	FindByHash(ctx context.Context, hash string) (*models.FileBlob, error)
	FindByPreviewHash(ctx context.Context, previewHash, excludeHash string) (*models.FileBlob, error)
	Insert(ctx context.Context, blob *models.FileBlob) error
	RecordAnalysis(ctx context.Context, id primitive.ObjectID, preview, previewHash string, charCount int) error
	QueueOCR(ctx context.Context, id primitive.ObjectID, now time.Time) error
	ClaimOCR(ctx context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.FileBlob, error)
	ClaimNextOCR(ctx context.Context, now, staleBefore time.Time) (*models.FileBlob, error)
	CompleteOCR(ctx context.Context, id primitive.ObjectID, text string, charCount int, now time.Time) error
	FailOCR(ctx context.Context, id primitive.ObjectID, message string, now time.Time) error
}

// LocalBlobBackend is the disk fallback; it can name a blob's location from its hash alone
type LocalBlobBackend interface {
	objectstore.BlobBackend
	LocationFor(hash string) string
}

// BlobStore is the content-addressed store for raw file bytes and the only
// writer of a blob's OCR fields.
type BlobStore struct {
	repo     BlobRepository
	primary  objectstore.BlobBackend
	fallback LocalBlobBackend
	logger   *slog.Logger
	claimTTL time.Duration
	now      func() time.Time
}

// NewBlobStore builds a store; primary may be nil to run on local disk only.
// An OCR claim older than claimTTL may be taken over by another consumer.
func NewBlobStore(repo BlobRepository, primary objectstore.BlobBackend, fallback LocalBlobBackend, claimTTL time.Duration, logger *slog.Logger) *BlobStore {
	if claimTTL <= 0 {
		claimTTL = time.Hour
	}
	return &BlobStore{
		repo:     repo,
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		claimTTL: claimTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SaveBlob stores data once per distinct byte sequence. created is false when
// the hash was already known, in which case nothing is written.
func (s *BlobStore) SaveBlob(ctx context.Context, data []byte, filename string) (*models.FileBlob, bool, error) {
	hash := utils.ContentHash(data)

	existing, err := s.repo.FindByHash(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup blob %s: %w", hash, err)
	}

	location, err := s.write(ctx, hash, data)
	if err != nil {
		return nil, false, err
	}

	blob := &models.FileBlob{
		ContentHash:      hash,
		Size:             int64(len(data)),
		MimeType:         MimeTypeFor(filename),
		OriginalFilename: filename,
		StorageLocation:  location,
		OCRStatus:        models.OCRStatusNone,
		CreatedAt:        s.now(),
	}
	if err := s.repo.Insert(ctx, blob); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			// Concurrent save of the same bytes; the winner's row stands.
			winner, findErr := s.repo.FindByHash(ctx, hash)
			if findErr != nil {
				return nil, false, findErr
			}
			return winner, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("Stored new blob", "blob_id", blob.ID.Hex(), "hash", hash, "size", blob.Size, "location", location)
	return blob, true, nil
}

func (s *BlobStore) write(ctx context.Context, hash string, data []byte) (string, error) {
	if s.primary != nil {
		location, err := s.primary.Put(ctx, hash, data)
		if err == nil {
			return location, nil
		}
		s.logger.Warn("Primary blob write failed, using local fallback", "hash", hash, "error", err)
	}
	location, err := s.fallback.Put(ctx, hash, data)
	if err != nil {
		return "", fmt.Errorf("store blob %s: %w", hash, err)
	}
	return location, nil
}

// FindDuplicates reports an exact match by content hash or, failing that, a
// near-duplicate by preview hash. It never blocks ingestion.
func (s *BlobStore) FindDuplicates(ctx context.Context, rawHash, previewHash string) (models.DuplicateReport, error) {
	var report models.DuplicateReport

	exact, err := s.repo.FindByHash(ctx, rawHash)
	switch {
	case err == nil:
		report.Exact = exact
		return report, nil
	case !errors.Is(err, models.ErrNotFound):
		return report, err
	}

	if previewHash == "" {
		return report, nil
	}
	preview, err := s.repo.FindByPreviewHash(ctx, previewHash, rawHash)
	switch {
	case err == nil:
		report.Preview = preview
	case !errors.Is(err, models.ErrNotFound):
		return report, err
	}
	return report, nil
}

// Open returns the stored bytes. A failed primary read falls back to the local copy.
func (s *BlobStore) Open(ctx context.Context, blob *models.FileBlob) ([]byte, error) {
	if objectstore.IsLocal(blob.StorageLocation) || s.primary == nil {
		return s.fallback.Get(ctx, blob.StorageLocation)
	}

	data, err := s.primary.Get(ctx, blob.StorageLocation)
	if err == nil {
		return data, nil
	}
	local, localErr := s.fallback.Get(ctx, s.fallback.LocationFor(blob.ContentHash))
	if localErr != nil {
		return nil, fmt.Errorf("read blob %s: %w", blob.ID.Hex(), err)
	}
	s.logger.Warn("Primary blob read failed, served local copy", "blob_id", blob.ID.Hex(), "error", err)
	return local, nil
}

// OpenToFile writes the stored bytes to path
func (s *BlobStore) OpenToFile(ctx context.Context, blob *models.FileBlob, path string) error {
	data, err := s.Open(ctx, blob)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (s *BlobStore) Get(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error) {
	return s.repo.Get(ctx, id)
}

// RecordAnalysis stores the preview text and its near-duplicate hash
func (s *BlobStore) RecordAnalysis(ctx context.Context, id primitive.ObjectID, analysis *models.Analysis) error {
	preview := utils.PreviewText(analysis.Text)
	return s.repo.RecordAnalysis(ctx, id, preview, utils.PreviewHash(preview), analysis.ExtractedTextCharCount)
}

func (s *BlobStore) QueueOCR(ctx context.Context, id primitive.ObjectID) error {
	return s.repo.QueueOCR(ctx, id, s.now())
}

func (s *BlobStore) ClaimOCR(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error) {
	now := s.now()
	return s.repo.ClaimOCR(ctx, id, now, now.Add(-s.claimTTL))
}

func (s *BlobStore) ClaimNextOCR(ctx context.Context) (*models.FileBlob, error) {
	now := s.now()
	return s.repo.ClaimNextOCR(ctx, now, now.Add(-s.claimTTL))
}

func (s *BlobStore) CompleteOCR(ctx context.Context, id primitive.ObjectID, text string) error {
	count, _ := ClassifyText(text, 0)
	return s.repo.CompleteOCR(ctx, id, text, count, s.now())
}

func (s *BlobStore) FailOCR(ctx context.Context, id primitive.ObjectID, cause error) error {
	return s.repo.FailOCR(ctx, id, utils.ErrorMessage(cause), s.now())
}
