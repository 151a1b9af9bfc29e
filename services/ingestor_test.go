package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-ingest/models"
)

type ingestorFixture struct {
	ingestor *Ingestor
	blobs    *BlobStore
	repo     *memBlobRepo
	analyzer *stubAnalyzer
	ocr      *stubOCR
	search   *fakeSearch
	docs     *memDocStore
}

func newIngestorFixture(analysis models.Analysis) *ingestorFixture {
	blobs, repo, _, _ := newTestBlobStore()
	f := &ingestorFixture{
		blobs:    blobs,
		repo:     repo,
		analyzer: &stubAnalyzer{analysis: analysis},
		ocr:      &stubOCR{text: "--- PAGE 1 ---\nrecognized minutes"},
		search:   newFakeSearch(),
		docs:     newMemDocStore(),
	}
	indexing := NewIndexingClient(f.search, newMemStores(), NewMemoryStoreCache(8, time.Hour), nil, discardLogger())
	f.ingestor = NewIngestor(f.analyzer, f.ocr, blobs, indexing, NewRegistry(f.docs, discardLogger()), nil, discardLogger())
	return f
}

func (f *ingestorFixture) request(t *testing.T) IngestRequest {
	t.Helper()
	blob, _, err := f.blobs.SaveBlob(context.Background(), []byte("%PDF scan"), "scan.pdf")
	require.NoError(t, err)
	return IngestRequest{FilePath: "/tmp/scan.pdf", Blob: blob, Metadata: conwayMinutes(), SourceKey: "conway/scan.pdf"}
}

var scannedPDF = models.Analysis{NeedsOCR: true, MimeType: MimePDF, Method: "go-pdf"}

func TestIngestNativeText(t *testing.T) {
	f := newIngestorFixture(models.Analysis{ExtractedTextCharCount: 1200, Text: "Minutes of the meeting", MimeType: MimePDF, Method: "poppler"})
	req := f.request(t)

	result, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.UsedOCR)
	assert.Zero(t, f.ocr.calls)
	assert.Equal(t, "native text: 1200 chars via poppler", result.Notes)
	assert.Equal(t, req.FilePath, f.search.uploads[0].FilePath)
	assert.True(t, result.Version.IsCurrent)
	assert.Equal(t, result.Upload.DocumentID, result.Version.SearchDocumentID)

	stored, err := f.blobs.Get(context.Background(), req.Blob.ID)
	require.NoError(t, err)
	assert.True(t, stored.Analyzed)
}

func TestIngestUploadsOCRSurrogate(t *testing.T) {
	f := newIngestorFixture(scannedPDF)
	req := f.request(t)

	result, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.UsedOCR)
	assert.Equal(t, 1, f.ocr.calls)
	assert.Equal(t, MimeText, f.search.uploads[0].MimeType)
	assert.Equal(t, []byte(f.ocr.text), f.search.uploads[0].Content)
	assert.Contains(t, result.Notes, "OCR text surrogate")

	stored, err := f.blobs.Get(context.Background(), req.Blob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusCompleted, stored.OCRStatus)
	assert.Equal(t, f.ocr.text, stored.OCRText)
}

func TestIngestReusesCompletedOCR(t *testing.T) {
	f := newIngestorFixture(scannedPDF)
	req := f.request(t)
	f.repo.set(req.Blob.ID, func(b *models.FileBlob) {
		b.OCRStatus = models.OCRStatusCompleted
		b.OCRText = "text from an earlier drain"
	})
	req.Blob, _ = f.blobs.Get(context.Background(), req.Blob.ID)

	result, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, f.ocr.calls)
	assert.True(t, result.UsedOCR)
	assert.Equal(t, []byte("text from an earlier drain"), f.search.uploads[0].Content)
}

func TestIngestFallsBackToBinaryWhenOCRFails(t *testing.T) {
	f := newIngestorFixture(scannedPDF)
	f.ocr.err = errors.New("tesseract missing")
	req := f.request(t)

	result, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.UsedOCR)
	assert.Equal(t, "OCR attempted and failed: tesseract missing", result.Notes)
	assert.Equal(t, result.Notes, result.Version.Notes)
	assert.Equal(t, req.FilePath, f.search.uploads[0].FilePath)
	assert.Empty(t, f.search.uploads[0].Content)

	stored, err := f.blobs.Get(context.Background(), req.Blob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusFailed, stored.OCRStatus)
	assert.Equal(t, "tesseract missing", stored.OCRError)
}

func TestIngestRetryableWhileOCRHeldElsewhere(t *testing.T) {
	f := newIngestorFixture(scannedPDF)
	req := f.request(t)
	_, err := f.blobs.ClaimOCR(context.Background(), req.Blob.ID)
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, ErrOCRInProgress)
	assert.Empty(t, f.search.uploads)
}

func TestIngestRerunsOCRAfterAbandonedClaim(t *testing.T) {
	f := newIngestorFixture(scannedPDF)
	req := f.request(t)
	_, err := f.blobs.ClaimOCR(context.Background(), req.Blob.ID)
	require.NoError(t, err)
	abandoned := time.Now().UTC().Add(-24 * time.Hour)
	f.repo.set(req.Blob.ID, func(b *models.FileBlob) { b.OCRStartedAt = &abandoned })

	result, err := f.ingestor.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.ocr.calls)
	assert.True(t, result.UsedOCR)
	stored, err := f.blobs.Get(context.Background(), req.Blob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusCompleted, stored.OCRStatus)
}

func TestIngestUploadFailureSkipsRegistry(t *testing.T) {
	f := newIngestorFixture(models.Analysis{ExtractedTextCharCount: 500, MimeType: MimePDF})
	f.search.docID = ""

	_, err := f.ingestor.Ingest(context.Background(), f.request(t))
	require.Error(t, err)
	assert.Empty(t, f.docs.versions)
}
