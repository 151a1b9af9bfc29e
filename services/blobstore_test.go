package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-ingest/models"
	"civic-ingest/utils"
)

func newTestBlobStore() (*BlobStore, *memBlobRepo, *memBackend, *memBackend) {
	repo := newMemBlobRepo()
	primary, local := newMemBackend("gs"), newMemBackend("file")
	return NewBlobStore(repo, primary, local, time.Hour, discardLogger()), repo, primary, local
}

func TestSaveBlobIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, repo, primary, _ := newTestBlobStore()
	data := []byte("Conway Zoning Board minutes")

	first, created, err := store.SaveBlob(ctx, data, "a.pdf")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, utils.ContentHash(data), first.ContentHash)
	assert.Equal(t, MimePDF, first.MimeType)
	assert.Equal(t, models.OCRStatusNone, first.OCRStatus)

	second, created, err := store.SaveBlob(ctx, data, "renamed.pdf")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a.pdf", second.OriginalFilename)

	assert.Equal(t, 1, primary.puts, "second save must not write bytes")
	assert.Len(t, repo.rows, 1)
}

func TestSaveBlobFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	store, _, primary, local := newTestBlobStore()
	primary.putErr = errors.New("bucket unavailable")

	blob, created, err := store.SaveBlob(ctx, []byte("bytes"), "x.txt")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, local.LocationFor(blob.ContentHash), blob.StorageLocation)

	data, err := store.Open(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
}

func TestOpenFallsBackToLocalCopy(t *testing.T) {
	ctx := context.Background()
	store, _, primary, local := newTestBlobStore()

	blob, _, err := store.SaveBlob(ctx, []byte("bytes"), "x.txt")
	require.NoError(t, err)
	_, err = local.Put(ctx, blob.ContentHash, []byte("bytes"))
	require.NoError(t, err)

	primary.getErr = errors.New("timeout")
	data, err := store.Open(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)
}

func TestFindDuplicates(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestBlobStore()

	original, _, err := store.SaveBlob(ctx, []byte("scan one"), "budget.pdf")
	require.NoError(t, err)
	text := "Town of Conway budget 2024. Appropriations."
	require.NoError(t, store.RecordAnalysis(ctx, original.ID, &models.Analysis{Text: text, ExtractedTextCharCount: len(text)}))

	report, err := store.FindDuplicates(ctx, original.ContentHash, "")
	require.NoError(t, err)
	require.NotNil(t, report.Exact)
	assert.Contains(t, report.Warning(), "exact duplicate of budget.pdf")

	// Different bytes, same text modulo punctuation and case.
	previewHash := utils.PreviewHash(utils.PreviewText("town of conway BUDGET 2024 appropriations"))
	report, err = store.FindDuplicates(ctx, utils.ContentHash([]byte("scan two")), previewHash)
	require.NoError(t, err)
	assert.Nil(t, report.Exact)
	require.NotNil(t, report.Preview)
	assert.Equal(t, original.ID, report.Preview.ID)

	report, err = store.FindDuplicates(ctx, utils.ContentHash([]byte("other")), utils.PreviewHash("unrelated"))
	require.NoError(t, err)
	assert.Empty(t, report.Warning())
}

func TestOCRClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := newTestBlobStore()

	blob, _, err := store.SaveBlob(ctx, []byte("scan"), "scan.pdf")
	require.NoError(t, err)
	require.NoError(t, store.QueueOCR(ctx, blob.ID))

	claimed, err := store.ClaimNextOCR(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob.ID, claimed.ID)
	assert.Equal(t, models.OCRStatusProcessing, claimed.OCRStatus)

	_, err = store.ClaimOCR(ctx, blob.ID)
	assert.ErrorIs(t, err, models.ErrTransitionConflict, "a processing blob cannot be claimed twice")

	_, err = store.ClaimNextOCR(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.CompleteOCR(ctx, blob.ID, "  recognized text  "))
	done, err := store.Get(ctx, blob.ID)
	require.NoError(t, err)
	assert.True(t, done.HasOCRText())
	assert.Equal(t, len("recognized text"), done.OCRCharCount)
}

func TestExpiredOCRClaimCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	store, repo, _, _ := newTestBlobStore()

	blob, _, err := store.SaveBlob(ctx, []byte("scan"), "scan.pdf")
	require.NoError(t, err)
	_, err = store.ClaimOCR(ctx, blob.ID)
	require.NoError(t, err)

	_, err = store.ClaimOCR(ctx, blob.ID)
	assert.ErrorIs(t, err, models.ErrTransitionConflict)
	_, err = store.ClaimNextOCR(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound, "a live claim is not handed out")

	abandoned := time.Now().UTC().Add(-24 * time.Hour)
	repo.set(blob.ID, func(b *models.FileBlob) { b.OCRStartedAt = &abandoned })

	claimed, err := store.ClaimNextOCR(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob.ID, claimed.ID)
	assert.True(t, claimed.OCRStartedAt.After(abandoned))

	repo.set(blob.ID, func(b *models.FileBlob) { b.OCRStartedAt = &abandoned })
	claimed, err = store.ClaimOCR(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OCRStatusProcessing, claimed.OCRStatus)
	require.NoError(t, store.CompleteOCR(ctx, blob.ID, "recovered text"))
}
