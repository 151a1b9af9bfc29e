package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-ingest/internal/search"
	"civic-ingest/models"
)

type reviewFixture struct {
	indexer *ReviewIndexer
	jobs    *JobService
	search  *fakeSearch
	job     *models.IngestionJob
}

func newReviewFixture(t *testing.T) *reviewFixture {
	t.Helper()
	ctx := context.Background()
	blobs, _, _, _ := newTestBlobStore()
	jobs := NewJobService(newMemJobRepo(), nil, discardLogger())
	backend := newFakeSearch()
	indexing := NewIndexingClient(backend, newMemStores(), NewMemoryStoreCache(8, time.Hour), nil, discardLogger())
	ingestor := NewIngestor(&stubAnalyzer{analysis: models.Analysis{ExtractedTextCharCount: 800, MimeType: MimePDF}},
		&stubOCR{}, blobs, indexing, NewRegistry(newMemDocStore(), discardLogger()), nil, discardLogger())

	blob, _, err := blobs.SaveBlob(ctx, []byte("%PDF minutes"), "zba.pdf")
	require.NoError(t, err)
	job, err := jobs.Create(ctx, &models.IngestionJob{BlobID: blob.ID, Filename: "zba.pdf", SuggestedMetadata: conwayMinutes()})
	require.NoError(t, err)

	r := NewReviewIndexer(jobs, blobs, ingestor, discardLogger())
	r.tempRoot = t.TempDir()
	return &reviewFixture{indexer: r, jobs: jobs, search: backend, job: job}
}

func TestIndexJobRequiresApproval(t *testing.T) {
	f := newReviewFixture(t)
	err := f.indexer.IndexJob(context.Background(), f.job.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Empty(t, f.search.uploads)
}

func TestIndexJobMarksIndexed(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	_, err := f.jobs.Approve(ctx, f.job.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.indexer.IndexJob(ctx, f.job.ID))
	job, err := f.jobs.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIndexed, job.Status)
	require.NotNil(t, job.DocumentID)
	require.NotNil(t, job.VersionID)

	// Redelivery of the same task is a no-op.
	require.NoError(t, f.indexer.IndexJob(ctx, f.job.ID))
	assert.Len(t, f.search.uploads, 1)
}

func TestIndexJobFailureKeepsApproved(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	f.search.uploadFn = func(search.UploadRequest) (string, error) { return "", errors.New("503 from search backend") }
	_, err := f.jobs.Approve(ctx, f.job.ID, nil)
	require.NoError(t, err)

	require.Error(t, f.indexer.IndexJob(ctx, f.job.ID))
	job, err := f.jobs.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusApproved, job.Status)
	assert.Contains(t, job.ErrorMessage, "503 from search backend")
}
