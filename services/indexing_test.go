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

func newTestIndexing(backend *fakeSearch, stores *memStores) *IndexingClient {
	return NewIndexingClient(backend, stores, NewMemoryStoreCache(16, time.Hour), nil, discardLogger())
}

func conwayMinutes() models.DocumentMetadata {
	return models.DocumentMetadata{
		Town:        "conway",
		Category:    "minutes",
		Board:       "Zoning Board",
		Year:        2024,
		MeetingDate: "2024-03-05",
		IsMinutes:   true,
		Filename:    "ZBA_Minutes_03-05-2024.pdf",
	}
}

func TestGetOrCreateStoreCreatesOncePerTenant(t *testing.T) {
	backend, stores := newFakeSearch(), newMemStores()
	c := newTestIndexing(backend, stores)
	ctx := context.Background()

	first, err := c.GetOrCreateStore(ctx, "conway")
	require.NoError(t, err)
	second, err := c.GetOrCreateStore(ctx, "conway")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, backend.created, 1)
	assert.Equal(t, first, stores.ids["conway"])
}

func TestGetOrCreateStoreUsesPersistedMapping(t *testing.T) {
	backend, stores := newFakeSearch(), newMemStores()
	stores.ids["madison"] = "fileSearchStores/madison-existing"
	c := newTestIndexing(backend, stores)

	id, err := c.GetOrCreateStore(context.Background(), "madison")
	require.NoError(t, err)
	assert.Equal(t, "fileSearchStores/madison-existing", id)
	assert.Empty(t, backend.created)
}

func TestUploadBinaryAndText(t *testing.T) {
	backend := newFakeSearch()
	c := newTestIndexing(backend, newMemStores())
	ctx := context.Background()

	res, err := c.Upload(ctx, UploadInput{Metadata: conwayMinutes(), SourceKey: "conway/zba.pdf", FilePath: "/tmp/zba.pdf", MimeType: MimePDF})
	require.NoError(t, err)
	assert.Equal(t, "fileSearchStores/s/documents/d1", res.DocumentID)
	assert.Equal(t, "fileSearchStores/conway-1", res.StoreName)
	assert.Equal(t, "/tmp/zba.pdf", backend.uploads[0].FilePath)
	assert.Equal(t, MimePDF, backend.uploads[0].MimeType)

	_, err = c.Upload(ctx, UploadInput{Metadata: conwayMinutes(), FilePath: "/tmp/zba.pdf", MimeType: MimePDF, Text: "--- PAGE 1 ---\nhello"})
	require.NoError(t, err)
	textReq := backend.uploads[1]
	assert.Empty(t, textReq.FilePath)
	assert.Equal(t, MimeText, textReq.MimeType)
	assert.Equal(t, []byte("--- PAGE 1 ---\nhello"), textReq.Content)
}

func TestUploadRecreatesMissingStoreOnce(t *testing.T) {
	backend, stores := newFakeSearch(), newMemStores()
	stores.ids["conway"] = "fileSearchStores/deleted"
	backend.missing["fileSearchStores/deleted"] = true
	c := newTestIndexing(backend, stores)

	res, err := c.Upload(context.Background(), UploadInput{Metadata: conwayMinutes(), FilePath: "/tmp/a.pdf", MimeType: MimePDF})
	require.NoError(t, err)

	assert.Len(t, backend.created, 1)
	assert.Equal(t, backend.created[0], res.StoreName)
	assert.Equal(t, backend.created[0], stores.ids["conway"])
	assert.Len(t, backend.uploads, 2)
}

func TestUploadGivesUpWhenRecreatedStoreAlsoMissing(t *testing.T) {
	backend, stores := newFakeSearch(), newMemStores()
	stores.ids["conway"] = "fileSearchStores/deleted"
	backend.missing["fileSearchStores/deleted"] = true
	backend.missing["fileSearchStores/conway-1"] = true
	c := newTestIndexing(backend, stores)

	_, err := c.Upload(context.Background(), UploadInput{Metadata: conwayMinutes(), FilePath: "/tmp/a.pdf"})
	assert.ErrorIs(t, err, search.ErrStoreNotFound)
	assert.Len(t, backend.uploads, 2)
}

func TestUploadRejectsEmptyDocumentID(t *testing.T) {
	backend := newFakeSearch()
	backend.docID = ""
	c := newTestIndexing(backend, newMemStores())

	_, err := c.Upload(context.Background(), UploadInput{Metadata: conwayMinutes(), FilePath: "/tmp/a.pdf"})
	assert.ErrorIs(t, err, search.ErrMissingDocumentID)
}

func TestUploadPropagatesBackendError(t *testing.T) {
	backend := newFakeSearch()
	backend.uploadFn = func(search.UploadRequest) (string, error) { return "", errors.New("quota exceeded") }
	c := newTestIndexing(backend, newMemStores())

	_, err := c.Upload(context.Background(), UploadInput{Metadata: conwayMinutes(), FilePath: "/tmp/a.pdf"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestUnknownTownGoesToStatewideStore(t *testing.T) {
	backend, stores := newFakeSearch(), newMemStores()
	c := newTestIndexing(backend, stores)

	meta := models.DocumentMetadata{Town: models.UnknownTown, Category: "budget", Year: 2021, Filename: "budget-2021.xlsx"}
	_, err := c.Upload(context.Background(), UploadInput{Metadata: meta, SourceKey: "budget-2021.xlsx"})
	require.NoError(t, err)
	assert.Contains(t, stores.ids, models.StatewideTown)
}

func TestBuildDisplayName(t *testing.T) {
	tests := []struct {
		name string
		meta models.DocumentMetadata
		want string
	}{
		{"full", conwayMinutes(), "Conway - Zoning Board - Minutes - 2024-03-05"},
		{"year only", models.DocumentMetadata{Town: "north conway", Category: "warrant", Year: 2019}, "North Conway - Warrant - 2019"},
		{"nothing known", models.DocumentMetadata{Town: models.UnknownTown, Category: models.UncategorizedCategory, Filename: "notes.txt"}, "notes.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildDisplayName(tt.meta))
		})
	}
}

func TestBuildSearchMetadata(t *testing.T) {
	entries := BuildSearchMetadata(conwayMinutes(), "conway/zba.pdf")
	got := map[string]string{}
	for _, e := range entries {
		got[e.Key] = e.StringValue
	}
	assert.Equal(t, map[string]string{
		"town":        "conway",
		"category":    "minutes",
		"board":       "Zoning Board",
		"year":        "2024",
		"source":      "conway/zba.pdf",
		"isMinutes":   "true",
		"meetingDate": "2024-03-05",
	}, got)

	upload := BuildSearchMetadata(models.DocumentMetadata{Town: "eaton", Category: "warrant", Filename: "w.pdf"}, "")
	got = map[string]string{}
	for _, e := range upload {
		got[e.Key] = e.StringValue
	}
	assert.Equal(t, "upload:w.pdf", got["source"])
	assert.Equal(t, "false", got["isMinutes"])
	assert.NotContains(t, got, "year")
	assert.NotContains(t, got, "board")
}
