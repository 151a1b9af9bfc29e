package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/internal/objectstore"
	"civic-ingest/internal/search"
	"civic-ingest/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memBlobRepo mirrors the conditional updates of database.BlobRepo
type memBlobRepo struct {
	mu    sync.Mutex
	rows  map[primitive.ObjectID]*models.FileBlob
	order []primitive.ObjectID
}

func newMemBlobRepo() *memBlobRepo {
	return &memBlobRepo{rows: map[primitive.ObjectID]*models.FileBlob{}}
}

func (r *memBlobRepo) copyOf(b *models.FileBlob) *models.FileBlob {
	c := *b
	return &c
}

func (r *memBlobRepo) Get(_ context.Context, id primitive.ObjectID) (*models.FileBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.copyOf(b), nil
}

func (r *memBlobRepo) FindByHash(_ context.Context, hash string) (*models.FileBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if r.rows[id].ContentHash == hash {
			return r.copyOf(r.rows[id]), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memBlobRepo) FindByPreviewHash(_ context.Context, previewHash, excludeHash string) (*models.FileBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		b := r.rows[id]
		if b.PreviewHash == previewHash && b.ContentHash != excludeHash {
			return r.copyOf(b), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memBlobRepo) Insert(_ context.Context, blob *models.FileBlob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.rows {
		if b.ContentHash == blob.ContentHash {
			return models.ErrDuplicate
		}
	}
	blob.ID = primitive.NewObjectID()
	r.rows[blob.ID] = r.copyOf(blob)
	r.order = append(r.order, blob.ID)
	return nil
}

func (r *memBlobRepo) RecordAnalysis(_ context.Context, id primitive.ObjectID, preview, previewHash string, charCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return models.ErrNotFound
	}
	b.PreviewText, b.PreviewHash, b.ExtractedCharCount, b.Analyzed = preview, previewHash, charCount, true
	return nil
}

func (r *memBlobRepo) QueueOCR(_ context.Context, id primitive.ObjectID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return models.ErrNotFound
	}
	switch b.OCRStatus {
	case models.OCRStatusNone, models.OCRStatusFailed, "":
		b.OCRStatus = models.OCRStatusQueued
		b.OCRQueuedAt = &now
	}
	return nil
}

func expiredClaim(b *models.FileBlob, staleBefore time.Time) bool {
	return b.OCRStatus == models.OCRStatusProcessing && b.OCRStartedAt != nil && b.OCRStartedAt.Before(staleBefore)
}

func (r *memBlobRepo) ClaimOCR(_ context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.FileBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	switch {
	case b.OCRStatus == models.OCRStatusNone, b.OCRStatus == models.OCRStatusQueued,
		b.OCRStatus == models.OCRStatusFailed, b.OCRStatus == "", expiredClaim(b, staleBefore):
		b.OCRStatus = models.OCRStatusProcessing
		b.OCRStartedAt = &now
		return r.copyOf(b), nil
	}
	return nil, models.ErrTransitionConflict
}

func (r *memBlobRepo) ClaimNextOCR(_ context.Context, now, staleBefore time.Time) (*models.FileBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []*models.FileBlob
	for _, id := range r.order {
		if b := r.rows[id]; b.OCRStatus == models.OCRStatusQueued || expiredClaim(b, staleBefore) {
			queued = append(queued, b)
		}
	}
	if len(queued) == 0 {
		return nil, models.ErrNotFound
	}
	sort.SliceStable(queued, func(i, j int) bool { return queuedBefore(queued[i], queued[j]) })
	b := queued[0]
	b.OCRStatus = models.OCRStatusProcessing
	b.OCRStartedAt = &now
	return r.copyOf(b), nil
}

// queuedBefore orders by queue time; rows claimed directly were never queued and sort first
func queuedBefore(a, b *models.FileBlob) bool {
	if a.OCRQueuedAt == nil || b.OCRQueuedAt == nil {
		return a.OCRQueuedAt == nil && b.OCRQueuedAt != nil
	}
	return a.OCRQueuedAt.Before(*b.OCRQueuedAt)
}

func (r *memBlobRepo) CompleteOCR(_ context.Context, id primitive.ObjectID, text string, charCount int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok || b.OCRStatus != models.OCRStatusProcessing {
		return models.ErrTransitionConflict
	}
	b.OCRStatus, b.OCRText, b.OCRCharCount, b.OCRCompletedAt, b.OCRError = models.OCRStatusCompleted, text, charCount, &now, ""
	return nil
}

func (r *memBlobRepo) FailOCR(_ context.Context, id primitive.ObjectID, message string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok || b.OCRStatus != models.OCRStatusProcessing {
		return models.ErrTransitionConflict
	}
	b.OCRStatus, b.OCRError, b.OCRCompletedAt = models.OCRStatusFailed, message, &now
	return nil
}

func (r *memBlobRepo) set(id primitive.ObjectID, fn func(b *models.FileBlob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.rows[id])
}

// memBackend is an in-memory blob backend
type memBackend struct {
	scheme  string
	objects map[string][]byte
	puts    int
	putErr  error
	getErr  error
}

func newMemBackend(scheme string) *memBackend {
	return &memBackend{scheme: scheme, objects: map[string][]byte{}}
}

func (m *memBackend) LocationFor(hash string) string {
	return m.scheme + "://blobs/" + hash
}

func (m *memBackend) Put(_ context.Context, hash string, data []byte) (string, error) {
	m.puts++
	if m.putErr != nil {
		return "", m.putErr
	}
	loc := m.LocationFor(hash)
	m.objects[loc] = append([]byte(nil), data...)
	return loc, nil
}

func (m *memBackend) Get(_ context.Context, location string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[location]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return data, nil
}

// memDocStore keeps documents and versions with the promote semantics of the Mongo repo
type memDocStore struct {
	docs     map[primitive.ObjectID]*models.LogicalDocument
	versions []*models.DocumentVersion
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: map[primitive.ObjectID]*models.LogicalDocument{}}
}

func (s *memDocStore) ResolveDocument(_ context.Context, doc *models.LogicalDocument) (*models.LogicalDocument, error) {
	for _, d := range s.docs {
		if d.CanonicalTitle == doc.CanonicalTitle && d.Town == doc.Town {
			c := *d
			return &c, nil
		}
	}
	c := *doc
	c.ID = primitive.NewObjectID()
	s.docs[c.ID] = &c
	out := c
	return &out, nil
}

func (s *memDocStore) InsertVersion(_ context.Context, v *models.DocumentVersion) error {
	v.ID = primitive.NewObjectID()
	c := *v
	c.IsCurrent = false
	s.versions = append(s.versions, &c)
	return nil
}

func (s *memDocStore) PromoteVersion(_ context.Context, documentID, versionID primitive.ObjectID) error {
	doc, ok := s.docs[documentID]
	if !ok {
		return models.ErrNotFound
	}
	id := versionID
	doc.CurrentVersionID = &id
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			v.IsCurrent = v.ID == versionID
		}
	}
	return nil
}

func (s *memDocStore) ListVersions(_ context.Context, documentID primitive.ObjectID) ([]models.DocumentVersion, error) {
	var out []models.DocumentVersion
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			out = append(out, *v)
		}
	}
	return out, nil
}

// memJobRepo applies transitions conditionally on the expected status
type memJobRepo struct {
	jobs map[primitive.ObjectID]*models.IngestionJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[primitive.ObjectID]*models.IngestionJob{}}
}

func (r *memJobRepo) Insert(_ context.Context, job *models.IngestionJob) error {
	job.ID = primitive.NewObjectID()
	c := *job
	r.jobs[job.ID] = &c
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id primitive.ObjectID) (*models.IngestionJob, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (r *memJobRepo) List(_ context.Context, status models.JobStatus, _ int64) ([]models.IngestionJob, error) {
	var out []models.IngestionJob
	for _, j := range r.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *memJobRepo) Transition(_ context.Context, id primitive.ObjectID, from, to models.JobStatus, patch models.JobPatch) (*models.IngestionJob, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if j.Status != from {
		return nil, models.ErrTransitionConflict
	}
	j.Status = to
	if patch.FinalMetadata != nil {
		m := *patch.FinalMetadata
		j.FinalMetadata = &m
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = *patch.ErrorMessage
	}
	if patch.DocumentID != nil {
		j.DocumentID = patch.DocumentID
	}
	if patch.VersionID != nil {
		j.VersionID = patch.VersionID
	}
	c := *j
	return &c, nil
}

// memSyncRepo is an ordered in-memory ledger
type memSyncRepo struct {
	rows  map[string]*models.SyncRecord
	order []string
}

func newMemSyncRepo(keys ...string) *memSyncRepo {
	r := &memSyncRepo{rows: map[string]*models.SyncRecord{}}
	for _, k := range keys {
		_, _ = r.InsertIfAbsent(context.Background(), &models.SyncRecord{SourceKey: k, Town: strings.Split(k, "/")[0]})
	}
	return r
}

func (r *memSyncRepo) InsertIfAbsent(_ context.Context, rec *models.SyncRecord) (bool, error) {
	if _, ok := r.rows[rec.SourceKey]; ok {
		return false, nil
	}
	c := *rec
	c.Status = models.SyncStatusPending
	c.DiscoveredAt = time.Now()
	r.rows[rec.SourceKey] = &c
	r.order = append(r.order, rec.SourceKey)
	return true, nil
}

func (r *memSyncRepo) Get(_ context.Context, key string) (*models.SyncRecord, error) {
	rec, ok := r.rows[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *memSyncRepo) ListPending(_ context.Context, limit int) ([]models.SyncRecord, error) {
	var out []models.SyncRecord
	for _, k := range r.order {
		if r.rows[k].Status == models.SyncStatusPending {
			out = append(out, *r.rows[k])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memSyncRepo) NextPending(ctx context.Context) (*models.SyncRecord, error) {
	recs, _ := r.ListPending(ctx, 1)
	if len(recs) == 0 {
		return nil, models.ErrNotFound
	}
	return &recs[0], nil
}

func (r *memSyncRepo) finish(key string, fn func(*models.SyncRecord)) error {
	rec, ok := r.rows[key]
	if !ok {
		return models.ErrNotFound
	}
	if rec.Status != models.SyncStatusPending {
		return models.ErrTransitionConflict
	}
	rec.Attempts++
	fn(rec)
	return nil
}

func (r *memSyncRepo) MarkSynced(_ context.Context, key, docID string) error {
	return r.finish(key, func(rec *models.SyncRecord) {
		now := time.Now()
		rec.Status, rec.SearchDocumentID, rec.SyncedAt, rec.ErrorMessage = models.SyncStatusSynced, docID, &now, ""
	})
}

func (r *memSyncRepo) MarkFailed(_ context.Context, key, msg string) error {
	return r.finish(key, func(rec *models.SyncRecord) {
		rec.Status, rec.ErrorMessage = models.SyncStatusFailed, msg
	})
}

func (r *memSyncRepo) CountByStatus(context.Context) (map[models.SyncStatus]int64, error) {
	counts := map[models.SyncStatus]int64{
		models.SyncStatusPending: 0,
		models.SyncStatusSynced:  0,
		models.SyncStatusFailed:  0,
	}
	for _, rec := range r.rows {
		counts[rec.Status]++
	}
	return counts, nil
}

// memStores is a StoreRegistry
type memStores struct {
	ids map[string]string
}

func newMemStores() *memStores { return &memStores{ids: map[string]string{}} }

func (s *memStores) Get(_ context.Context, tenant string) (string, error) {
	id, ok := s.ids[tenant]
	if !ok {
		return "", models.ErrNotFound
	}
	return id, nil
}

func (s *memStores) Save(_ context.Context, tenant, name string) error {
	s.ids[tenant] = name
	return nil
}

func (s *memStores) Delete(_ context.Context, tenant string) error {
	delete(s.ids, tenant)
	return nil
}

// fakeSearch scripts the managed search backend
type fakeSearch struct {
	created  []string
	uploads  []search.UploadRequest
	missing  map[string]bool // store ids that answer 404
	docID    string
	uploadFn func(search.UploadRequest) (string, error)
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{missing: map[string]bool{}, docID: "fileSearchStores/s/documents/d1"}
}

func (f *fakeSearch) CreateStore(_ context.Context, displayName string) (string, error) {
	id := fmt.Sprintf("fileSearchStores/%s-%d", displayName, len(f.created)+1)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeSearch) UploadDocument(_ context.Context, in search.UploadRequest) (string, error) {
	f.uploads = append(f.uploads, in)
	if f.missing[in.StoreID] {
		return "", fmt.Errorf("%w: gone", search.ErrStoreNotFound)
	}
	if f.uploadFn != nil {
		return f.uploadFn(in)
	}
	return f.docID, nil
}

// stubAnalyzer returns a fixed analysis
type stubAnalyzer struct {
	analysis models.Analysis
	calls    int
}

func (s *stubAnalyzer) Analyze(context.Context, string, string) (*models.Analysis, error) {
	s.calls++
	a := s.analysis
	return &a, nil
}

// stubOCR returns fixed text or an error
type stubOCR struct {
	text  string
	err   error
	calls int
}

func (s *stubOCR) OCR(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}
