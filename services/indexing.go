package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"civic-ingest/internal/search"
	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
)

// SearchBackend is the managed search capability
type SearchBackend interface {
	CreateStore(ctx context.Context, displayName string) (string, error)
	UploadDocument(ctx context.Context, in search.UploadRequest) (string, error)
}

// StoreRegistry persists tenant -> store id
type StoreRegistry interface {
	Get(ctx context.Context, tenantKey string) (string, error)
	Save(ctx context.Context, tenantKey, storeName string) error
	Delete(ctx context.Context, tenantKey string) error
}

// UploadInput is one document bound for the search backend. Text, when set,
// is uploaded as a plain-text surrogate instead of the file at FilePath.
type UploadInput struct {
	Metadata  models.DocumentMetadata
	SourceKey string
	FilePath  string
	MimeType  string
	Text      string
}

// UploadResult identifies where a document landed
type UploadResult struct {
	DocumentID string
	StoreName  string
}

// IndexingClient uploads documents into per-tenant search stores
type IndexingClient struct {
	backend SearchBackend
	stores  StoreRegistry
	cache   StoreCache
	metrics *telemetry.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewIndexingClient(backend SearchBackend, stores StoreRegistry, cache StoreCache, metrics *telemetry.Metrics, logger *slog.Logger) *IndexingClient {
	return &IndexingClient{
		backend: backend,
		stores:  stores,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// GetOrCreateStore resolves the tenant's store: cache, then database, then a
// lazy remote create.
func (c *IndexingClient) GetOrCreateStore(ctx context.Context, tenantKey string) (string, error) {
	if id, ok := c.cache.Get(ctx, tenantKey); ok {
		return id, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.cache.Get(ctx, tenantKey); ok {
		return id, nil
	}

	id, err := c.stores.Get(ctx, tenantKey)
	if err == nil {
		c.cache.Set(ctx, tenantKey, id)
		return id, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("lookup store for %s: %w", tenantKey, err)
	}

	id, err = c.backend.CreateStore(ctx, tenantKey)
	if err != nil {
		return "", err
	}
	if err := c.stores.Save(ctx, tenantKey, id); err != nil {
		return "", fmt.Errorf("save store for %s: %w", tenantKey, err)
	}
	c.cache.Set(ctx, tenantKey, id)
	c.logger.Info("Created search store", "tenant", tenantKey, "store", id)
	return id, nil
}

func (c *IndexingClient) forgetStore(ctx context.Context, tenantKey string) {
	c.cache.Invalidate(ctx, tenantKey)
	if err := c.stores.Delete(ctx, tenantKey); err != nil {
		c.logger.Warn("Failed to forget stale store", "tenant", tenantKey, "error", err)
	}
}

// Upload sends one document and returns its non-empty remote id. A store that
// vanished remotely is recreated and the upload retried once.
func (c *IndexingClient) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.upload")
	defer span.End()

	tenant := in.Metadata.TenantKey()
	req := search.UploadRequest{
		DisplayName: BuildDisplayName(in.Metadata),
		MimeType:    in.MimeType,
		Metadata:    BuildSearchMetadata(in.Metadata, in.SourceKey),
		FilePath:    in.FilePath,
	}
	kind := "binary"
	if in.Text != "" {
		req.FilePath = ""
		req.Content = []byte(in.Text)
		req.MimeType = MimeText
		kind = "ocr_text"
	}
	span.SetAttributes(attribute.String("ingest.tenant", tenant), attribute.String("ingest.upload_kind", kind))

	var result UploadResult
	for attempt := 0; attempt < 2; attempt++ {
		storeID, err := c.GetOrCreateStore(ctx, tenant)
		if err != nil {
			return result, err
		}
		req.StoreID = storeID

		docID, err := c.backend.UploadDocument(ctx, req)
		if errors.Is(err, search.ErrStoreNotFound) && attempt == 0 {
			c.logger.Warn("Search store missing, recreating", "tenant", tenant, "store", storeID)
			c.forgetStore(ctx, tenant)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("upload %s: %w", req.DisplayName, err)
		}
		if docID == "" {
			return result, search.ErrMissingDocumentID
		}

		c.metrics.RecordUpload(ctx, kind)
		return UploadResult{DocumentID: docID, StoreName: storeID}, nil
	}
	return result, fmt.Errorf("upload %s: %w", req.DisplayName, search.ErrStoreNotFound)
}

// BuildDisplayName renders "Town - Board - Category - 2024-03-14"
func BuildDisplayName(meta models.DocumentMetadata) string {
	var parts []string
	if meta.Town != "" && meta.Town != models.UnknownTown {
		parts = append(parts, titleCase(meta.Town))
	}
	if meta.Board != "" {
		parts = append(parts, meta.Board)
	}
	if meta.Category != "" && meta.Category != models.UncategorizedCategory {
		parts = append(parts, titleCase(meta.Category))
	}
	switch {
	case meta.MeetingDate != "":
		parts = append(parts, meta.MeetingDate)
	case meta.Year != 0:
		parts = append(parts, strconv.Itoa(meta.Year))
	}
	if len(parts) == 0 {
		return meta.Filename
	}
	return strings.Join(parts, " - ")
}

// BuildSearchMetadata returns the filterable pairs attached to a remote document
func BuildSearchMetadata(meta models.DocumentMetadata, sourceKey string) []search.MetadataEntry {
	source := sourceKey
	if source == "" && meta.Filename != "" {
		source = "upload:" + meta.Filename
	}
	pairs := [][2]string{
		{"town", meta.TenantKey()},
		{"category", meta.Category},
		{"board", meta.Board},
		{"year", meta.YearString()},
		{"source", source},
		{"isMinutes", strconv.FormatBool(meta.IsMinutes)},
		{"meetingDate", meta.MeetingDate},
	}
	entries := make([]search.MetadataEntry, 0, len(pairs))
	for _, p := range pairs {
		if p[1] != "" {
			entries = append(entries, search.MetadataEntry{Key: p[0], StringValue: p[1]})
		}
	}
	return entries
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
