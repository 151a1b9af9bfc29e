package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"civic-ingest/internal/objectstore"
	"civic-ingest/internal/telemetry"
	"civic-ingest/models"
)

// ObjectLister pages through the source bucket
type ObjectLister interface {
	ListPage(ctx context.Context, prefix, token string, pageSize int) (objectstore.Page, error)
}

// SyncRegistrar inserts a ledger row unless its source key already exists
type SyncRegistrar interface {
	InsertIfAbsent(ctx context.Context, rec *models.SyncRecord) (bool, error)
}

// DiscoverSummary counts one discovery pass
type DiscoverSummary struct {
	Scanned  int `json:"scanned"`
	Eligible int `json:"eligible"`
	Added    int `json:"added"`
}

// Discovery registers previously unseen bucket objects as pending work
type Discovery struct {
	lister     ObjectLister
	ledger     SyncRegistrar
	extractor  *MetadataExtractor
	extensions map[string]bool
	pageSize   int
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

func NewDiscovery(lister ObjectLister, ledger SyncRegistrar, extractor *MetadataExtractor, extensions []string, metrics *telemetry.Metrics, logger *slog.Logger) *Discovery {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return &Discovery{
		lister:     lister,
		ledger:     ledger,
		extractor:  extractor,
		extensions: allowed,
		pageSize:   1000,
		metrics:    metrics,
		logger:     logger,
	}
}

// Discover lists the bucket (optionally one town's prefix) and inserts new
// keys. Rerunning against an unchanged bucket adds nothing.
func (d *Discovery) Discover(ctx context.Context, tenantFilter string) (DiscoverSummary, error) {
	var summary DiscoverSummary
	prefix := ""
	if tenantFilter != "" {
		prefix = strings.Trim(tenantFilter, "/") + "/"
	}
	logCtx := d.logger.With("prefix", prefix)
	logCtx.Info("Starting discovery")

	token := ""
	for {
		page, err := d.lister.ListPage(ctx, prefix, token, d.pageSize)
		if err != nil {
			return summary, err
		}

		for _, obj := range page.Objects {
			summary.Scanned++
			if !d.Eligible(obj.Key) {
				continue
			}
			summary.Eligible++

			meta := d.safeExtract(obj.Key)
			added, err := d.ledger.InsertIfAbsent(ctx, &models.SyncRecord{
				SourceKey: obj.Key,
				Town:      meta.Town,
				Category:  meta.Category,
				Board:     meta.Board,
				Year:      meta.Year,
			})
			if err != nil {
				return summary, fmt.Errorf("register %s: %w", obj.Key, err)
			}
			if added {
				summary.Added++
				logCtx.Debug("Discovered new file", "key", obj.Key, "town", meta.Town)
			}
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	d.metrics.RecordDiscovered(ctx, summary.Added)
	logCtx.Info("Discovery complete", "scanned", summary.Scanned, "eligible", summary.Eligible, "added", summary.Added)
	return summary, nil
}

// Eligible reports whether a key has an allowed extension
func (d *Discovery) Eligible(key string) bool {
	return d.extensions[strings.ToLower(path.Ext(key))]
}

func (d *Discovery) safeExtract(key string) (meta models.DocumentMetadata) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Metadata extraction panicked, using defaults", "key", key, "panic", r)
			meta = models.DocumentMetadata{
				Town:     models.UnknownTown,
				Category: models.UncategorizedCategory,
				Filename: path.Base(key),
			}
		}
	}()
	return d.extractor.Extract(key)
}
