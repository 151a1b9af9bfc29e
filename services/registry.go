package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/models"
)

// DocumentStore persists logical documents and their versions
type DocumentStore interface {
	ResolveDocument(ctx context.Context, doc *models.LogicalDocument) (*models.LogicalDocument, error)
	InsertVersion(ctx context.Context, v *models.DocumentVersion) error
	PromoteVersion(ctx context.Context, documentID, versionID primitive.ObjectID) error
	ListVersions(ctx context.Context, documentID primitive.ObjectID) ([]models.DocumentVersion, error)
}

// LinkRequest ties an indexed upload to its logical document
type LinkRequest struct {
	Metadata         models.DocumentMetadata
	BlobID           primitive.ObjectID
	SearchDocumentID string
	StoreName        string
	Notes            string
}

// Registry is the sole writer of logical documents and versions
type Registry struct {
	store  DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(store DocumentStore, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CanonicalTitle names the logical document a file belongs to. Ordinances keep
// one identity across years; everything else is dated.
func CanonicalTitle(meta models.DocumentMetadata) string {
	var parts []string
	if tenant := meta.TenantKey(); tenant != "" {
		parts = append(parts, titleCase(tenant))
	}
	if meta.Board != "" {
		parts = append(parts, meta.Board)
	}
	if meta.Category != "" {
		parts = append(parts, titleCase(meta.Category))
	}
	if meta.Category != "ordinance" {
		switch {
		case meta.MeetingDate != "":
			parts = append(parts, meta.MeetingDate)
		case meta.Year != 0:
			parts = append(parts, strconv.Itoa(meta.Year))
		}
	}
	if meta.Category == models.UncategorizedCategory && meta.Filename != "" {
		parts = append(parts, meta.Filename)
	}
	return strings.Join(parts, " ")
}

// LinkVersion resolves (or creates) the logical document, inserts a new
// version and makes it the only current one.
func (r *Registry) LinkVersion(ctx context.Context, req LinkRequest) (*models.DocumentVersion, error) {
	if req.SearchDocumentID == "" {
		return nil, fmt.Errorf("link version: empty search document id")
	}
	meta := req.Metadata
	doc, err := r.store.ResolveDocument(ctx, &models.LogicalDocument{
		CanonicalTitle: CanonicalTitle(meta),
		Town:           meta.TenantKey(),
		Board:          meta.Board,
		Category:       meta.Category,
	})
	if err != nil {
		return nil, err
	}

	version := &models.DocumentVersion{
		DocumentID:        doc.ID,
		BlobID:            req.BlobID,
		Year:              meta.Year,
		Notes:             req.Notes,
		StoreName:         req.StoreName,
		SearchDocumentID:  req.SearchDocumentID,
		PreviousVersionID: doc.CurrentVersionID,
		IsMinutes:         meta.IsMinutes,
		MeetingDate:       meta.MeetingDate,
		CreatedAt:         r.now(),
	}
	if err := r.store.InsertVersion(ctx, version); err != nil {
		return nil, err
	}
	if err := r.store.PromoteVersion(ctx, doc.ID, version.ID); err != nil {
		return nil, err
	}
	version.IsCurrent = true

	r.logger.Info("Linked document version",
		"document_id", doc.ID.Hex(),
		"version_id", version.ID.Hex(),
		"title", doc.CanonicalTitle,
		"town", doc.Town,
	)
	return version, nil
}

func (r *Registry) Versions(ctx context.Context, documentID primitive.ObjectID) ([]models.DocumentVersion, error) {
	return r.store.ListVersions(ctx, documentID)
}
