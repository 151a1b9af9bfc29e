package database

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionBlobs     = "file_blobs"
	CollectionDocuments = "logical_documents"
	CollectionVersions  = "document_versions"
	CollectionJobs      = "ingestion_jobs"
	CollectionSync      = "sync_records"
	CollectionStores    = "search_stores"
)

// EnsureIndexes creates every index the ingestion pipeline relies on. Unique
// indexes back the dedup and idempotency guarantees, so this must run before
// any writer starts.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionBlobs: {
			{Keys: bson.D{{Key: "content_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "preview_hash", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "ocr_status", Value: 1}, {Key: "ocr_queued_at", Value: 1}}},
		},
		CollectionDocuments: {
			{Keys: bson.D{{Key: "canonical_title", Value: 1}, {Key: "town", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollectionVersions: {
			{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "blob_id", Value: 1}}},
		},
		CollectionJobs: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "blob_id", Value: 1}}},
		},
		CollectionSync: {
			{Keys: bson.D{{Key: "source_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "discovered_at", Value: 1}}},
			{Keys: bson.D{{Key: "town", Value: 1}, {Key: "status", Value: 1}}},
		},
		CollectionStores: {
			{Keys: bson.D{{Key: "tenant_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	slog.Info("MongoDB indexes ensured", "collections", len(indexes))
	return nil
}

// Repositories bundles the collection-level stores used by services
type Repositories struct {
	Blobs     *BlobRepo
	Documents *DocumentRepo
	Jobs      *JobRepo
	Sync      *SyncRepo
	Stores    *StoreRepo
}

func NewRepositories(db *mongo.Database) *Repositories {
	return &Repositories{
		Blobs:     NewBlobRepo(db),
		Documents: NewDocumentRepo(db),
		Jobs:      NewJobRepo(db),
		Sync:      NewSyncRepo(db),
		Stores:    NewStoreRepo(db),
	}
}

func notFound(err error) bool {
	return err == mongo.ErrNoDocuments
}
