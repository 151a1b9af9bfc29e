package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"civic-ingest/models"
)

// SyncRepo is the auto-sync ledger, one row per discovered source key
type SyncRepo struct {
	col *mongo.Collection
}

func NewSyncRepo(db *mongo.Database) *SyncRepo {
	return &SyncRepo{col: db.Collection(CollectionSync)}
}

// InsertIfAbsent registers rec as pending unless its source key is already
// known. Reports whether a new row was created.
func (r *SyncRepo) InsertIfAbsent(ctx context.Context, rec *models.SyncRecord) (bool, error) {
	now := time.Now().UTC()
	res, err := r.col.UpdateOne(ctx,
		bson.M{"source_key": rec.SourceKey},
		bson.M{"$setOnInsert": bson.M{
			"source_key":    rec.SourceKey,
			"town":          rec.Town,
			"category":      rec.Category,
			"board":         rec.Board,
			"year":          rec.Year,
			"status":        models.SyncStatusPending,
			"attempts":      0,
			"discovered_at": now,
			"updated_at":    now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("register %s: %w", rec.SourceKey, err)
	}
	return res.UpsertedCount > 0, nil
}

func (r *SyncRepo) Get(ctx context.Context, sourceKey string) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	if err := r.col.FindOne(ctx, bson.M{"source_key": sourceKey}).Decode(&rec); err != nil {
		if notFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListPending returns up to limit pending rows, oldest discovery first
func (r *SyncRepo) ListPending(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	return r.List(ctx, models.SyncFilter{Status: models.SyncStatusPending, Limit: int64(limit)})
}

// NextPending returns the oldest pending row, or ErrNotFound when the queue is drained
func (r *SyncRepo) NextPending(ctx context.Context) (*models.SyncRecord, error) {
	recs, err := r.ListPending(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, models.ErrNotFound
	}
	return &recs[0], nil
}

func (r *SyncRepo) List(ctx context.Context, f models.SyncFilter) ([]models.SyncRecord, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Town != "" {
		filter["town"] = f.Town
	}
	opts := options.Find().SetSort(bson.D{{Key: "discovered_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	recs := []models.SyncRecord{}
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// MarkSynced moves a pending row to synced
func (r *SyncRepo) MarkSynced(ctx context.Context, sourceKey, searchDocumentID string) error {
	now := time.Now().UTC()
	return r.finish(ctx, sourceKey, bson.M{
		"$set": bson.M{
			"status":             models.SyncStatusSynced,
			"search_document_id": searchDocumentID,
			"synced_at":          now,
			"updated_at":         now,
		},
		"$unset": bson.M{"error_message": ""},
		"$inc":   bson.M{"attempts": 1},
	})
}

// MarkFailed moves a pending row to failed with an already-truncated message
func (r *SyncRepo) MarkFailed(ctx context.Context, sourceKey, message string) error {
	return r.finish(ctx, sourceKey, bson.M{
		"$set": bson.M{
			"status":        models.SyncStatusFailed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		},
		"$inc": bson.M{"attempts": 1},
	})
}

func (r *SyncRepo) finish(ctx context.Context, sourceKey string, update bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"source_key": sourceKey, "status": models.SyncStatusPending}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := r.Get(ctx, sourceKey); err != nil {
			return err
		}
		return models.ErrTransitionConflict
	}
	return nil
}

// ResetFailed is the only way a failed row returns to pending. An empty town resets every tenant.
func (r *SyncRepo) ResetFailed(ctx context.Context, town string) (int64, error) {
	filter := bson.M{"status": models.SyncStatusFailed}
	if town != "" {
		filter["town"] = town
	}
	res, err := r.col.UpdateMany(ctx, filter, bson.M{
		"$set":   bson.M{"status": models.SyncStatusPending, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"error_message": ""},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// CountByStatus aggregates the ledger into per-status totals
func (r *SyncRepo) CountByStatus(ctx context.Context) (map[models.SyncStatus]int64, error) {
	cursor, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := map[models.SyncStatus]int64{
		models.SyncStatusPending: 0,
		models.SyncStatusSynced:  0,
		models.SyncStatusFailed:  0,
	}
	for cursor.Next(ctx) {
		var row struct {
			Status models.SyncStatus `bson:"_id"`
			Count  int64             `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}
