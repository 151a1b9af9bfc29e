package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"civic-ingest/models"
)

// BlobRepo persists FileBlob rows. OCR fields are only written through the
// claim/complete/fail methods so status changes stay conditional.
type BlobRepo struct {
	col *mongo.Collection
}

func NewBlobRepo(db *mongo.Database) *BlobRepo {
	return &BlobRepo{col: db.Collection(CollectionBlobs)}
}

func (r *BlobRepo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.FileBlob, error) {
	var blob models.FileBlob
	if err := r.col.FindOne(ctx, filter, opts...).Decode(&blob); err != nil {
		if notFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &blob, nil
}

func (r *BlobRepo) Get(ctx context.Context, id primitive.ObjectID) (*models.FileBlob, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *BlobRepo) FindByHash(ctx context.Context, hash string) (*models.FileBlob, error) {
	return r.findOne(ctx, bson.M{"content_hash": hash})
}

// FindByPreviewHash returns the oldest blob sharing previewHash whose bytes differ from excludeHash
func (r *BlobRepo) FindByPreviewHash(ctx context.Context, previewHash, excludeHash string) (*models.FileBlob, error) {
	filter := bson.M{"preview_hash": previewHash}
	if excludeHash != "" {
		filter["content_hash"] = bson.M{"$ne": excludeHash}
	}
	return r.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

// Insert stores a new blob. A unique-index violation on content_hash maps to ErrDuplicate.
func (r *BlobRepo) Insert(ctx context.Context, blob *models.FileBlob) error {
	if blob.ID.IsZero() {
		blob.ID = primitive.NewObjectID()
	}
	if _, err := r.col.InsertOne(ctx, blob); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("insert blob: %w", err)
	}
	return nil
}

func (r *BlobRepo) RecordAnalysis(ctx context.Context, id primitive.ObjectID, preview, previewHash string, charCount int) error {
	set := bson.M{
		"preview_text":         preview,
		"extracted_char_count": charCount,
		"analyzed":             true,
	}
	if previewHash != "" {
		set["preview_hash"] = previewHash
	}
	return r.update(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

// QueueOCR marks a blob for OCR unless it is already queued, running or done
func (r *BlobRepo) QueueOCR(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "ocr_status": bson.M{"$in": bson.A{models.OCRStatusNone, models.OCRStatusFailed, ""}}},
		bson.M{"$set": bson.M{"ocr_status": models.OCRStatusQueued, "ocr_queued_at": now}},
	)
	return err
}

// staleClaim matches a processing row whose holder started before staleBefore.
// A consumer killed mid-OCR never releases its claim, so claims are leases.
func staleClaim(staleBefore time.Time) bson.M {
	return bson.M{"ocr_status": models.OCRStatusProcessing, "ocr_started_at": bson.M{"$lt": staleBefore}}
}

// ClaimOCR moves one specific blob into processing. Returns ErrTransitionConflict
// when another consumer holds a live claim or it is already completed.
func (r *BlobRepo) ClaimOCR(ctx context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.FileBlob, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"ocr_status": bson.M{"$in": bson.A{models.OCRStatusNone, models.OCRStatusQueued, models.OCRStatusFailed, ""}}},
			staleClaim(staleBefore),
		},
	}
	blob, err := r.claim(ctx, filter, nil, now)
	if err == models.ErrNotFound {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrTransitionConflict
	}
	return blob, err
}

// ClaimNextOCR atomically claims the oldest queued blob, or one whose claim
// expired. Concurrent consumers never receive the same row. Returns
// ErrNotFound when the queue is empty.
func (r *BlobRepo) ClaimNextOCR(ctx context.Context, now, staleBefore time.Time) (*models.FileBlob, error) {
	return r.claim(ctx,
		bson.M{"$or": bson.A{
			bson.M{"ocr_status": models.OCRStatusQueued},
			staleClaim(staleBefore),
		}},
		bson.D{{Key: "ocr_queued_at", Value: 1}, {Key: "_id", Value: 1}},
		now,
	)
}

func (r *BlobRepo) claim(ctx context.Context, filter bson.M, sort bson.D, now time.Time) (*models.FileBlob, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if sort != nil {
		opts.SetSort(sort)
	}
	var blob models.FileBlob
	err := r.col.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"ocr_status": models.OCRStatusProcessing, "ocr_started_at": now}},
		opts,
	).Decode(&blob)
	if err != nil {
		if notFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &blob, nil
}

func (r *BlobRepo) CompleteOCR(ctx context.Context, id primitive.ObjectID, text string, charCount int, now time.Time) error {
	return r.update(ctx,
		bson.M{"_id": id, "ocr_status": models.OCRStatusProcessing},
		bson.M{
			"$set": bson.M{
				"ocr_status":       models.OCRStatusCompleted,
				"ocr_text":         text,
				"ocr_char_count":   charCount,
				"ocr_completed_at": now,
			},
			"$unset": bson.M{"ocr_error": ""},
		},
	)
}

func (r *BlobRepo) FailOCR(ctx context.Context, id primitive.ObjectID, message string, now time.Time) error {
	return r.update(ctx,
		bson.M{"_id": id, "ocr_status": models.OCRStatusProcessing},
		bson.M{"$set": bson.M{
			"ocr_status":       models.OCRStatusFailed,
			"ocr_error":        message,
			"ocr_completed_at": now,
		}},
	)
}

func (r *BlobRepo) update(ctx context.Context, filter, update bson.M) error {
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, ok := filter["ocr_status"]; ok {
			return models.ErrTransitionConflict
		}
		return models.ErrNotFound
	}
	return nil
}

// CountByOCRStatus returns blob totals keyed by OCR status
func (r *BlobRepo) CountByOCRStatus(ctx context.Context) (map[models.OCRStatus]int64, error) {
	cursor, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$ocr_status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := map[models.OCRStatus]int64{}
	for cursor.Next(ctx) {
		var row struct {
			Status models.OCRStatus `bson:"_id"`
			Count  int64            `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}
