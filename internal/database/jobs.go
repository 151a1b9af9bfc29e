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

// JobRepo persists ingestion jobs. Status only changes through Transition.
type JobRepo struct {
	col *mongo.Collection
}

func NewJobRepo(db *mongo.Database) *JobRepo {
	return &JobRepo{col: db.Collection(CollectionJobs)}
}

func (r *JobRepo) Insert(ctx context.Context, job *models.IngestionJob) error {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if _, err := r.col.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id primitive.ObjectID) (*models.IngestionJob, error) {
	var job models.IngestionJob
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&job); err != nil {
		if notFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepo) List(ctx context.Context, status models.JobStatus, limit int64) ([]models.IngestionJob, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []models.IngestionJob{}
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Transition moves a job from one status to another in a single conditional
// update keyed by (_id, from). from == to writes the patch without a status change.
func (r *JobRepo) Transition(ctx context.Context, id primitive.ObjectID, from, to models.JobStatus, patch models.JobPatch) (*models.IngestionJob, error) {
	set := bson.M{"status": to, "updated_at": time.Now().UTC()}
	unset := bson.M{}
	if patch.FinalMetadata != nil {
		set["final_metadata"] = patch.FinalMetadata
	}
	if patch.ErrorMessage != nil {
		if *patch.ErrorMessage == "" {
			unset["error_message"] = ""
		} else {
			set["error_message"] = *patch.ErrorMessage
		}
	}
	if patch.DocumentID != nil {
		set["document_id"] = patch.DocumentID
	}
	if patch.VersionID != nil {
		set["version_id"] = patch.VersionID
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var job models.IngestionJob
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&job)
	if err != nil {
		if notFound(err) {
			if _, getErr := r.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, models.ErrTransitionConflict
		}
		return nil, err
	}
	return &job, nil
}

// CountByStatus returns job totals keyed by status
func (r *JobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	cursor, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := map[models.JobStatus]int64{}
	for cursor.Next(ctx) {
		var row struct {
			Status models.JobStatus `bson:"_id"`
			Count  int64            `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}
