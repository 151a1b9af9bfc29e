package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"civic-ingest/models"
)

// DocumentRepo owns logical_documents and document_versions
type DocumentRepo struct {
	client   *mongo.Client
	docs     *mongo.Collection
	versions *mongo.Collection
}

func NewDocumentRepo(db *mongo.Database) *DocumentRepo {
	return &DocumentRepo{
		client:   db.Client(),
		docs:     db.Collection(CollectionDocuments),
		versions: db.Collection(CollectionVersions),
	}
}

// ResolveDocument returns the document identified by (canonical_title, town),
// creating it from doc when absent. Concurrent resolvers converge on one row.
func (r *DocumentRepo) ResolveDocument(ctx context.Context, doc *models.LogicalDocument) (*models.LogicalDocument, error) {
	now := time.Now().UTC()
	filter := bson.M{"canonical_title": doc.CanonicalTitle, "town": doc.Town}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":             primitive.NewObjectID(),
			"canonical_title": doc.CanonicalTitle,
			"town":            doc.Town,
			"board":           doc.Board,
			"category":        doc.Category,
			"created_at":      now,
			"updated_at":      now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var resolved models.LogicalDocument
	err := r.docs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&resolved)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		// Lost the upsert race; the winner's row is there now.
		err = r.docs.FindOne(ctx, filter).Decode(&resolved)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve document %q: %w", doc.CanonicalTitle, err)
	}
	return &resolved, nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, id primitive.ObjectID) (*models.LogicalDocument, error) {
	var doc models.LogicalDocument
	if err := r.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// InsertVersion writes a version row with is_current=false; PromoteVersion makes it current
func (r *DocumentRepo) InsertVersion(ctx context.Context, v *models.DocumentVersion) error {
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	v.IsCurrent = false
	if _, err := r.versions.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListVersions(ctx context.Context, documentID primitive.ObjectID) ([]models.DocumentVersion, error) {
	cursor, err := r.versions.Find(ctx, bson.M{"document_id": documentID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var versions []models.DocumentVersion
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// PromoteVersion makes versionID the only current version of documentID and
// re-points the document, all inside one transaction.
func (r *DocumentRepo) PromoteVersion(ctx context.Context, documentID, versionID primitive.ObjectID) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, r.promote(sc, documentID, versionID)
	})
	if err != nil && transactionsUnsupported(err) {
		slog.Warn("MongoDB transactions unavailable, promoting version without a transaction",
			"document_id", documentID.Hex(), "version_id", versionID.Hex())
		return r.promote(ctx, documentID, versionID)
	}
	if err != nil {
		return fmt.Errorf("promote version %s: %w", versionID.Hex(), err)
	}
	return nil
}

// promote runs the three writes. Outside a transaction the document pointer is
// moved first so readers that follow current_version_id always land on one row.
func (r *DocumentRepo) promote(ctx context.Context, documentID, versionID primitive.ObjectID) error {
	res, err := r.docs.UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{"current_version_id": versionID, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}

	if _, err := r.versions.UpdateOne(ctx,
		bson.M{"_id": versionID, "document_id": documentID},
		bson.M{"$set": bson.M{"is_current": true}},
	); err != nil {
		return err
	}

	_, err = r.versions.UpdateMany(ctx,
		bson.M{"document_id": documentID, "_id": bson.M{"$ne": versionID}, "is_current": true},
		bson.M{"$set": bson.M{"is_current": false}},
	)
	return err
}

func transactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == 20 {
		return true
	}
	return strings.Contains(err.Error(), "Transaction numbers are only allowed on a replica set")
}
