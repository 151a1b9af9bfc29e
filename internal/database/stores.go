package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"civic-ingest/models"
)

// StoreRepo remembers which remote search store serves each tenant
type StoreRepo struct {
	col *mongo.Collection
}

func NewStoreRepo(db *mongo.Database) *StoreRepo {
	return &StoreRepo{col: db.Collection(CollectionStores)}
}

func (r *StoreRepo) Get(ctx context.Context, tenantKey string) (string, error) {
	var row struct {
		StoreName string `bson:"store_name"`
	}
	if err := r.col.FindOne(ctx, bson.M{"tenant_key": tenantKey}).Decode(&row); err != nil {
		if notFound(err) {
			return "", models.ErrNotFound
		}
		return "", err
	}
	return row.StoreName, nil
}

func (r *StoreRepo) Save(ctx context.Context, tenantKey, storeName string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"tenant_key": tenantKey},
		bson.M{
			"$set":         bson.M{"store_name": storeName, "updated_at": time.Now().UTC()},
			"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *StoreRepo) Delete(ctx context.Context, tenantKey string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"tenant_key": tenantKey})
	return err
}
