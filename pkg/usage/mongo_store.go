package usage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/courseloop/courseloop/pkg/plan"
)

const recordsCollection = "usage_records"

// MongoStore implements Store on the platform's document database.
type MongoStore struct {
	records *mongo.Collection
}

// NewMongoStore creates a store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{records: db.Collection(recordsCollection)}
}

// EnsureIndexes creates the unique compound index backing the one-record-per
// (user, feature, month) invariant. Call once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "apiName", Value: 1},
				{Key: "month", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "month", Value: 1}}},
	})
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Increment is a single findAndModify upsert: the $inc happens at the
// storage engine, so concurrent increments for the same tuple serialize
// there and none are lost.
func (s *MongoStore) Increment(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error) {
	var rec Record
	err := s.records.FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "apiName": feature, "month": month},
		bson.M{
			"$inc": bson.M{"count": 1},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&rec)
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return rec.Count, nil
}

func (s *MongoStore) Count(ctx context.Context, userID string, feature plan.Feature, month time.Time) (int64, error) {
	var rec Record
	err := s.records.FindOne(ctx,
		bson.M{"userId": userID, "apiName": feature, "month": month},
	).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return rec.Count, nil
}

func (s *MongoStore) DeleteBefore(ctx context.Context, month time.Time) (int64, error) {
	res, err := s.records.DeleteMany(ctx, bson.M{"month": bson.M{"$lt": month}})
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return res.DeletedCount, nil
}
