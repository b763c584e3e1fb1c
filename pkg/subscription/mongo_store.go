package subscription

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/courseloop/courseloop/pkg/plan"
)

const (
	usersCollection  = "users"
	eventsCollection = "billing_webhook_events"
)

// paidStatuses are the statuses the expiry sweep may transition out of.
var paidStatuses = bson.A{StatusActive, StatusTrialing, StatusCancelled}

// MongoStore implements UserStore on the platform's document database.
// All writes are targeted field updates on the subscription sub-document;
// the guards the interface requires live in the update filters so they hold
// under concurrent writers.
type MongoStore struct {
	users  *mongo.Collection
	events *mongo.Collection
}

// NewMongoStore creates a store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users:  db.Collection(usersCollection),
		events: db.Collection(eventsCollection),
	}
}

// EnsureIndexes creates the indexes the store's queries rely on.
// Call once at startup; index creation is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subscription.stripeCustomerId", Value: 1}},
			Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "subscription.status", Value: 1}, {Key: "subscription.expiryDate", Value: 1}}},
	})
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return &u, nil
}

func (s *MongoStore) GetByCustomerID(ctx context.Context, customerID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"subscription.stripeCustomerId": customerID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return &u, nil
}

func (s *MongoStore) Activate(ctx context.Context, userID string, act Activation) (bool, error) {
	// Extension guard: only apply when the stored expiry is absent or
	// earlier. Replayed checkout events fail the guard and change nothing.
	filter := bson.M{
		"_id": userID,
		"$or": bson.A{
			bson.M{"subscription.expiryDate": bson.M{"$exists": false}},
			bson.M{"subscription.expiryDate": nil},
			bson.M{"subscription.expiryDate": bson.M{"$lt": act.ExpiryDate}},
		},
	}
	set := bson.M{
		"subscription.tier":                act.Tier,
		"subscription.plan":                act.Tier,
		"subscription.status":              StatusActive,
		"subscription.expiryDate":          act.ExpiryDate,
		"subscription.autoRenew":           true,
		"subscription.renewalReminderSent": false,
	}
	if act.Refs.CustomerID != "" {
		set["subscription.stripeCustomerId"] = act.Refs.CustomerID
	}
	if act.Refs.SubscriptionID != "" {
		set["subscription.stripeSubscriptionId"] = act.Refs.SubscriptionID
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"subscription.renewalReminderSentAt": ""},
	}
	if act.Event != nil {
		filter["billingHistory.reference"] = bson.M{"$ne": act.Event.Reference}
		update["$push"] = bson.M{"billingHistory": *act.Event}
	}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return s.rejectOrMissing(ctx, userID)
	}
	return true, nil
}

func (s *MongoStore) UpdateFromProvider(ctx context.Context, userID string, upd ProviderUpdate) error {
	set := bson.M{
		"subscription.status":    upd.Status,
		"subscription.autoRenew": upd.AutoRenew,
	}
	if upd.Status == StatusExpired {
		// An expired status must carry the free tier in the same write; a
		// lapsed status with a paid tier would escape the sweep predicates.
		set["subscription.tier"] = plan.TierFree
		set["subscription.plan"] = plan.TierFree
		set["subscription.downgradedAt"] = time.Now().UTC()
	}
	unset := bson.M{}
	if upd.ExpiryDate != nil {
		set["subscription.expiryDate"] = *upd.ExpiryDate
		// A provider-set period end is a renewal from the reminder's point of
		// view: re-arm it for the new period.
		set["subscription.renewalReminderSent"] = false
		unset["subscription.renewalReminderSentAt"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) Cancel(ctx context.Context, userID string, at time.Time) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "subscription.status": StatusActive},
		bson.M{"$set": bson.M{
			"subscription.status":     StatusCancelled,
			"subscription.autoRenew":  false,
			"subscription.canceledAt": at,
		}},
	)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return s.rejectOrMissing(ctx, userID)
	}
	return true, nil
}

func (s *MongoStore) DowngradeToFree(ctx context.Context, userID string, at time.Time) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$set": bson.M{
				"subscription.tier":         plan.TierFree,
				"subscription.plan":         plan.TierFree,
				"subscription.status":       StatusExpired,
				"subscription.autoRenew":    false,
				"subscription.downgradedAt": at,
			},
			"$unset": bson.M{"subscription.expiryDate": ""},
		},
	)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) MarkExpired(ctx context.Context, userID string, at time.Time, ev *BillingEvent) (bool, error) {
	filter := bson.M{
		"_id":                 userID,
		"subscription.status": bson.M{"$ne": StatusExpired},
	}
	update := bson.M{"$set": bson.M{
		"subscription.tier":         plan.TierFree,
		"subscription.plan":         plan.TierFree,
		"subscription.status":       StatusExpired,
		"subscription.autoRenew":    false,
		"subscription.downgradedAt": at,
	}}
	if ev != nil {
		filter["billingHistory.reference"] = bson.M{"$ne": ev.Reference}
		update["$push"] = bson.M{"billingHistory": *ev}
	}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return s.rejectOrMissing(ctx, userID)
	}
	return true, nil
}

func (s *MongoStore) ApplyExpiryIfDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{
			"_id":                     userID,
			"subscription.status":     bson.M{"$in": paidStatuses},
			"subscription.expiryDate": bson.M{"$ne": nil, "$lt": now},
		},
		bson.M{"$set": bson.M{
			"subscription.tier":         plan.TierFree,
			"subscription.plan":         plan.TierFree,
			"subscription.status":       StatusExpired,
			"subscription.downgradedAt": now,
			// expiryDate intentionally kept for audit
		}},
	)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) ListExpiring(ctx context.Context, now time.Time) ([]string, error) {
	return s.listIDs(ctx, bson.M{
		"subscription.status":     bson.M{"$in": paidStatuses},
		"subscription.expiryDate": bson.M{"$ne": nil, "$lt": now},
	})
}

func (s *MongoStore) ListRenewalsDue(ctx context.Context, from, to time.Time) ([]string, error) {
	return s.listIDs(ctx, bson.M{
		"subscription.status":              bson.M{"$in": bson.A{StatusActive, StatusTrialing}},
		"subscription.expiryDate":          bson.M{"$gte": from, "$lte": to},
		"subscription.renewalReminderSent": bson.M{"$ne": true},
	})
}

func (s *MongoStore) MarkReminded(ctx context.Context, userID string, at time.Time) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "subscription.renewalReminderSent": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"subscription.renewalReminderSent":   true,
			"subscription.renewalReminderSentAt": at,
		}},
	)
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) AppendBillingEvent(ctx context.Context, userID string, ev BillingEvent) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$push": bson.M{"billingHistory": ev}},
	)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	err := s.events.FindOne(ctx, bson.M{"_id": eventID},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return true, nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.events.InsertOne(ctx, bson.M{
		"_id":         eventID,
		"processedAt": time.Now().UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *MongoStore) listIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cur, err := s.users.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// rejectOrMissing distinguishes a guard-rejected conditional update from a
// missing user after MatchedCount == 0.
func (s *MongoStore) rejectOrMissing(ctx context.Context, userID string) (bool, error) {
	err := s.users.FindOne(ctx, bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, errors.Join(ErrStoreUnavailable, err)
	}
	return false, nil
}
