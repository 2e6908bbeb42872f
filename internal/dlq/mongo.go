package dlq

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"contextbus/internal/constants"
)

const dlqCollection = "dead_letters"

// MongoStore persists DLQ entries in MongoDB. Index and TTL management
// lives in pkg/migrations and runs at startup.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(dlqCollection)}
}

func (s *MongoStore) Enqueue(ctx context.Context, entry Entry) error {
	filter := bson.M{"tenant_id": entry.TenantID, "message_id": entry.MessageID}
	update := bson.M{"$set": entry}
	opts := options.Update().SetUpsert(true)

	if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to enqueue DLQ entry: %w", err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}

	query := bson.M{"tenant_id": tenantID}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	if filter.ConsumerID != "" {
		query["consumer_id"] = filter.ConsumerID
	}
	if !filter.Since.IsZero() {
		query["moved_at"] = bson.M{"$gte": filter.Since}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "moved_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode DLQ entries: %w", err)
	}
	return entries, nil
}

func (s *MongoStore) Get(ctx context.Context, tenantID, messageID string) (Entry, bool, error) {
	query := bson.M{"tenant_id": tenantID, "message_id": messageID}

	var entry Entry
	err := s.collection.FindOne(ctx, query).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get DLQ entry: %w", err)
	}
	return entry, true, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.collection.Database().Client().Disconnect(ctx)
}
