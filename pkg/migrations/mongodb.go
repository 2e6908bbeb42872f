package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoCollections creates the dead letter collection indexes.
// The TTL index on retained_until makes the database reclaim entries
// past their retention deadline.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("dead_letters")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_tenant_message").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "moved_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_tenant_moved_at"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_type", Value: 1}, {Key: "moved_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_tenant_event_moved_at"),
		},
		{
			Keys:    bson.D{{Key: "retained_until", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_retention").SetExpireAfterSeconds(0),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
