package session

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type sessionDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	ExpiresAt time.Time          `bson:"expiresAt"`
}

// MongoStore keeps sessions in the "sessions" collection. A TTL index
// on expiresAt purges them physically; Manager enforces expiry
// logically on every lookup.
type MongoStore struct {
	sessions *mongo.Collection
}

func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	sessions := db.Collection("sessions")
	_, err := sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("session ttl index: %w", err)
	}
	return &MongoStore{sessions: sessions}, nil
}

func (s *MongoStore) Create(ctx context.Context, userID primitive.ObjectID, expiresAt time.Time) (string, error) {
	doc := sessionDoc{ID: primitive.NewObjectID(), UserID: userID, ExpiresAt: expiresAt}
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (s *MongoStore) Lookup(ctx context.Context, sessionID string) (Session, error) {
	id, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("parse session id: %w", err)
	}
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	return Session{ID: doc.ID.Hex(), UserID: doc.UserID, ExpiresAt: doc.ExpiresAt}, nil
}

func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	id, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
