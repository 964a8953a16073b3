package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.scistack.dev/oidc/domain"
)

// ConsentRepository implements domain.ConsentRepository.
type ConsentRepository struct {
	coll *mongo.Collection
}

func NewConsentRepository(db *mongo.Database) *ConsentRepository {
	return &ConsentRepository{coll: db.Collection(ConsentsCollection)}
}

func (r *ConsentRepository) Get(ctx context.Context, userID, clientID, scopeHash string) (*domain.ConsentRecord, error) {
	var record domain.ConsentRecord
	err := r.coll.FindOne(ctx, bson.M{
		"user_id":    userID,
		"client_id":  clientID,
		"scope_hash": scopeHash,
	}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Put upserts so repeating an identical grant refreshes GrantedAt.
func (r *ConsentRepository) Put(ctx context.Context, record *domain.ConsentRecord) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{
		"user_id":    record.UserID,
		"client_id":  record.ClientID,
		"scope_hash": record.ScopeHash,
	}, record, options.Replace().SetUpsert(true))
	return err
}

func (r *ConsentRepository) DeleteAllForPair(ctx context.Context, userID, clientID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"user_id": userID, "client_id": clientID})
	return err
}
