package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.scistack.dev/oidc/domain"
)

// AccessTokenRepository implements domain.AccessTokenRepository.
type AccessTokenRepository struct {
	coll *mongo.Collection
}

func NewAccessTokenRepository(db *mongo.Database) *AccessTokenRepository {
	return &AccessTokenRepository{coll: db.Collection(AccessTokensCollection)}
}

func (r *AccessTokenRepository) Create(ctx context.Context, record *domain.AccessTokenRecord) error {
	_, err := r.coll.InsertOne(ctx, record)
	return err
}

func (r *AccessTokenRepository) Get(ctx context.Context, tokenID string) (*domain.AccessTokenRecord, error) {
	var record domain.AccessTokenRecord
	err := r.coll.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *AccessTokenRepository) Delete(ctx context.Context, tokenID string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": tokenID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AccessTokenRepository) DeleteByRefreshTokenID(ctx context.Context, refreshTokenID string) ([]string, error) {
	filter := bson.M{"refresh_token_id": refreshTokenID}

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if _, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *AccessTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
