package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.scistack.dev/oidc/domain"
)

// RefreshTokenRepository implements domain.RefreshTokenRepository.
type RefreshTokenRepository struct {
	coll *mongo.Collection
}

func NewRefreshTokenRepository(db *mongo.Database) *RefreshTokenRepository {
	return &RefreshTokenRepository{coll: db.Collection(RefreshTokensCollection)}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, record *domain.RefreshTokenRecord) error {
	_, err := r.coll.InsertOne(ctx, record)
	return err
}

func (r *RefreshTokenRepository) GetByID(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	return r.findOne(ctx, bson.M{"_id": tokenID})
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshTokenRecord, error) {
	return r.findOne(ctx, bson.M{"token_hash": tokenHash})
}

// SwapHash is the rotation primitive. FindOneAndUpdate matches on the old
// hash, so two concurrent rotations of the same token race on one document
// and exactly one of them matches.
func (r *RefreshTokenRepository) SwapHash(ctx context.Context, oldHash, newHash string, activeAfter, now time.Time, newEtag string) (*domain.RefreshTokenRecord, error) {
	filter := bson.M{
		"token_hash":   oldHash,
		"last_used_at": bson.M{"$gt": activeAfter},
	}
	update := bson.M{"$set": bson.M{
		"token_hash":   newHash,
		"last_used_at": now,
		"etag":         newEtag,
	}}

	var record domain.RefreshTokenRecord
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return &record, nil
}

func (r *RefreshTokenRepository) UpdateMetadata(ctx context.Context, record *domain.RefreshTokenRecord) error {
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": record.TokenID}, bson.M{"$set": bson.M{
		"name":        record.Name,
		"etag":        record.Etag,
		"modified_at": record.ModifiedAt,
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenID string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": tokenID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteAllForPair(ctx context.Context, principalID, clientID string) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"principal_id": principalID, "client_id": clientID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// TrimOverLimit deletes the least recently used records of the pair beyond
// max. Runs inside the creation transaction, so count and delete are
// consistent.
func (r *RefreshTokenRepository) TrimOverLimit(ctx context.Context, principalID, clientID string, max int64) (int64, error) {
	pair := bson.M{"principal_id": principalID, "client_id": clientID}

	count, err := r.coll.CountDocuments(ctx, pair)
	if err != nil {
		return 0, err
	}
	if count <= max {
		return 0, nil
	}

	cursor, err := r.coll.Find(ctx, pair,
		options.Find().
			SetSort(bson.D{{Key: "last_used_at", Value: 1}}).
			SetLimit(count-max).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return 0, err
	}
	var victims []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &victims); err != nil {
		return 0, err
	}

	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	result, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *RefreshTokenRepository) ListActiveForPair(ctx context.Context, principalID, clientID string, activeAfter time.Time) ([]*domain.RefreshTokenRecord, error) {
	cursor, err := r.coll.Find(ctx, bson.M{
		"principal_id": principalID,
		"client_id":    clientID,
		"last_used_at": bson.M{"$gt": activeAfter},
	}, options.Find().SetSort(bson.D{{Key: "last_used_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var records []*domain.RefreshTokenRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *RefreshTokenRepository) findOne(ctx context.Context, filter bson.M) (*domain.RefreshTokenRecord, error) {
	var record domain.RefreshTokenRecord
	err := r.coll.FindOne(ctx, filter).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
