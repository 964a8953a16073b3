package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.scistack.dev/oidc/domain"
)

// SectorIdentifierRepository implements domain.SectorIdentifierRepository.
// Sector records are immutable once created: replacing a sector secret would
// silently change every subject identifier in the sector.
type SectorIdentifierRepository struct {
	coll *mongo.Collection
}

func NewSectorIdentifierRepository(db *mongo.Database) *SectorIdentifierRepository {
	return &SectorIdentifierRepository{coll: db.Collection(SectorIdentifiersCollection)}
}

func (r *SectorIdentifierRepository) Get(ctx context.Context, host string) (*domain.SectorIdentifier, error) {
	var sector domain.SectorIdentifier
	err := r.coll.FindOne(ctx, bson.M{"_id": host}).Decode(&sector)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sector, nil
}

func (r *SectorIdentifierRepository) Create(ctx context.Context, sector *domain.SectorIdentifier) error {
	_, err := r.coll.InsertOne(ctx, sector)
	return err
}
