// Package mongodb implements the domain repositories on MongoDB. Every
// repository takes its collection from an injected *mongo.Database; there is
// no package-level connection state.
package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const (
	RefreshTokensCollection     = "oidc_refresh_tokens"
	AccessTokensCollection      = "oidc_access_tokens"
	ConsentsCollection          = "oidc_consents"
	SectorIdentifiersCollection = "oidc_sector_identifiers"
	ClientsCollection           = "oidc_clients"
	ProfilesCollection          = "oidc_profiles"
)

// Connect establishes an instrumented MongoDB connection and verifies it with
// a ping against the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info().Str("uri", uri).Msg("connected to MongoDB")
	return client, nil
}

// Transactor runs functions inside a MongoDB multi-document transaction.
// Requires a replica set or mongos.
type Transactor struct {
	client *mongo.Client
}

func NewTransactor(client *mongo.Client) *Transactor {
	return &Transactor{client: client}
}

func (t *Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := t.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the repositories rely on. Safe to call on
// every startup; existing indexes are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(RefreshTokensCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "principal_id", Value: 1},
				{Key: "client_id", Value: 1},
				{Key: "last_used_at", Value: 1},
			},
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(AccessTokensCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "refresh_token_id", Value: 1}},
		},
		{
			// Expired records are garbage, the signed expiry already ended the
			// token's life.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(ConsentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "client_id", Value: 1},
				{Key: "scope_hash", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "granted_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(365 * 24 * 3600),
		},
	})
	return err
}
