// Package redis implements the token cache on a shared Redis instance, for
// deployments running more than one provider process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.scistack.dev/oidc/cache"
)

// TokenStore implements cache.TokenStore using Redis.
type TokenStore struct {
	client *redis.Client
	prefix string
}

// NewTokenStore creates a Redis-backed token store. The prefix namespaces
// keys when the Redis instance is shared.
func NewTokenStore(client *redis.Client, prefix string) *TokenStore {
	return &TokenStore{client: client, prefix: prefix}
}

func (s *TokenStore) key(tokenID string) string {
	return fmt.Sprintf("%s:access_token:%s", s.prefix, tokenID)
}

// Set stores an entry with a TTL matching the token's expiry.
func (s *TokenStore) Set(ctx context.Context, entry *cache.TokenEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal token entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(entry.TokenID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, tokenID string) (*cache.TokenEntry, error) {
	payload, err := s.client.Get(ctx, s.key(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w", err)
	}
	var entry cache.TokenEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token entry: %w", err)
	}
	return &entry, nil
}

func (s *TokenStore) Delete(ctx context.Context, tokenID string) error {
	return s.client.Del(ctx, s.key(tokenID)).Err()
}

// DeleteExpired is a no-op: Redis expires keys by TTL.
func (s *TokenStore) DeleteExpired(_ context.Context) error {
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.key("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *TokenStore) Count(ctx context.Context) int {
	var count int
	iter := s.client.Scan(ctx, 0, s.key("*"), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}
