package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenStore implements TokenStore with an in-process ttlcache.
type MemoryTokenStore struct {
	cache *ttlcache.Cache[string, *TokenEntry]
}

// NewMemoryTokenStore creates an in-memory token store with automatic
// expiry-based cleanup.
func NewMemoryTokenStore() *MemoryTokenStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *TokenEntry](),
	)
	go c.Start()

	return &MemoryTokenStore{cache: c}
}

// Set stores an entry until the token's own expiry.
func (s *MemoryTokenStore) Set(_ context.Context, entry *TokenEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(entry.TokenID, entry, ttl)
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, tokenID string) (*TokenEntry, error) {
	item := s.cache.Get(tokenID)
	if item == nil {
		return nil, ErrNotFound
	}
	return item.Value(), nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, tokenID string) error {
	s.cache.Delete(tokenID)
	return nil
}

func (s *MemoryTokenStore) DeleteExpired(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.cache.DeleteAll()
	return nil
}

func (s *MemoryTokenStore) Count(_ context.Context) int {
	return s.cache.Len()
}

// Stop terminates the background cleanup loop.
func (s *MemoryTokenStore) Stop() {
	s.cache.Stop()
}
