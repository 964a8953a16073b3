// Package cache provides the access-token record lookup cache that fronts
// the persistent store on the token validation path. Entries are evicted on
// revocation; the cache never answers the linked-refresh-token activity
// check, so it cannot mask a revocation.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token id is not cached.
var ErrNotFound = errors.New("token not cached")

// TokenEntry mirrors the revocation-tracking fields of an access token
// record. The token content itself lives in the signed JWT.
type TokenEntry struct {
	TokenID        string    `json:"token_id"`
	PrincipalID    string    `json:"principal_id"`
	ClientID       string    `json:"client_id"`
	RefreshTokenID string    `json:"refresh_token_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TokenStore caches access token records keyed by token id.
type TokenStore interface {
	Set(ctx context.Context, entry *TokenEntry) error
	Get(ctx context.Context, tokenID string) (*TokenEntry, error)
	Delete(ctx context.Context, tokenID string) error
	DeleteExpired(ctx context.Context) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) int
}
