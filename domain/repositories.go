package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no record matches.
var ErrNotFound = errors.New("record not found")

// Transactor runs fn inside one storage transaction. Implementations must
// roll back when fn returns an error.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RefreshTokenRepository persists refresh token records. Only token hashes
// ever reach this interface.
type RefreshTokenRepository interface {
	Create(ctx context.Context, record *RefreshTokenRecord) error
	GetByID(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)
	GetByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)

	// SwapHash atomically replaces the hash of the record currently holding
	// oldHash, bumping LastUsedAt and Etag, provided the record was used
	// after activeAfter. The swap must serialize concurrent rotations of the
	// same token: exactly one caller wins, the rest get ErrNotFound.
	SwapHash(ctx context.Context, oldHash, newHash string, activeAfter, now time.Time, newEtag string) (*RefreshTokenRecord, error)

	// UpdateMetadata persists Name, Etag and ModifiedAt.
	UpdateMetadata(ctx context.Context, record *RefreshTokenRecord) error

	Delete(ctx context.Context, tokenID string) error
	DeleteAllForPair(ctx context.Context, principalID, clientID string) (int64, error)

	// TrimOverLimit deletes least-recently-used records of the pair until at
	// most max remain, returning the number deleted.
	TrimOverLimit(ctx context.Context, principalID, clientID string, max int64) (int64, error)

	// ListActiveForPair returns records of the pair used after activeAfter,
	// most recently used first.
	ListActiveForPair(ctx context.Context, principalID, clientID string, activeAfter time.Time) ([]*RefreshTokenRecord, error)
}

// AccessTokenRepository tracks issued access tokens for revocation.
type AccessTokenRepository interface {
	Create(ctx context.Context, record *AccessTokenRecord) error
	Get(ctx context.Context, tokenID string) (*AccessTokenRecord, error)
	Delete(ctx context.Context, tokenID string) error

	// DeleteByRefreshTokenID removes every access token chained to the given
	// refresh token and returns the deleted token IDs so callers can evict
	// cache entries.
	DeleteByRefreshTokenID(ctx context.Context, refreshTokenID string) ([]string, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ConsentRepository records user consent decisions.
type ConsentRepository interface {
	Get(ctx context.Context, userID, clientID, scopeHash string) (*ConsentRecord, error)
	Put(ctx context.Context, record *ConsentRecord) error
	DeleteAllForPair(ctx context.Context, userID, clientID string) error
}

// SectorIdentifierRepository persists per-sector pairwise secrets.
type SectorIdentifierRepository interface {
	Get(ctx context.Context, host string) (*SectorIdentifier, error)
	Create(ctx context.Context, sector *SectorIdentifier) error
}

// ClientRepository is the client registry storage.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	Get(ctx context.Context, clientID string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
}

// ProfileRepository resolves user attributes for claim providers. Backed by
// an external user store; read-only from this core's perspective.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// MemberTeamIDs returns the subset of teamIDs the user is a member of.
	MemberTeamIDs(ctx context.Context, userID string, teamIDs []string) ([]string, error)
}
