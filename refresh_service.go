package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// RefreshTokenService manages the lifecycle of refresh tokens: creation with
// the per-pair cap, single-use rotation, lease-based expiry and revocation.
//
// A token's id is stable across rotations; only the hash, LastUsedAt and Etag
// change. ModifiedAt tracks metadata edits and is untouched by rotation.
type RefreshTokenService struct {
	tokens domain.RefreshTokenRepository
	tx     domain.Transactor
	now    func() time.Time
}

func NewRefreshTokenService(tokens domain.RefreshTokenRepository, tx domain.Transactor) *RefreshTokenService {
	return &RefreshTokenService{
		tokens: tokens,
		tx:     tx,
		now:    time.Now,
	}
}

// Create mints a refresh token for the (user, client) pair, evicting
// least-recently-used tokens so that at most MaxRefreshTokensPerPair exist
// afterwards. Trim and insert run in one transaction to keep the cap exact
// under concurrent creation. Returns the stored record and the plaintext
// token, which is never persisted.
func (s *RefreshTokenService) Create(ctx context.Context, principalID, clientID string, scopes []domain.Scope, claims *domain.ClaimsRequest) (*domain.RefreshTokenRecord, string, error) {
	plaintext, err := newRefreshToken()
	if err != nil {
		return nil, "", errors.NewServerError("failed to generate refresh token")
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	record := &domain.RefreshTokenRecord{
		TokenID:     uuid.NewString(),
		PrincipalID: principalID,
		ClientID:    clientID,
		Scopes:      scopes,
		Claims:      claims,
		Name:        uuid.NewString(),
		TokenHash:   HashToken(plaintext),
		Etag:        uuid.NewString(),
		CreatedAt:   now,
		LastUsedAt:  now,
		ModifiedAt:  now,
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		evicted, err := s.tokens.TrimOverLimit(ctx, principalID, clientID, MaxRefreshTokensPerPair-1)
		if err != nil {
			return err
		}
		if evicted > 0 {
			log.Info().
				Str("principal_id", principalID).
				Str("client_id", clientID).
				Int64("evicted", evicted).
				Msg("evicted least recently used refresh tokens")
		}
		return s.tokens.Create(ctx, record)
	})
	if err != nil {
		return nil, "", errors.NewServerError("failed to store refresh token: " + err.Error())
	}
	return record, plaintext, nil
}

// Rotate redeems a refresh token: the presented plaintext is atomically
// replaced by a fresh one and the old plaintext is dead from this point on.
// Exactly one of two concurrent redemptions of the same plaintext succeeds;
// the other, like any unknown, rotated or lease-expired token, gets
// invalid_grant.
func (s *RefreshTokenService) Rotate(ctx context.Context, plaintext string) (*domain.RefreshTokenRecord, string, error) {
	next, err := newRefreshToken()
	if err != nil {
		return nil, "", errors.NewServerError("failed to generate refresh token")
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	record, err := s.tokens.SwapHash(ctx, HashToken(plaintext), HashToken(next), now.Add(-RefreshTokenLease), now, uuid.NewString())
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, "", errors.NewInvalidGrant("Invalid refresh token")
	}
	if err != nil {
		return nil, "", errors.NewServerError("failed to rotate refresh token: " + err.Error())
	}
	return record, next, nil
}

// GetByPlaintext resolves a presented token to its record without rotating or
// bumping LastUsedAt. Unknown and lease-expired tokens are invalid_grant.
func (s *RefreshTokenService) GetByPlaintext(ctx context.Context, plaintext string) (*domain.RefreshTokenRecord, error) {
	record, err := s.tokens.GetByHash(ctx, HashToken(plaintext))
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewInvalidGrant("Invalid refresh token")
	}
	if err != nil {
		return nil, errors.NewServerError("failed to look up refresh token: " + err.Error())
	}
	if !record.Active(s.now(), RefreshTokenLease) {
		return nil, errors.NewInvalidGrant("Invalid refresh token")
	}
	return record, nil
}

// IsActive reports whether the token exists and is within its lease. Reading
// does not bump LastUsedAt: only redemption extends a lease.
func (s *RefreshTokenService) IsActive(ctx context.Context, tokenID string) (bool, error) {
	record, err := s.tokens.GetByID(ctx, tokenID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Active(s.now(), RefreshTokenLease), nil
}

// Get returns the record by id, enforcing ownership.
func (s *RefreshTokenService) Get(ctx context.Context, principalID, tokenID string) (*domain.RefreshTokenRecord, error) {
	record, err := s.tokens.GetByID(ctx, tokenID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewNotFound("Refresh token not found")
	}
	if err != nil {
		return nil, errors.NewServerError("failed to look up refresh token: " + err.Error())
	}
	if record.PrincipalID != principalID {
		return nil, errors.NewNotFound("Refresh token not found")
	}
	return record, nil
}

// ListActive returns the user's active refresh tokens for a client, most
// recently used first.
func (s *RefreshTokenService) ListActive(ctx context.Context, principalID, clientID string) ([]*domain.RefreshTokenRecord, error) {
	return s.tokens.ListActiveForPair(ctx, principalID, clientID, s.now().Add(-RefreshTokenLease))
}

// UpdateMetadata renames a refresh token under optimistic concurrency: the
// caller presents the etag it last saw, and a mismatch means somebody else
// changed the record in between.
func (s *RefreshTokenService) UpdateMetadata(ctx context.Context, principalID, tokenID, name, etag string) (*domain.RefreshTokenRecord, error) {
	record, err := s.Get(ctx, principalID, tokenID)
	if err != nil {
		return nil, err
	}
	if record.Etag != etag {
		return nil, errors.NewConflictingUpdate("Refresh token was updated since you last fetched it, retrieve it again and reapply the update")
	}

	record.Name = name
	record.Etag = uuid.NewString()
	record.ModifiedAt = s.now().UTC().Truncate(time.Millisecond)
	if err := s.tokens.UpdateMetadata(ctx, record); err != nil {
		return nil, errors.NewServerError("failed to update refresh token: " + err.Error())
	}
	return record, nil
}

// Revoke deletes one refresh token owned by the principal.
func (s *RefreshTokenService) Revoke(ctx context.Context, principalID, tokenID string) error {
	if _, err := s.Get(ctx, principalID, tokenID); err != nil {
		return err
	}
	if err := s.tokens.Delete(ctx, tokenID); err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return errors.NewServerError("failed to revoke refresh token: " + err.Error())
	}
	return nil
}

// RevokeAllForPair deletes every refresh token a client holds for a user.
// Used when the user withdraws a client's authorization entirely.
func (s *RefreshTokenService) RevokeAllForPair(ctx context.Context, principalID, clientID string) (int64, error) {
	return s.tokens.DeleteAllForPair(ctx, principalID, clientID)
}

// newRefreshToken draws 32 bytes from the CSPRNG, encoded URL-safe.
func newRefreshToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
