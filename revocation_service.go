package oidc

import (
	"context"
	stderrors "errors"

	"github.com/rs/zerolog/log"

	"go.scistack.dev/oidc/cache"
	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// Token type hints accepted by the revocation endpoint (RFC 7009 §2.1).
const (
	TokenTypeHintRefreshToken = "refresh_token"
	TokenTypeHintAccessToken  = "access_token"
)

// RevocationService implements token revocation with cascade: revoking a
// refresh token also kills every access token minted from it, and revoking an
// access token revokes the refresh token it chains to, which cascades back
// over its sibling access tokens.
type RevocationService struct {
	refreshTokens domain.RefreshTokenRepository
	accessTokens  domain.AccessTokenRepository
	keys          *SigningKeyManager
	tokenCache    cache.TokenStore
}

func NewRevocationService(refreshTokens domain.RefreshTokenRepository, accessTokens domain.AccessTokenRepository, keys *SigningKeyManager, tokenCache cache.TokenStore) *RevocationService {
	return &RevocationService{
		refreshTokens: refreshTokens,
		accessTokens:  accessTokens,
		keys:          keys,
		tokenCache:    tokenCache,
	}
}

// RevokeByRequest revokes the presented token on behalf of the client that
// owns the grant. The token is located by the hint; with no hint, both
// interpretations are tried, refresh token first.
//
// An access token minted without a refresh token chain cannot be revoked this
// way and yields unsupported_token_type; such tokens die with their record or
// their signed expiry.
func (s *RevocationService) RevokeByRequest(ctx context.Context, clientID, token, tokenTypeHint string) error {
	switch tokenTypeHint {
	case TokenTypeHintRefreshToken:
		return s.revokeRefreshToken(ctx, clientID, token)
	case TokenTypeHintAccessToken:
		return s.revokeAccessToken(ctx, clientID, token)
	case "":
		err := s.revokeRefreshToken(ctx, clientID, token)
		if errors.IsCode(err, errors.InvalidGrant) {
			return s.revokeAccessToken(ctx, clientID, token)
		}
		return err
	default:
		return errors.NewUnsupportedTokenType("Unsupported token type hint " + tokenTypeHint)
	}
}

func (s *RevocationService) revokeRefreshToken(ctx context.Context, clientID, token string) error {
	record, err := s.refreshTokens.GetByHash(ctx, HashToken(token))
	if stderrors.Is(err, domain.ErrNotFound) {
		return errors.NewInvalidGrant("Invalid refresh token")
	}
	if err != nil {
		return errors.NewServerError("failed to look up refresh token: " + err.Error())
	}
	if record.ClientID != clientID {
		return errors.NewInvalidGrant("Refresh token was not issued to this client")
	}
	return s.RevokeRefreshChain(ctx, record.TokenID)
}

func (s *RevocationService) revokeAccessToken(ctx context.Context, clientID, token string) error {
	claims, err := s.keys.Parse(token)
	if err != nil {
		return errors.NewInvalidGrant("Invalid access token")
	}
	if claims[string(domain.ClaimTokenType)] != string(domain.TokenTypeAccessToken) {
		return errors.NewInvalidGrant("Not an access token")
	}
	if aud, _ := claims[string(domain.ClaimAud)].(string); aud != clientID {
		return errors.NewInvalidGrant("Access token was not issued to this client")
	}

	refreshTokenID, _ := claims[string(domain.ClaimRefreshTokenID)].(string)
	if refreshTokenID == "" {
		return errors.NewUnsupportedTokenType("Access token is not chained to a refresh token and cannot be revoked")
	}
	return s.RevokeRefreshChain(ctx, refreshTokenID)
}

// RevokeRefreshChain deletes a refresh token and every access token minted
// from it, evicting their cache entries so validation fails immediately.
func (s *RevocationService) RevokeRefreshChain(ctx context.Context, refreshTokenID string) error {
	if err := s.refreshTokens.Delete(ctx, refreshTokenID); err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return errors.NewServerError("failed to revoke refresh token: " + err.Error())
	}

	deleted, err := s.accessTokens.DeleteByRefreshTokenID(ctx, refreshTokenID)
	if err != nil {
		return errors.NewServerError("failed to revoke chained access tokens: " + err.Error())
	}
	for _, id := range deleted {
		if err := s.tokenCache.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("token_id", id).Msg("failed to evict access token cache entry")
		}
	}
	log.Info().
		Str("refresh_token_id", refreshTokenID).
		Int("access_tokens", len(deleted)).
		Msg("revoked refresh token chain")
	return nil
}
