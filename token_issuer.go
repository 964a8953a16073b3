package oidc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.scistack.dev/oidc/cache"
	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// TokenIssuer mints and validates the signed JWTs of this provider. Access
// tokens are recorded server-side so they can be revoked before their signed
// expiry; validation checks the record, not just the signature.
type TokenIssuer struct {
	issuer        string
	keys          *SigningKeyManager
	accessTokens  domain.AccessTokenRepository
	refreshTokens domain.RefreshTokenRepository
	tokenCache    cache.TokenStore
	now           func() time.Time
}

func NewTokenIssuer(issuer string, keys *SigningKeyManager, accessTokens domain.AccessTokenRepository, refreshTokens domain.RefreshTokenRepository, tokenCache cache.TokenStore) *TokenIssuer {
	return &TokenIssuer{
		issuer:        issuer,
		keys:          keys,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		tokenCache:    tokenCache,
		now:           time.Now,
	}
}

// IDTokenParams describes one ID token to mint. Subject is the client-facing
// (pairwise) subject, never the internal user id.
type IDTokenParams struct {
	Subject  string
	ClientID string
	Nonce    string
	AuthTime *time.Time

	// Claims are the resolved identity claim values embedded in the token.
	Claims map[domain.ClaimName]any
}

// AccessTokenParams describes one access token to mint.
type AccessTokenParams struct {
	// UserID is the internal principal, recorded for revocation. Subject is
	// what goes on the wire.
	UserID   string
	Subject  string
	ClientID string
	Scopes   []domain.Scope

	// UserInfoClaims is the claim request the UserInfo endpoint honors for
	// this token. Carried inside the token so UserInfo needs no grant lookup.
	UserInfoClaims map[domain.ClaimName]*domain.ClaimDetail

	// RefreshTokenID links the token to the refresh token that produced it.
	// Revoking or rotating past that refresh token kills this token too.
	RefreshTokenID string

	SessionID string

	// Persist controls whether a revocation record is written. Tokens minted
	// without one never pass ValidateAccessToken; they are for internal
	// short-lived use only.
	Persist bool
}

// CreateIDToken mints a signed ID token with a one-minute lifetime.
func (t *TokenIssuer) CreateIDToken(_ context.Context, params IDTokenParams) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		string(domain.ClaimIss):       t.issuer,
		string(domain.ClaimSub):       params.Subject,
		string(domain.ClaimAud):       params.ClientID,
		string(domain.ClaimIat):       now.Unix(),
		string(domain.ClaimNbf):       now.Unix(),
		string(domain.ClaimExp):       now.Add(IDTokenTTL).Unix(),
		string(domain.ClaimJti):       uuid.NewString(),
		string(domain.ClaimTokenType): string(domain.TokenTypeIDToken),
	}
	if params.Nonce != "" {
		claims[string(domain.ClaimNonce)] = params.Nonce
	}
	if params.AuthTime != nil {
		claims[string(domain.ClaimAuthTime)] = params.AuthTime.Unix()
	}
	for name, value := range params.Claims {
		claims[string(name)] = value
	}
	return t.keys.Sign(claims)
}

// CreateAccessToken mints a signed access token and, unless Persist is false,
// records it for revocation.
func (t *TokenIssuer) CreateAccessToken(ctx context.Context, params AccessTokenParams) (string, error) {
	now := t.now()
	tokenID := uuid.NewString()
	expiresAt := now.Add(AccessTokenTTL)

	claims := jwt.MapClaims{
		string(domain.ClaimIss):       t.issuer,
		string(domain.ClaimSub):       params.Subject,
		string(domain.ClaimAud):       params.ClientID,
		string(domain.ClaimIat):       now.Unix(),
		string(domain.ClaimNbf):       now.Unix(),
		string(domain.ClaimExp):       expiresAt.Unix(),
		string(domain.ClaimJti):       tokenID,
		string(domain.ClaimTokenType): string(domain.TokenTypeAccessToken),
		string(domain.ClaimScope):     domain.ScopeString(params.Scopes),
	}
	if len(params.UserInfoClaims) > 0 {
		claims[string(domain.ClaimUserInfoClaims)] = params.UserInfoClaims
	}
	if params.RefreshTokenID != "" {
		claims[string(domain.ClaimRefreshTokenID)] = params.RefreshTokenID
	}

	signed, err := t.keys.Sign(claims)
	if err != nil {
		return "", err
	}

	if !params.Persist {
		return signed, nil
	}

	record := &domain.AccessTokenRecord{
		TokenID:        tokenID,
		PrincipalID:    params.UserID,
		ClientID:       params.ClientID,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		RefreshTokenID: params.RefreshTokenID,
		SessionID:      params.SessionID,
	}
	if err := t.accessTokens.Create(ctx, record); err != nil {
		return "", errors.NewServerError("failed to record access token: " + err.Error())
	}
	if err := t.tokenCache.Set(ctx, tokenEntry(record)); err != nil {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("failed to cache access token record")
	}
	return signed, nil
}

// AccessTokenIdentity is the validated content of an access token.
type AccessTokenIdentity struct {
	TokenID  string
	Subject  string
	ClientID string
	Scopes   []domain.Scope

	// UserInfoClaims is the claim request sealed into the token at issuance.
	UserInfoClaims map[domain.ClaimName]*domain.ClaimDetail
}

// ValidateAccessToken verifies signature and expiry, then checks that the
// revocation record still exists and, for refresh-chained tokens, that the
// originating refresh token is still active. Every failure is invalid_token.
//
// The record lookup may be served from cache since revocation evicts cache
// entries. The refresh-token activity check always hits the store: a rotation
// or revocation there must take effect immediately.
func (t *TokenIssuer) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessTokenIdentity, error) {
	claims, err := t.keys.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims[string(domain.ClaimTokenType)] != string(domain.TokenTypeAccessToken) {
		return nil, errors.NewInvalidToken("Not an access token")
	}

	tokenID, _ := claims[string(domain.ClaimJti)].(string)
	record, err := t.lookupRecord(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if record.RefreshTokenID != "" {
		refresh, err := t.refreshTokens.GetByID(ctx, record.RefreshTokenID)
		if stderrors.Is(err, domain.ErrNotFound) {
			return nil, errors.NewInvalidToken("Access token has been revoked")
		}
		if err != nil {
			return nil, errors.NewServerError("failed to check refresh token: " + err.Error())
		}
		if !refresh.Active(t.now(), RefreshTokenLease) {
			return nil, errors.NewInvalidToken("Access token has been revoked")
		}
	}

	identity := &AccessTokenIdentity{
		TokenID:        tokenID,
		ClientID:       record.ClientID,
		UserInfoClaims: map[domain.ClaimName]*domain.ClaimDetail{},
	}
	identity.Subject, _ = claims[string(domain.ClaimSub)].(string)

	if scope, ok := claims[string(domain.ClaimScope)].(string); ok {
		identity.Scopes, err = domain.ParseScopes(scope)
		if err != nil {
			return nil, errors.NewInvalidToken("Malformed scope claim")
		}
	}

	if raw, ok := claims[string(domain.ClaimUserInfoClaims)]; ok {
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, errors.NewInvalidToken("Malformed userinfo claims")
		}
		if err := json.Unmarshal(payload, &identity.UserInfoClaims); err != nil {
			return nil, errors.NewInvalidToken("Malformed userinfo claims")
		}
	}

	return identity, nil
}

// RevokeAccessToken deletes the revocation record and evicts the cache entry,
// invalidating the token ahead of its signed expiry.
func (t *TokenIssuer) RevokeAccessToken(ctx context.Context, tokenID string) error {
	if err := t.accessTokens.Delete(ctx, tokenID); err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return errors.NewServerError("failed to revoke access token: " + err.Error())
	}
	if err := t.tokenCache.Delete(ctx, tokenID); err != nil {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("failed to evict access token cache entry")
	}
	return nil
}

// EvictCached removes cache entries for the given token ids. Used by the
// revocation cascade after a bulk store delete.
func (t *TokenIssuer) EvictCached(ctx context.Context, tokenIDs []string) {
	for _, id := range tokenIDs {
		if err := t.tokenCache.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("token_id", id).Msg("failed to evict access token cache entry")
		}
	}
}

// JWKS exposes the verification keys for the discovery endpoint.
func (t *TokenIssuer) JWKS() JSONWebKeySet {
	return t.keys.JWKS()
}

func (t *TokenIssuer) lookupRecord(ctx context.Context, tokenID string) (*cache.TokenEntry, error) {
	if tokenID == "" {
		return nil, errors.NewInvalidToken("Token has no id")
	}

	entry, err := t.tokenCache.Get(ctx, tokenID)
	if err == nil {
		return entry, nil
	}
	if !stderrors.Is(err, cache.ErrNotFound) {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("token cache lookup failed")
	}

	record, err := t.accessTokens.Get(ctx, tokenID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewInvalidToken("Access token has been revoked")
	}
	if err != nil {
		return nil, errors.NewServerError("failed to look up access token: " + err.Error())
	}

	entry = tokenEntry(record)
	if err := t.tokenCache.Set(ctx, entry); err != nil {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("failed to cache access token record")
	}
	return entry, nil
}

func tokenEntry(record *domain.AccessTokenRecord) *cache.TokenEntry {
	return &cache.TokenEntry{
		TokenID:        record.TokenID,
		PrincipalID:    record.PrincipalID,
		ClientID:       record.ClientID,
		RefreshTokenID: record.RefreshTokenID,
		ExpiresAt:      record.ExpiresAt,
	}
}
