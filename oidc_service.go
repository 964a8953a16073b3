package oidc

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// scopeDescriptions is the consent-screen text per scope. The openid scope is
// deliberately absent: it changes what the tokens carry, not what the client
// may do, so there is nothing to show the user.
var scopeDescriptions = map[domain.Scope]string{
	domain.ScopeView:          "View the content which you can view",
	domain.ScopeModify:        "Modify the content which you can modify",
	domain.ScopeDownload:      "Download the content which you can download",
	domain.ScopeAuthorize:     "Authorize others to access the content which you can authorize",
	domain.ScopeOfflineAccess: "Access the content when you are not logged in",
}

// AuthorizationParams are the raw query parameters of an authorization
// request, before validation.
type AuthorizationParams struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	Claims       string
	Nonce        string
}

// AuthorizationRequestDescription is what the consent screen renders.
type AuthorizationRequestDescription struct {
	ClientID   string   `json:"client_id"`
	ClientName string   `json:"client_name"`
	ClientURI  string   `json:"client_uri,omitempty"`
	PolicyURI  string   `json:"policy_uri,omitempty"`
	TosURI     string   `json:"tos_uri,omitempty"`
	Permitted  []string `json:"permitted_access"`

	// HasPriorConsent is true when the user already granted this exact scope
	// and claims combination, so the screen may be skipped.
	HasPriorConsent bool `json:"has_prior_consent"`
}

// UserInfoResponse is either a plain claims document or, for clients
// registered with a signed-response algorithm, a signed JWT.
type UserInfoResponse struct {
	Claims    map[domain.ClaimName]any
	SignedJWT string
}

// OIDCService orchestrates the full authorization code flow across the
// codec, pairwise mapping, claims negotiation, token issuance, refresh
// rotation and the consent ledger. All dependencies are injected at
// construction and never mutated afterwards.
type OIDCService struct {
	issuerURL  string
	clients    *ClientRegistry
	codec      *AuthorizationCodec
	pairwise   *PairwiseCodec
	negotiator *ClaimsNegotiator
	issuer     *TokenIssuer
	refresh    *RefreshTokenService
	consent    *ConsentLedger
	revocation *RevocationService
	keys       *SigningKeyManager
	now        func() time.Time
}

func NewOIDCService(
	issuerURL string,
	clients *ClientRegistry,
	codec *AuthorizationCodec,
	pairwise *PairwiseCodec,
	negotiator *ClaimsNegotiator,
	issuer *TokenIssuer,
	refresh *RefreshTokenService,
	consent *ConsentLedger,
	revocation *RevocationService,
	keys *SigningKeyManager,
) *OIDCService {
	return &OIDCService{
		issuerURL:  issuerURL,
		clients:    clients,
		codec:      codec,
		pairwise:   pairwise,
		negotiator: negotiator,
		issuer:     issuer,
		refresh:    refresh,
		consent:    consent,
		revocation: revocation,
		keys:       keys,
		now:        time.Now,
	}
}

// validateAuthorizationRequest checks the raw parameters against the client
// registration and normalizes them. The redirect URI is validated before
// anything else: errors must never be sent to an unregistered URI.
func (s *OIDCService) validateAuthorizationRequest(ctx context.Context, p AuthorizationParams) (*domain.Client, *domain.AuthorizationRequest, error) {
	client, err := s.clients.GetVerified(ctx, p.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if !client.HasRedirectURI(p.RedirectURI) {
		return nil, nil, errors.NewInvalidRequest("Redirect URI " + p.RedirectURI + " is not registered for client " + p.ClientID)
	}
	if domain.ResponseType(p.ResponseType) != domain.ResponseTypeCode {
		return nil, nil, errors.NewUnsupportedResponseType(p.ResponseType)
	}

	scopes, err := domain.ParseScopes(p.Scope)
	if err != nil {
		return nil, nil, errors.NewInvalidScope(err.Error())
	}

	claims, err := s.negotiator.Normalize(p.Claims)
	if err != nil {
		return nil, nil, err
	}

	return client, &domain.AuthorizationRequest{
		ClientID:     p.ClientID,
		RedirectURI:  p.RedirectURI,
		ResponseType: domain.ResponseTypeCode,
		Scopes:       scopes,
		Claims:       claims,
		Nonce:        p.Nonce,
	}, nil
}

// DescribeAuthorizationRequest validates the request and returns what the
// consent screen should show, including whether a matching prior consent
// makes the screen skippable. userID may be empty for an anonymous preview;
// prior consent is then always false.
func (s *OIDCService) DescribeAuthorizationRequest(ctx context.Context, userID string, p AuthorizationParams) (*AuthorizationRequestDescription, error) {
	client, req, err := s.validateAuthorizationRequest(ctx, p)
	if err != nil {
		return nil, err
	}

	permitted := make([]string, 0, len(req.Scopes))
	for _, scope := range req.Scopes {
		if d, ok := scopeDescriptions[scope]; ok {
			permitted = append(permitted, d)
		}
	}
	permitted = append(permitted, s.negotiator.Descriptions(req.Claims)...)

	desc := &AuthorizationRequestDescription{
		ClientID:   client.ID,
		ClientName: client.Name,
		ClientURI:  client.ClientURI,
		PolicyURI:  client.PolicyURI,
		TosURI:     client.TosURI,
		Permitted:  permitted,
	}
	if userID != "" {
		desc.HasPriorConsent, err = s.consent.HasConsent(ctx, userID, client.ID, req.Scopes, req.Claims)
		if err != nil {
			return nil, err
		}
	}
	return desc, nil
}

// Authorize records the user's consent and mints the authorization code. The
// caller must have authenticated the user; an empty userID is login_required.
// authenticatedAt, when known, flows into the auth_time claim of ID tokens
// minted from the code.
func (s *OIDCService) Authorize(ctx context.Context, userID string, authenticatedAt *time.Time, p AuthorizationParams) (string, error) {
	if userID == "" {
		return "", errors.NewLoginRequired()
	}

	_, req, err := s.validateAuthorizationRequest(ctx, p)
	if err != nil {
		return "", err
	}
	req.UserID = userID
	req.AuthenticatedAt = authenticatedAt

	if err := s.consent.RecordConsent(ctx, userID, req.ClientID, req.Scopes, req.Claims); err != nil {
		return "", err
	}

	code, err := s.codec.Encode(req)
	if err != nil {
		return "", err
	}
	log.Info().Str("client_id", req.ClientID).Msg("minted authorization code")
	return code, nil
}

// Exchange redeems an authorization code for tokens. The redeeming client
// must be the one the code was minted for and must present the redirect URI
// sealed into the code.
func (s *OIDCService) Exchange(ctx context.Context, clientID, code, redirectURI string) (*domain.TokenResponse, error) {
	if _, err := s.clients.GetVerified(ctx, clientID); err != nil {
		return nil, err
	}

	req, err := s.codec.Decode(code, redirectURI)
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, errors.NewInvalidGrant("Authorization code was issued to a different client")
	}

	ppid, err := s.pairwise.PPID(ctx, req.UserID, clientID)
	if err != nil {
		return nil, err
	}

	response := &domain.TokenResponse{
		TokenType: "Bearer",
		ExpiresIn: int64(AccessTokenTTL / time.Second),
		Scope:     domain.ScopeString(req.Scopes),
	}

	if domain.ScopesContain(req.Scopes, domain.ScopeOpenID) {
		idClaims, err := s.negotiator.Resolve(ctx, req.UserID, req.Scopes, req.Claims.IDToken)
		if err != nil {
			return nil, err
		}
		response.IDToken, err = s.issuer.CreateIDToken(ctx, IDTokenParams{
			Subject:  ppid,
			ClientID: clientID,
			Nonce:    req.Nonce,
			AuthTime: req.AuthenticatedAt,
			Claims:   idClaims,
		})
		if err != nil {
			return nil, err
		}
	}

	var refreshTokenID string
	if domain.ScopesContain(req.Scopes, domain.ScopeOfflineAccess) {
		record, plaintext, err := s.refresh.Create(ctx, req.UserID, clientID, req.Scopes, req.Claims)
		if err != nil {
			return nil, err
		}
		refreshTokenID = record.TokenID
		response.RefreshToken = plaintext
	}

	response.AccessToken, err = s.issuer.CreateAccessToken(ctx, AccessTokenParams{
		UserID:         req.UserID,
		Subject:        ppid,
		ClientID:       clientID,
		Scopes:         req.Scopes,
		UserInfoClaims: req.Claims.UserInfo,
		RefreshTokenID: refreshTokenID,
		Persist:        true,
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// Refresh redeems a refresh token: the token rotates, the chained access
// tokens from the previous redemption stay valid until the chain is revoked,
// and new tokens are minted. The optional scope parameter narrows the grant
// for the issued tokens only; it never widens and never changes the stored
// record.
func (s *OIDCService) Refresh(ctx context.Context, clientID, refreshToken, scope string) (*domain.TokenResponse, error) {
	if _, err := s.clients.GetVerified(ctx, clientID); err != nil {
		return nil, err
	}

	record, next, err := s.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if record.ClientID != clientID {
		return nil, errors.NewInvalidGrant("Refresh token was not issued to this client")
	}

	scopes := record.Scopes
	if scope != "" {
		narrowed, err := domain.ParseScopes(scope)
		if err != nil {
			return nil, errors.NewInvalidScope(err.Error())
		}
		for _, sc := range narrowed {
			if !domain.ScopesContain(record.Scopes, sc) {
				return nil, errors.NewInvalidScope("Requested scope " + string(sc) + " exceeds the originally granted scope")
			}
		}
		scopes = narrowed
	}

	ppid, err := s.pairwise.PPID(ctx, record.PrincipalID, clientID)
	if err != nil {
		return nil, err
	}

	claims := record.Claims
	if claims == nil {
		claims = domain.NewClaimsRequest()
	}

	response := &domain.TokenResponse{
		RefreshToken: next,
		TokenType:    "Bearer",
		ExpiresIn:    int64(AccessTokenTTL / time.Second),
		Scope:        domain.ScopeString(scopes),
	}

	if domain.ScopesContain(scopes, domain.ScopeOpenID) {
		idClaims, err := s.negotiator.Resolve(ctx, record.PrincipalID, scopes, claims.IDToken)
		if err != nil {
			return nil, err
		}
		response.IDToken, err = s.issuer.CreateIDToken(ctx, IDTokenParams{
			Subject:  ppid,
			ClientID: clientID,
			Claims:   idClaims,
		})
		if err != nil {
			return nil, err
		}
	}

	response.AccessToken, err = s.issuer.CreateAccessToken(ctx, AccessTokenParams{
		UserID:         record.PrincipalID,
		Subject:        ppid,
		ClientID:       clientID,
		Scopes:         scopes,
		UserInfoClaims: claims.UserInfo,
		RefreshTokenID: record.TokenID,
		Persist:        true,
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// UserInfo resolves the claims an access token entitles its bearer to. The
// subject in the response is the same pairwise identifier the token carries.
// Clients registered with a signed-response algorithm get a signed JWT
// instead of a plain document.
func (s *OIDCService) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	identity, err := s.issuer.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	client, err := s.clients.Get(ctx, identity.ClientID)
	if err != nil {
		return nil, err
	}

	userID, err := s.pairwise.UserID(ctx, identity.Subject, identity.ClientID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.negotiator.Resolve(ctx, userID, identity.Scopes, identity.UserInfoClaims)
	if err != nil {
		return nil, err
	}
	resolved[domain.ClaimSub] = identity.Subject

	if client.UserinfoSignedResponseAlg == "" {
		return &UserInfoResponse{Claims: resolved}, nil
	}

	now := s.now()
	jwtClaims := jwt.MapClaims{
		string(domain.ClaimIss): s.issuerURL,
		string(domain.ClaimAud): client.ID,
		string(domain.ClaimIat): now.Unix(),
		string(domain.ClaimJti): uuid.NewString(),
	}
	for name, value := range resolved {
		jwtClaims[string(name)] = value
	}
	signed, err := s.keys.Sign(jwtClaims)
	if err != nil {
		return nil, err
	}
	return &UserInfoResponse{Claims: resolved, SignedJWT: signed}, nil
}

// Revoke handles the revocation endpoint.
func (s *OIDCService) Revoke(ctx context.Context, clientID, token, tokenTypeHint string) error {
	if _, err := s.clients.GetVerified(ctx, clientID); err != nil {
		return err
	}
	return s.revocation.RevokeByRequest(ctx, clientID, token, tokenTypeHint)
}

// RevokeAuthorization withdraws everything a user granted to a client: every
// refresh token chain and the consent history. The next authorization request
// shows the consent screen again.
func (s *OIDCService) RevokeAuthorization(ctx context.Context, userID, clientID string) error {
	records, err := s.refresh.ListActive(ctx, userID, clientID)
	if err != nil {
		return errors.NewServerError("failed to list refresh tokens: " + err.Error())
	}
	for _, record := range records {
		if err := s.revocation.RevokeRefreshChain(ctx, record.TokenID); err != nil {
			return err
		}
	}
	if _, err := s.refresh.RevokeAllForPair(ctx, userID, clientID); err != nil {
		return errors.NewServerError("failed to revoke refresh tokens: " + err.Error())
	}
	return s.consent.RevokeConsent(ctx, userID, clientID)
}

// RefreshTokens exposes the refresh token lifecycle service for the token
// management endpoints.
func (s *OIDCService) RefreshTokens() *RefreshTokenService {
	return s.refresh
}

// JWKS exposes the verification key set.
func (s *OIDCService) JWKS() JSONWebKeySet {
	return s.keys.JWKS()
}
