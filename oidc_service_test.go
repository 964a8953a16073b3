package oidc

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.scistack.dev/oidc/cache"
	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

type serviceFixture struct {
	service  *OIDCService
	keys     *SigningKeyManager
	clients  *fakeClientRepo
	refresh  *fakeRefreshRepo
	access   *fakeAccessRepo
	consents *fakeConsentRepo
	refSvc   *RefreshTokenService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	clients := newFakeClientRepo()
	sectors := newFakeSectorRepo()
	refreshRepo := newFakeRefreshRepo()
	accessRepo := newFakeAccessRepo()
	consents := newFakeConsentRepo()
	profiles := newFakeProfileRepo()

	profiles.profiles["101"] = &domain.Profile{
		UserID:        "101",
		Email:         "ada@example.org",
		EmailVerified: true,
		GivenName:     "Ada",
	}

	secret, err := NewSectorSecret()
	require.NoError(t, err)
	require.NoError(t, sectors.Create(ctx, &domain.SectorIdentifier{
		Host:      "app.example.org",
		Secret:    secret,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, clients.Create(ctx, &domain.Client{
		ID:           "client-a",
		Name:         "Example App",
		RedirectURIs: []string{"https://app.example.org/callback"},
		Sector:       "app.example.org",
		Verified:     true,
	}))
	require.NoError(t, clients.Create(ctx, &domain.Client{
		ID:           "client-pending",
		Name:         "Pending App",
		RedirectURIs: []string{"https://app.example.org/callback"},
		Sector:       "app.example.org",
		Verified:     false,
	}))
	require.NoError(t, clients.Create(ctx, &domain.Client{
		ID:                        "client-signed",
		Name:                      "Signed App",
		RedirectURIs:              []string{"https://app.example.org/callback"},
		Sector:                    "app.example.org",
		UserinfoSignedResponseAlg: "RS256",
		Verified:                  true,
	}))

	keys := newTestKeyManager(t, 1)
	codeKey := make([]byte, 32)
	_, err = rand.Read(codeKey)
	require.NoError(t, err)
	codec, err := NewAuthorizationCodec(codeKey)
	require.NoError(t, err)

	store := cache.NewMemoryTokenStore()
	t.Cleanup(store.Stop)

	registry := NewClientRegistry(clients, sectors, NewSectorIdentifierResolver(nil))
	pairwise := NewPairwiseCodec(clients, sectors, firstPartyClientID)
	negotiator := NewClaimsNegotiator(StandardClaimProviders(profiles)...)
	issuer := NewTokenIssuer("https://auth.example.org", keys, accessRepo, refreshRepo, store)
	refSvc := NewRefreshTokenService(refreshRepo, fakeTransactor{})
	consent := NewConsentLedger(consents)
	revocation := NewRevocationService(refreshRepo, accessRepo, keys, store)

	service := NewOIDCService(
		"https://auth.example.org", registry, codec, pairwise, negotiator,
		issuer, refSvc, consent, revocation, keys,
	)
	return &serviceFixture{
		service:  service,
		keys:     keys,
		clients:  clients,
		refresh:  refreshRepo,
		access:   accessRepo,
		consents: consents,
		refSvc:   refSvc,
	}
}

func defaultParams() AuthorizationParams {
	return AuthorizationParams{
		ClientID:     "client-a",
		RedirectURI:  "https://app.example.org/callback",
		ResponseType: "code",
		Scope:        "openid view offline_access",
		Claims:       `{"id_token":{"email":null},"userinfo":{"email":null,"given_name":null}}`,
		Nonce:        "n-1",
	}
}

func TestAuthorize_RequiresLogin(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Authorize(context.Background(), "", nil, defaultParams())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.LoginRequired))
}

func TestAuthorize_UnverifiedClient(t *testing.T) {
	f := newServiceFixture(t)
	params := defaultParams()
	params.ClientID = "client-pending"

	_, err := f.service.Authorize(context.Background(), "101", nil, params)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.UnverifiedClient))
}

func TestAuthorize_UnregisteredRedirect(t *testing.T) {
	f := newServiceFixture(t)
	params := defaultParams()
	params.RedirectURI = "https://evil.example.org/callback"

	_, err := f.service.Authorize(context.Background(), "101", nil, params)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidRequest))
}

func TestAuthorize_UnknownScope(t *testing.T) {
	f := newServiceFixture(t)
	params := defaultParams()
	params.Scope = "openid world_domination"

	_, err := f.service.Authorize(context.Background(), "101", nil, params)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidScope))
}

func TestDescribe_ConsentScreenContent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	desc, err := f.service.DescribeAuthorizationRequest(ctx, "101", defaultParams())
	require.NoError(t, err)
	assert.Equal(t, "Example App", desc.ClientName)
	assert.Contains(t, desc.Permitted, "View the content which you can view")
	assert.Contains(t, desc.Permitted, "Access the content when you are not logged in")
	assert.Contains(t, desc.Permitted, "Your email address")
	assert.False(t, desc.HasPriorConsent)

	_, err = f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)

	desc, err = f.service.DescribeAuthorizationRequest(ctx, "101", defaultParams())
	require.NoError(t, err)
	assert.True(t, desc.HasPriorConsent, "a repeat of an identical request may skip the screen")

	// A widened request needs fresh consent.
	widened := defaultParams()
	widened.Scope = "openid view download offline_access"
	desc, err = f.service.DescribeAuthorizationRequest(ctx, "101", widened)
	require.NoError(t, err)
	assert.False(t, desc.HasPriorConsent)
}

func TestExchange_FullFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	authTime := time.Now().Add(-5 * time.Minute).UTC().Truncate(time.Second)

	code, err := f.service.Authorize(ctx, "101", &authTime, defaultParams())
	require.NoError(t, err)

	response, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)
	assert.NotEmpty(t, response.AccessToken)
	assert.NotEmpty(t, response.IDToken)
	assert.NotEmpty(t, response.RefreshToken)
	assert.Equal(t, "Bearer", response.TokenType)
	assert.Equal(t, int64(24*60*60), response.ExpiresIn)

	idClaims, err := f.keys.Parse(response.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "client-a", idClaims["aud"])
	assert.Equal(t, "n-1", idClaims["nonce"])
	assert.Equal(t, "ada@example.org", idClaims["email"])
	assert.Equal(t, float64(authTime.Unix()), idClaims["auth_time"])
	assert.NotEqual(t, "101", idClaims["sub"], "third-party clients see the pairwise subject")

	accessClaims, err := f.keys.Parse(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, idClaims["sub"], accessClaims["sub"])
	assert.NotEmpty(t, accessClaims["refresh_token_id"])
}

func TestExchange_WrongClient(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)

	_, err = f.service.Exchange(ctx, "client-signed", code, "https://app.example.org/callback")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidGrant))
}

func TestExchange_RedirectMismatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)

	_, err = f.service.Exchange(ctx, "client-a", code, "https://app.example.org/other")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidGrant))
}

func TestExchange_NoOpenIDMeansNoIDToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	params := defaultParams()
	params.Scope = "view download"
	params.Claims = ""

	code, err := f.service.Authorize(ctx, "101", nil, params)
	require.NoError(t, err)

	response, err := f.service.Exchange(ctx, "client-a", code, params.RedirectURI)
	require.NoError(t, err)
	assert.Empty(t, response.IDToken)
	assert.Empty(t, response.RefreshToken, "no offline_access, no refresh token")
	assert.NotEmpty(t, response.AccessToken)
}

func TestUserInfo_PlainAndSigned(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)
	response, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)

	info, err := f.service.UserInfo(ctx, response.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, info.SignedJWT)
	assert.Equal(t, "ada@example.org", info.Claims[domain.ClaimEmail])
	assert.Equal(t, "Ada", info.Claims[domain.ClaimGivenName])
	assert.NotEqual(t, "101", info.Claims[domain.ClaimSub])

	// The signed-response client gets a JWT.
	params := defaultParams()
	params.ClientID = "client-signed"
	code, err = f.service.Authorize(ctx, "101", nil, params)
	require.NoError(t, err)
	response, err = f.service.Exchange(ctx, "client-signed", code, params.RedirectURI)
	require.NoError(t, err)

	info, err = f.service.UserInfo(ctx, response.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, info.SignedJWT)
	jwtClaims, err := f.keys.Parse(info.SignedJWT)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.org", jwtClaims["iss"])
	assert.Equal(t, "client-signed", jwtClaims["aud"])
	assert.Equal(t, "ada@example.org", jwtClaims["email"])
}

func TestRefresh_RotationAndNarrowing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)
	initial, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)

	// Narrow to view only: the response drops openid, so no ID token.
	narrowed, err := f.service.Refresh(ctx, "client-a", initial.RefreshToken, "view")
	require.NoError(t, err)
	assert.Equal(t, "view", narrowed.Scope)
	assert.Empty(t, narrowed.IDToken)
	assert.NotEmpty(t, narrowed.RefreshToken)
	assert.NotEqual(t, initial.RefreshToken, narrowed.RefreshToken)

	accessClaims, err := f.keys.Parse(narrowed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "view", accessClaims["scope"])

	// The spent token no longer redeems.
	_, err = f.service.Refresh(ctx, "client-a", initial.RefreshToken, "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidGrant))

	// Narrowing never sticks: omitting scope restores the original grant.
	restored, err := f.service.Refresh(ctx, "client-a", narrowed.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, "openid view offline_access", restored.Scope)
	assert.NotEmpty(t, restored.IDToken)
}

func TestRefresh_CannotWiden(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	params := defaultParams()
	params.Scope = "openid view offline_access"
	code, err := f.service.Authorize(ctx, "101", nil, params)
	require.NoError(t, err)
	initial, err := f.service.Exchange(ctx, "client-a", code, params.RedirectURI)
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, "client-a", initial.RefreshToken, "openid view download")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidScope))
}

func TestRefresh_WrongClient(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)
	initial, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, "client-signed", initial.RefreshToken, "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidGrant))
}

func TestRevokeAuthorization_FullWithdrawal(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)
	response, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)

	require.NoError(t, f.service.RevokeAuthorization(ctx, "101", "client-a"))

	// The refresh token and its access tokens are dead.
	_, err = f.service.Refresh(ctx, "client-a", response.RefreshToken, "")
	require.Error(t, err)
	_, err = f.service.UserInfo(ctx, response.AccessToken)
	require.Error(t, err)

	// And the consent screen returns.
	desc, err := f.service.DescribeAuthorizationRequest(ctx, "101", defaultParams())
	require.NoError(t, err)
	assert.False(t, desc.HasPriorConsent)
}

func TestRefreshTokenLifecycleScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	code, err := f.service.Authorize(ctx, "101", nil, defaultParams())
	require.NoError(t, err)
	response, err := f.service.Exchange(ctx, "client-a", code, "https://app.example.org/callback")
	require.NoError(t, err)

	records, err := f.refSvc.ListActive(ctx, "101", "client-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	tokenID := records[0].TokenID

	renamed, err := f.refSvc.UpdateMetadata(ctx, "101", tokenID, "CI pipeline", records[0].Etag)
	require.NoError(t, err)
	assert.Equal(t, "CI pipeline", renamed.Name)

	// Rotation keeps the name and id.
	rotated, err := f.service.Refresh(ctx, "client-a", response.RefreshToken, "")
	require.NoError(t, err)
	records, err = f.refSvc.ListActive(ctx, "101", "client-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, tokenID, records[0].TokenID)
	assert.Equal(t, "CI pipeline", records[0].Name)
	assert.NotEmpty(t, rotated.RefreshToken)
}
