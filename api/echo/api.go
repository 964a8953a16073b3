// Package echo exposes the provider over HTTP using the echo framework.
package echo

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	oidc "go.scistack.dev/oidc"
	"go.scistack.dev/oidc/errors"
)

// UserResolver extracts the authenticated user from a request. User
// authentication is outside this module; deployments plug in whatever session
// mechanism they run. An empty user id means anonymous.
type UserResolver func(c echo.Context) (userID string, authenticatedAt *time.Time, err error)

// OAuth2API holds the HTTP handlers and their dependencies.
type OAuth2API struct {
	service  *oidc.OIDCService
	registry *oidc.ClientRegistry
	issuer   string
	resolve  UserResolver
}

func NewOAuth2API(service *oidc.OIDCService, registry *oidc.ClientRegistry, issuer string, resolve UserResolver) *OAuth2API {
	return &OAuth2API{
		service:  service,
		registry: registry,
		issuer:   issuer,
		resolve:  resolve,
	}
}

// RegisterRoutes registers all provider routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth2/authorize", oa.DescribeHandler)
	e.POST("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/token", oa.TokenHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)
	e.GET("/oauth2/userinfo", oa.UserInfoHandler)
	e.POST("/oauth2/userinfo", oa.UserInfoHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)

	oa.registerClientRoutes(e)
	oa.registerTokenManagementRoutes(e)
}

func authorizationParams(c echo.Context) oidc.AuthorizationParams {
	param := c.QueryParam
	if c.Request().Method == http.MethodPost {
		param = c.FormValue
	}
	return oidc.AuthorizationParams{
		ClientID:     param("client_id"),
		RedirectURI:  param("redirect_uri"),
		ResponseType: param("response_type"),
		Scope:        param("scope"),
		Claims:       param("claims"),
		Nonce:        param("nonce"),
	}
}

// DescribeHandler returns what the consent screen should display for the
// authorization request, without committing to anything.
func (oa *OAuth2API) DescribeHandler(c echo.Context) error {
	userID, _, err := oa.resolve(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	desc, err := oa.service.DescribeAuthorizationRequest(c.Request().Context(), userID, authorizationParams(c))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, desc)
}

// AuthorizeHandler records consent and redirects back to the client with the
// authorization code.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	userID, authenticatedAt, err := oa.resolve(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	params := authorizationParams(c)
	state := c.FormValue("state")

	code, err := oa.service.Authorize(c.Request().Context(), userID, authenticatedAt, params)
	if err != nil {
		return oa.writeError(c, err)
	}

	redirect, err := authorizationRedirect(params.RedirectURI, code, state)
	if err != nil {
		return oa.writeError(c, errors.NewInvalidRequest("Malformed redirect URI"))
	}
	return c.Redirect(http.StatusFound, redirect)
}

// TokenHandler implements the token endpoint for the authorization_code and
// refresh_token grants. The client authenticates with basic auth or form
// credentials.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	ctx := c.Request().Context()

	clientID, err := oa.authenticateClient(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	switch c.FormValue("grant_type") {
	case "authorization_code":
		response, err := oa.service.Exchange(ctx, clientID, c.FormValue("code"), c.FormValue("redirect_uri"))
		if err != nil {
			return oa.writeError(c, err)
		}
		return c.JSON(http.StatusOK, response)

	case "refresh_token":
		response, err := oa.service.Refresh(ctx, clientID, c.FormValue("refresh_token"), c.FormValue("scope"))
		if err != nil {
			return oa.writeError(c, err)
		}
		return c.JSON(http.StatusOK, response)

	default:
		return oa.writeError(c, errors.NewUnsupportedGrantType())
	}
}

// RevokeHandler implements RFC 7009 token revocation.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	clientID, err := oa.authenticateClient(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	err = oa.service.Revoke(c.Request().Context(), clientID, c.FormValue("token"), c.FormValue("token_type_hint"))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// UserInfoHandler serves the claims the bearer token entitles its holder to,
// as JSON or, for clients registered for it, a signed JWT.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		c.Response().Header().Set("WWW-Authenticate", "Bearer")
		return oa.writeError(c, errors.NewInvalidToken("Missing bearer token"))
	}

	response, err := oa.service.UserInfo(c.Request().Context(), token)
	if err != nil {
		return oa.writeError(c, err)
	}
	if response.SignedJWT != "" {
		return c.Blob(http.StatusOK, "application/jwt", []byte(response.SignedJWT))
	}
	return c.JSON(http.StatusOK, response.Claims)
}

// JWKSHandler serves the verification key set.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, oa.service.JWKS())
}

// OpenIDConfigurationHandler serves the OIDC discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"issuer":                                oa.issuer,
		"authorization_endpoint":                oa.issuer + "/oauth2/authorize",
		"token_endpoint":                        oa.issuer + "/oauth2/token",
		"userinfo_endpoint":                     oa.issuer + "/oauth2/userinfo",
		"revocation_endpoint":                   oa.issuer + "/oauth2/revoke",
		"jwks_uri":                              oa.issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"pairwise"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"userinfo_signing_alg_values_supported": []string{"RS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"claims_supported": []string{
			"iss", "sub", "aud", "iat", "exp", "auth_time", "nonce",
			"email", "email_verified", "given_name", "family_name",
			"company", "team", "userid",
		},
		"scopes_supported": []string{"openid", "view", "modify", "download", "authorize", "offline_access"},
	})
}

// authenticateClient resolves and verifies the client credentials from basic
// auth or, failing that, the form body.
func (oa *OAuth2API) authenticateClient(c echo.Context) (string, error) {
	clientID, secret, ok := c.Request().BasicAuth()
	if !ok {
		clientID = c.FormValue("client_id")
		secret = c.FormValue("client_secret")
	}
	if clientID == "" {
		return "", errors.NewInvalidClient("Missing client credentials")
	}
	if secret == "" {
		return "", errors.NewInvalidClient("Missing client secret")
	}
	client, err := oa.registry.Authenticate(c.Request().Context(), clientID, secret)
	if err != nil {
		return "", err
	}
	return client.ID, nil
}

// authorizationRedirect appends the code and optional state to the redirect
// URI, preserving any query string the client registered.
func authorizationRedirect(redirectURI, code, state string) (string, error) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	query := redirect.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	redirect.RawQuery = query.Encode()
	return redirect.String(), nil
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// writeError maps OAuth2 error codes to HTTP statuses and renders the
// standard error body.
func (oa *OAuth2API) writeError(c echo.Context, err error) error {
	oe, ok := err.(*errors.OAuth2Error)
	if !ok {
		log.Error().Err(err).Msg("unexpected error in HTTP handler")
		oe = errors.NewServerError("Internal server error")
	}

	status := http.StatusBadRequest
	switch oe.Code {
	case errors.InvalidClient, errors.UnverifiedClient, errors.InvalidToken, errors.LoginRequired:
		status = http.StatusUnauthorized
	case errors.AccessDenied:
		status = http.StatusForbidden
	case errors.NotFound:
		status = http.StatusNotFound
	case errors.ConflictingUpdate:
		status = http.StatusConflict
	case errors.ServerError:
		status = http.StatusInternalServerError
	case errors.TemporarilyUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusUnauthorized && oe.Code == errors.InvalidToken {
		c.Response().Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	return c.JSON(status, oe)
}

// requireUser resolves the user and rejects anonymous requests.
func (oa *OAuth2API) requireUser(c echo.Context) (string, error) {
	userID, _, err := oa.resolve(c)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.NewLoginRequired()
	}
	return userID, nil
}
