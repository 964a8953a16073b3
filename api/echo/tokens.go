package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"go.scistack.dev/oidc/errors"
)

func (oa *OAuth2API) registerTokenManagementRoutes(e *echo.Echo) {
	e.GET("/oauth2/refreshTokens", oa.ListRefreshTokensHandler)
	e.GET("/oauth2/refreshTokens/:id", oa.GetRefreshTokenHandler)
	e.PUT("/oauth2/refreshTokens/:id", oa.RenameRefreshTokenHandler)
	e.DELETE("/oauth2/refreshTokens/:id", oa.RevokeRefreshTokenHandler)
	e.DELETE("/oauth2/grants/:clientId", oa.RevokeAuthorizationHandler)
}

// ListRefreshTokensHandler lists the caller's active refresh tokens for one
// client, most recently used first.
func (oa *OAuth2API) ListRefreshTokensHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	clientID := c.QueryParam("client_id")
	if clientID == "" {
		return oa.writeError(c, errors.NewInvalidRequest("Missing client_id"))
	}
	records, err := oa.service.RefreshTokens().ListActive(c.Request().Context(), userID, clientID)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": records})
}

func (oa *OAuth2API) GetRefreshTokenHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	record, err := oa.service.RefreshTokens().Get(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// RenameRefreshTokenHandler updates a token's display name under optimistic
// concurrency via the If-Match header.
func (oa *OAuth2API) RenameRefreshTokenHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" {
		return oa.writeError(c, errors.NewInvalidRequest("Missing token name"))
	}

	record, err := oa.service.RefreshTokens().UpdateMetadata(
		c.Request().Context(), userID, c.Param("id"), body.Name, c.Request().Header.Get("If-Match"))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

func (oa *OAuth2API) RevokeRefreshTokenHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	if err := oa.service.RefreshTokens().Revoke(c.Request().Context(), userID, c.Param("id")); err != nil {
		return oa.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeAuthorizationHandler withdraws everything the caller granted to a
// client: refresh token chains and consent history.
func (oa *OAuth2API) RevokeAuthorizationHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}
	if err := oa.service.RevokeAuthorization(c.Request().Context(), userID, c.Param("clientId")); err != nil {
		return oa.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
