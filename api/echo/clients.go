package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	oidc "go.scistack.dev/oidc"
	"go.scistack.dev/oidc/errors"
)

func (oa *OAuth2API) registerClientRoutes(e *echo.Echo) {
	e.POST("/oauth2/client", oa.CreateClientHandler)
	e.GET("/oauth2/client/:id", oa.GetClientHandler)
	e.PUT("/oauth2/client/:id", oa.UpdateClientHandler)
	e.DELETE("/oauth2/client/:id", oa.DeleteClientHandler)
	e.POST("/oauth2/client/:id/secret", oa.GenerateClientSecretHandler)
}

// CreateClientHandler registers a new, unverified client.
func (oa *OAuth2API) CreateClientHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	var meta oidc.ClientMetadata
	if err := c.Bind(&meta); err != nil {
		return oa.writeError(c, errors.NewInvalidRequest("Malformed client metadata"))
	}

	client, err := oa.registry.Register(c.Request().Context(), userID, &meta)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, client)
}

func (oa *OAuth2API) GetClientHandler(c echo.Context) error {
	if _, err := oa.requireUser(c); err != nil {
		return oa.writeError(c, err)
	}
	client, err := oa.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

// UpdateClientHandler applies new metadata. The caller passes the etag it
// last saw in the If-Match header; only the client's creator may update it.
func (oa *OAuth2API) UpdateClientHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	existing, err := oa.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	if existing.CreatedBy != userID {
		return oa.writeError(c, errors.NewAccessDenied("Only the client's creator may update it"))
	}

	var meta oidc.ClientMetadata
	if err := c.Bind(&meta); err != nil {
		return oa.writeError(c, errors.NewInvalidRequest("Malformed client metadata"))
	}

	client, err := oa.registry.Update(c.Request().Context(), c.Param("id"), c.Request().Header.Get("If-Match"), &meta)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, client)
}

func (oa *OAuth2API) DeleteClientHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	existing, err := oa.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	if existing.CreatedBy != userID {
		return oa.writeError(c, errors.NewAccessDenied("Only the client's creator may delete it"))
	}

	if err := oa.registry.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return oa.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GenerateClientSecretHandler mints a new secret and returns its plaintext
// exactly once.
func (oa *OAuth2API) GenerateClientSecretHandler(c echo.Context) error {
	userID, err := oa.requireUser(c)
	if err != nil {
		return oa.writeError(c, err)
	}

	existing, err := oa.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	if existing.CreatedBy != userID {
		return oa.writeError(c, errors.NewAccessDenied("Only the client's creator may rotate its secret"))
	}

	secret, err := oa.registry.GenerateSecret(c.Request().Context(), c.Param("id"))
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"client_id":     c.Param("id"),
		"client_secret": secret,
	})
}
