package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.scistack.dev/oidc/errors"
)

// maxSectorFileSize bounds the sector identifier document we are willing to
// read from a client-controlled URL.
const maxSectorFileSize = 1 << 20

// SectorIdentifierResolver derives the sector a client belongs to, as per
// https://openid.net/specs/openid-connect-core-1_0.html#PairwiseAlg
//
// Clients sharing a sector receive the same pairwise subject identifier for a
// given user; clients in different sectors cannot correlate users.
type SectorIdentifierResolver struct {
	httpClient *http.Client
}

func NewSectorIdentifierResolver(httpClient *http.Client) *SectorIdentifierResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SectorIdentifierResolver{httpClient: httpClient}
}

// Resolve returns the sector host for a client's registration data.
//
// With no sector_identifier_uri, every registered redirect URI must share one
// host and that host is the sector. With one, the URI must be HTTPS, its
// document must list at least all registered redirect URIs, and the URI's own
// host is the sector. Violations are configuration errors, not transient
// failures, and are not retried here; only the fetch itself is retryable.
func (r *SectorIdentifierResolver) Resolve(ctx context.Context, sectorIdentifierURI string, redirectURIs []string) (string, error) {
	if sectorIdentifierURI == "" {
		if len(redirectURIs) == 0 {
			return "", errors.NewInvalidRequest("Missing redirect URI")
		}
		host := ""
		for _, raw := range redirectURIs {
			u, err := url.Parse(raw)
			if err != nil || u.Host == "" {
				return "", errors.NewInvalidRequest("Redirect URI " + raw + " is not a valid URI")
			}
			if host == "" {
				host = u.Hostname()
				continue
			}
			if host != u.Hostname() {
				return "", errors.NewInvalidRequest(
					"If redirect URIs do not share a common host, register a sector identifier URI")
			}
		}
		return host, nil
	}

	u, err := url.Parse(sectorIdentifierURI)
	if err != nil || u.Host == "" {
		return "", errors.NewInvalidRequest("Sector identifier URI is not a valid URI")
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", errors.NewInvalidRequest("Sector identifier URI must use the https scheme")
	}

	hosted, err := r.readSectorFile(ctx, sectorIdentifierURI)
	if err != nil {
		return "", err
	}

	listed := make(map[string]struct{}, len(hosted))
	for _, uri := range hosted {
		listed[uri] = struct{}{}
	}
	for _, uri := range redirectURIs {
		if _, ok := listed[uri]; !ok {
			return "", errors.NewInvalidRequest(
				"Redirect URI " + uri + " is not listed in the document at " + sectorIdentifierURI)
		}
	}

	return u.Hostname(), nil
}

// readSectorFile fetches and parses a sector identifier document: a JSON
// array of URI strings. Network failures are surfaced as temporarily
// unavailable so callers can retry the registration.
func (r *SectorIdentifierResolver) readSectorFile(ctx context.Context, uri string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.NewInvalidRequest("Sector identifier URI is not a valid URI")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("uri", uri).Msg("failed to fetch sector identifier document")
		return nil, &errors.OAuth2Error{
			Code:        errors.TemporarilyUnavailable,
			Description: "Failed to read the content of " + uri + ". Check the URL and the file at the address, then try again.",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.OAuth2Error{
			Code:        errors.TemporarilyUnavailable,
			Description: "Received " + resp.Status + " while trying to read the content of " + uri,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSectorFileSize))
	if err != nil {
		return nil, &errors.OAuth2Error{
			Code:        errors.TemporarilyUnavailable,
			Description: "Failed to read the content of " + uri,
		}
	}

	var uris []string
	if err := json.Unmarshal(body, &uris); err != nil {
		return nil, errors.NewInvalidRequest("The content of " + uri + " is not a valid JSON array of strings")
	}
	return uris, nil
}
