package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResponseType is the OAuth2 response_type parameter. Only the authorization
// code flow is supported.
type ResponseType string

const ResponseTypeCode ResponseType = "code"

// Scope is an OAuth2 scope token understood by this provider.
type Scope string

const (
	ScopeOpenID        Scope = "openid"
	ScopeView          Scope = "view"
	ScopeModify        Scope = "modify"
	ScopeDownload      Scope = "download"
	ScopeAuthorize     Scope = "authorize"
	ScopeOfflineAccess Scope = "offline_access"
)

var knownScopes = map[Scope]struct{}{
	ScopeOpenID:        {},
	ScopeView:          {},
	ScopeModify:        {},
	ScopeDownload:      {},
	ScopeAuthorize:     {},
	ScopeOfflineAccess: {},
}

// ParseScopes splits a space-delimited scope string into scope tokens.
// An unrecognized token is an error, surfaced by callers as invalid_scope.
func ParseScopes(s string) ([]Scope, error) {
	var result []Scope
	for _, tok := range strings.Fields(s) {
		scope := Scope(tok)
		if _, ok := knownScopes[scope]; !ok {
			return nil, fmt.Errorf("unrecognized scope: %s", tok)
		}
		result = append(result, scope)
	}
	return result, nil
}

// ScopesContain reports whether the scope set includes the given scope.
func ScopesContain(scopes []Scope, scope Scope) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopeString joins scopes into the space-delimited wire form.
func ScopeString(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

// AuthorizationRequest is a fully-validated authorization grant. It is never
// stored server-side: the request is serialized in its entirety into the
// encrypted authorization code and reconstructed at redemption.
type AuthorizationRequest struct {
	ClientID     string         `json:"client_id"`
	RedirectURI  string         `json:"redirect_uri"`
	ResponseType ResponseType   `json:"response_type"`
	Scopes       []Scope        `json:"scope"`
	Claims       *ClaimsRequest `json:"claims,omitempty"`
	Nonce        string         `json:"nonce,omitempty"`

	// Set exactly once, when the user consents and the code is minted.
	UserID          string     `json:"user_id"`
	AuthorizedAt    time.Time  `json:"authorized_at"`
	AuthenticatedAt *time.Time `json:"authenticated_at,omitempty"`
}
