package domain

import "time"

// Client is the registered metadata of an OAuth2/OIDC client.
type Client struct {
	ID           string   `bson:"_id"           json:"client_id"`
	Name         string   `bson:"name"          json:"client_name"`
	RedirectURIs []string `bson:"redirect_uris" json:"redirect_uris"`

	// SectorIdentifierURI, when set, points to an HTTPS-hosted JSON list of
	// redirect URIs shared by all clients of one sector. Sector is the
	// resolved sector host, set by the registry on create/update.
	SectorIdentifierURI string `bson:"sector_identifier_uri,omitempty" json:"sector_identifier_uri,omitempty"`
	Sector              string `bson:"sector"                          json:"sector"`

	// UserinfoSignedResponseAlg, when set, asks for the userinfo response to
	// be returned as a signed JWT instead of plain JSON.
	UserinfoSignedResponseAlg string `bson:"userinfo_signed_response_alg,omitempty" json:"userinfo_signed_response_alg,omitempty"`

	ClientURI string `bson:"client_uri,omitempty" json:"client_uri,omitempty"`
	PolicyURI string `bson:"policy_uri,omitempty" json:"policy_uri,omitempty"`
	TosURI    string `bson:"tos_uri,omitempty"    json:"tos_uri,omitempty"`

	// Verified is administrative approval. Unverified clients are blocked
	// from authorization and token issuance.
	Verified bool `bson:"verified" json:"verified"`

	SecretHash string    `bson:"secret_hash,omitempty" json:"-"`
	CreatedBy  string    `bson:"created_by"            json:"created_by"`
	CreatedAt  time.Time `bson:"created_at"            json:"created_at"`
	ModifiedAt time.Time `bson:"modified_at"           json:"modified_at"`
	Etag       string    `bson:"etag"                  json:"etag"`
}

// HasRedirectURI reports whether uri is registered for the client.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// SectorIdentifier pairs a sector host with the secret used to derive
// pairwise pseudonymous subject identifiers for every client in the sector.
// Created lazily the first time a client resolves to a new sector.
type SectorIdentifier struct {
	Host      string    `bson:"_id"        json:"host"`
	Secret    string    `bson:"secret"     json:"-"`
	CreatedBy string    `bson:"created_by" json:"created_by"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// ConsentRecord remembers that a user granted a client a specific scope and
// claims combination. A different combination hashes differently and
// requires fresh consent.
type ConsentRecord struct {
	UserID    string    `bson:"user_id"    json:"user_id"`
	ClientID  string    `bson:"client_id"  json:"client_id"`
	ScopeHash string    `bson:"scope_hash" json:"scope_hash"`
	GrantedAt time.Time `bson:"granted_at" json:"granted_at"`
}

// Profile carries the user attributes claim providers draw from. Assembled by
// an external user store; this core never writes it.
type Profile struct {
	UserID        string `bson:"_id"            json:"user_id"`
	Email         string `bson:"email"          json:"email"`
	EmailVerified bool   `bson:"email_verified" json:"email_verified"`
	GivenName     string `bson:"given_name"     json:"given_name"`
	FamilyName    string `bson:"family_name"    json:"family_name"`
	Company       string `bson:"company"        json:"company"`
}
