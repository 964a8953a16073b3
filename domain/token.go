package domain

import "time"

// TokenType distinguishes the JWTs minted by this provider.
type TokenType string

const (
	TokenTypeIDToken     TokenType = "OIDC_ID_TOKEN"
	TokenTypeAccessToken TokenType = "OIDC_ACCESS_TOKEN"
)

// RefreshTokenRecord is the persisted state of a refresh token. Only the
// SHA-256 hash of the token is stored; the plaintext exists transiently in
// memory and in the one response sent to the client.
//
// TokenID is stable for the life of the grant: rotation replaces TokenHash,
// LastUsedAt and Etag in place so that the token's identity, name and consent
// history survive every redemption.
type RefreshTokenRecord struct {
	TokenID     string         `bson:"_id"           json:"token_id"`
	PrincipalID string         `bson:"principal_id"  json:"principal_id"`
	ClientID    string         `bson:"client_id"     json:"client_id"`
	Scopes      []Scope        `bson:"scopes"        json:"scopes"`
	Claims      *ClaimsRequest `bson:"claims"        json:"claims"`
	Name        string         `bson:"name"          json:"name"`
	TokenHash   string         `bson:"token_hash"    json:"-"`
	Etag        string         `bson:"etag"          json:"etag"`
	CreatedAt   time.Time      `bson:"created_at"    json:"created_at"`
	LastUsedAt  time.Time      `bson:"last_used_at"  json:"last_used_at"`
	ModifiedAt  time.Time      `bson:"modified_at"   json:"modified_at"`
}

// Active reports whether the record is within its idle lease. Inactive
// records are treated as expired even if not yet deleted.
func (r *RefreshTokenRecord) Active(now time.Time, lease time.Duration) bool {
	return now.Sub(r.LastUsedAt) <= lease
}

// AccessTokenRecord tracks an issued access token for revocation purposes
// only; the token's content lives in the signed JWT. Deleting the record
// invalidates the token independent of its signature and expiry.
type AccessTokenRecord struct {
	TokenID        string    `bson:"_id"                        json:"token_id"`
	PrincipalID    string    `bson:"principal_id"               json:"principal_id"`
	ClientID       string    `bson:"client_id"                  json:"client_id"`
	CreatedAt      time.Time `bson:"created_at"                 json:"created_at"`
	ExpiresAt      time.Time `bson:"expires_at"                 json:"expires_at"`
	RefreshTokenID string    `bson:"refresh_token_id,omitempty" json:"refresh_token_id,omitempty"`
	SessionID      string    `bson:"session_id,omitempty"       json:"session_id,omitempty"`
}

// TokenResponse is the token endpoint response shape (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}
