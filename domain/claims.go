package domain

// ClaimName identifies an OIDC claim understood by this provider. The set is
// fixed at compile time; unrecognized names in a claims request are dropped
// during normalization.
type ClaimName string

const (
	ClaimIss            ClaimName = "iss"
	ClaimSub            ClaimName = "sub"
	ClaimAud            ClaimName = "aud"
	ClaimIat            ClaimName = "iat"
	ClaimNbf            ClaimName = "nbf"
	ClaimExp            ClaimName = "exp"
	ClaimJti            ClaimName = "jti"
	ClaimAuthTime       ClaimName = "auth_time"
	ClaimNonce          ClaimName = "nonce"
	ClaimEmail          ClaimName = "email"
	ClaimEmailVerified  ClaimName = "email_verified"
	ClaimGivenName      ClaimName = "given_name"
	ClaimFamilyName     ClaimName = "family_name"
	ClaimCompany        ClaimName = "company"
	ClaimTeam           ClaimName = "team"
	ClaimUserID         ClaimName = "userid"
	ClaimScope          ClaimName = "scope"
	ClaimTokenType      ClaimName = "token_type"
	ClaimRefreshTokenID ClaimName = "refresh_token_id"
	ClaimUserInfoClaims ClaimName = "userinfo_claims"
)

// requestableClaims are the claim names a client may ask for via the claims
// request parameter. Registered claims (iss, aud, ...) are always set by the
// token issuer and cannot be requested.
var requestableClaims = map[ClaimName]struct{}{
	ClaimEmail:         {},
	ClaimEmailVerified: {},
	ClaimGivenName:     {},
	ClaimFamilyName:    {},
	ClaimCompany:       {},
	ClaimTeam:          {},
	ClaimUserID:        {},
}

// Requestable reports whether a client may request this claim by name.
func (c ClaimName) Requestable() bool {
	_, ok := requestableClaims[c]
	return ok
}

// ClaimDetail carries the optional per-claim request parameters from
// https://openid.net/specs/openid-connect-core-1_0.html#ClaimsParameter
type ClaimDetail struct {
	Essential bool     `json:"essential,omitempty" bson:"essential,omitempty"`
	Value     string   `json:"value,omitempty"     bson:"value,omitempty"`
	Values    []string `json:"values,omitempty"    bson:"values,omitempty"`
}

// ClaimsRequest is the normalized form of the OIDC claims request parameter.
// Maps are never nil after normalization, so persistence and comparison do not
// have to deal with the null/absent distinction of the wire format.
type ClaimsRequest struct {
	IDToken  map[ClaimName]*ClaimDetail `json:"id_token"  bson:"id_token"`
	UserInfo map[ClaimName]*ClaimDetail `json:"userinfo"  bson:"userinfo"`
}

// NewClaimsRequest returns an empty, non-nil claims request.
func NewClaimsRequest() *ClaimsRequest {
	return &ClaimsRequest{
		IDToken:  map[ClaimName]*ClaimDetail{},
		UserInfo: map[ClaimName]*ClaimDetail{},
	}
}
