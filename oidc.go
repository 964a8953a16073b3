// Package oidc implements the authorization and token core of an OAuth 2.0 /
// OpenID Connect provider: self-contained encrypted authorization codes,
// pairwise pseudonymous subject identifiers, refresh token rotation with
// lease-based expiry, and signed token issuance with key rotation.
//
// The package assumes the caller is already authenticated and supplies a
// stable internal user identifier; user authentication, sessions and external
// identity provider bindings live outside this module.
package oidc

import "time"

const (
	// AuthorizationCodeTTL bounds the window between minting a code and
	// redeeming it. Codes are stateless, so this window is the only replay
	// protection.
	AuthorizationCodeTTL = time.Minute

	// IDTokenTTL is deliberately short: ID tokens prove a fresh
	// authentication event, nothing more.
	IDTokenTTL = time.Minute

	// AccessTokenTTL is the signed lifetime of access tokens.
	AccessTokenTTL = 24 * time.Hour

	// RefreshTokenLease is the idle window after which an unused refresh
	// token is treated as expired even if its hash is still stored.
	RefreshTokenLease = 180 * 24 * time.Hour

	// MaxRefreshTokensPerPair caps refresh tokens per (user, client) pair.
	// Creation evicts least-recently-used records beyond the cap.
	MaxRefreshTokensPerPair = 100

	// ConsentTTL is how long a recorded consent decision allows skipping the
	// consent screen for an identical scope and claims combination.
	ConsentTTL = 365 * 24 * time.Hour
)
