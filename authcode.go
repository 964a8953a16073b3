package oidc

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// AuthorizationCodec turns a fully-validated authorization request into a
// self-contained authorization code and back. The code is the encrypted
// request itself: redemption needs no server-side lookup table, only the
// process-wide key. Replay protection rests on the short validity window and
// the redirect URI binding re-checked at redemption.
type AuthorizationCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewAuthorizationCodec creates a codec sealing codes with XChaCha20-Poly1305
// under the given 32-byte key.
func NewAuthorizationCodec(key []byte) (*AuthorizationCodec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.NewServerError("authorization code key must be 32 bytes")
	}
	return &AuthorizationCodec{
		key: key,
		ttl: AuthorizationCodeTTL,
		now: time.Now,
	}, nil
}

// Encode stamps AuthorizedAt and seals the request into an opaque code.
// AuthorizedAt is set here and nowhere else: it anchors the redemption
// window.
func (c *AuthorizationCodec) Encode(req *domain.AuthorizationRequest) (string, error) {
	req.AuthorizedAt = c.now().UTC().Truncate(time.Millisecond)

	payload, err := json.Marshal(req)
	if err != nil {
		return "", errors.NewServerError("failed to serialize authorization request")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", errors.NewServerError("failed to initialize authorization code cipher")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.NewServerError("failed to generate nonce")
	}

	sealed := aead.Seal(nonce, nonce, payload, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode unseals a code and enforces the redemption-time invariants: the
// validity window measured from AuthorizedAt, and exact equality of the
// redirect URI presented at redemption with the one sealed into the code.
//
// Decryption failures mean an expired key or a forged code and map to
// invalid_grant. A code that decrypts but does not deserialize indicates
// tampering or a serialization-version mismatch and is a distinct, fatal
// malformed-code error.
func (c *AuthorizationCodec) Decode(code, redirectURI string) (*domain.AuthorizationRequest, error) {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX {
		return nil, errors.NewInvalidGrant("Invalid authorization code")
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, errors.NewServerError("failed to initialize authorization code cipher")
	}

	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	payload, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.NewInvalidGrant("Invalid authorization code")
	}

	var req domain.AuthorizationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.NewInvalidRequest("Incorrectly formatted authorization code")
	}

	if c.now().Sub(req.AuthorizedAt) > c.ttl {
		return nil, errors.NewInvalidGrant("Authorization code has expired")
	}

	if req.RedirectURI != redirectURI {
		return nil, errors.NewInvalidGrant("Redirect URI does not match the authorization request")
	}

	return &req, nil
}
