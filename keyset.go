package oidc

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"math/big"

	"github.com/golang-jwt/jwt/v5"

	"go.scistack.dev/oidc/errors"
	"go.scistack.dev/oidc/internal/crypto"
)

// JSONWebKey is the public representation of one verification key.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the JWKS document served at the key-discovery endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

type signingKey struct {
	kid     string
	private *rsa.PrivateKey
}

// SigningKeyManager holds the rotating set of RSA signing keys. Keys are
// loaded once at startup and read-only thereafter: signing always uses the
// newest (last configured) key, verification accepts the whole set, matched
// by the kid token header.
type SigningKeyManager struct {
	keys  []signingKey
	byKid map[string]*rsa.PrivateKey
}

// NewSigningKeyManager parses the configured PEM-encoded RSA private keys,
// oldest first. At least one key is required.
func NewSigningKeyManager(pemKeys []string) (*SigningKeyManager, error) {
	if len(pemKeys) == 0 {
		return nil, errors.NewServerError("at least one signing key must be configured")
	}

	m := &SigningKeyManager{byKid: make(map[string]*rsa.PrivateKey, len(pemKeys))}
	for _, pemKey := range pemKeys {
		private, err := crypto.ParseRSAPrivateKeyPEM(pemKey)
		if err != nil {
			return nil, errors.NewServerError("invalid signing key: " + err.Error())
		}
		kid, err := KeyID(&private.PublicKey)
		if err != nil {
			return nil, errors.NewServerError("failed to derive key id: " + err.Error())
		}
		m.keys = append(m.keys, signingKey{kid: kid, private: private})
		m.byKid[kid] = private
	}
	return m, nil
}

// KeyID derives a key's kid from its public material alone, so the same key
// yields the same kid across restarts, processes and reordered
// configuration lists.
func KeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// SigningKid returns the kid tokens are currently signed with.
func (m *SigningKeyManager) SigningKid() string {
	return m.keys[len(m.keys)-1].kid
}

// Sign produces a compact RS256 JWS over claims using the newest key.
func (m *SigningKeyManager) Sign(claims jwt.Claims) (string, error) {
	newest := m.keys[len(m.keys)-1]
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = newest.kid
	signed, err := token.SignedString(newest.private)
	if err != nil {
		return "", errors.NewServerError("failed to sign token: " + err.Error())
	}
	return signed, nil
}

// Parse verifies a compact JWS against the active key set, matching by the
// kid header. Signature and registered time claims (exp, nbf) are enforced;
// any failure maps to invalid_token.
func (m *SigningKeyManager) Parse(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		private, ok := m.byKid[kid]
		if !ok {
			return nil, errors.NewInvalidToken("unknown signing key " + kid)
		}
		return &private.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, errors.NewInvalidToken("token verification failed: " + err.Error())
	}
	return claims, nil
}

// JWKS exports the public half of every active verification key.
func (m *SigningKeyManager) JWKS() JSONWebKeySet {
	keys := make([]JSONWebKey, 0, len(m.keys))
	for _, k := range m.keys {
		pub := &k.private.PublicKey
		keys = append(keys, JSONWebKey{
			Kid: k.kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return JSONWebKeySet{Keys: keys}
}
