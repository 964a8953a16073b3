package oidc

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"

	"golang.org/x/crypto/chacha20poly1305"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// PairwiseCodec maps internal user identifiers to pairwise pseudonymous
// identifiers (PPIDs) and back. The mapping is deterministic per sector so a
// client always sees the same subject for a returning user, while clients in
// different sectors see unrelated values for the same user.
//
// One reserved first-party client is exempt: it receives the raw internal
// user id as subject.
type PairwiseCodec struct {
	clients            domain.ClientRepository
	sectors            domain.SectorIdentifierRepository
	firstPartyClientID string
}

func NewPairwiseCodec(clients domain.ClientRepository, sectors domain.SectorIdentifierRepository, firstPartyClientID string) *PairwiseCodec {
	return &PairwiseCodec{
		clients:            clients,
		sectors:            sectors,
		firstPartyClientID: firstPartyClientID,
	}
}

// NewSectorSecret generates a fresh 32-byte sector secret, encoded for
// storage.
func NewSectorSecret() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// PPID derives the pairwise subject identifier for a user towards a client.
func (p *PairwiseCodec) PPID(ctx context.Context, userID, clientID string) (string, error) {
	if clientID == p.firstPartyClientID {
		return userID, nil
	}
	secret, err := p.sectorSecret(ctx, clientID)
	if err != nil {
		return "", err
	}
	return encryptDeterministic(secret, userID)
}

// UserID inverts PPID for the same client.
func (p *PairwiseCodec) UserID(ctx context.Context, ppid, clientID string) (string, error) {
	if clientID == p.firstPartyClientID {
		return ppid, nil
	}
	secret, err := p.sectorSecret(ctx, clientID)
	if err != nil {
		return "", err
	}
	plain, err := decrypt(secret, ppid)
	if err != nil {
		return "", errors.NewInvalidToken("Subject identifier does not belong to this client")
	}
	return plain, nil
}

func (p *PairwiseCodec) sectorSecret(ctx context.Context, clientID string) ([]byte, error) {
	client, err := p.clients.Get(ctx, clientID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewInvalidClient("Invalid OAuth client ID: " + clientID)
	}
	if err != nil {
		return nil, err
	}
	sector, err := p.sectors.Get(ctx, client.Sector)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewServerError("no sector identifier registered for " + client.Sector)
	}
	if err != nil {
		return nil, err
	}
	key, err := base64.RawStdEncoding.DecodeString(sector.Secret)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, errors.NewServerError("malformed sector secret for " + client.Sector)
	}
	return key, nil
}

// encryptDeterministic seals plaintext under key with a nonce derived from
// the plaintext itself, so equal inputs always produce equal ciphertexts.
// Determinism is required here: a client must recognize a returning user by
// an identical subject value.
func encryptDeterministic(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("pairwise-nonce"))
	mac.Write([]byte(plaintext))
	nonce := mac.Sum(nil)[:chacha20poly1305.NonceSizeX]

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func decrypt(key []byte, encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX {
		return "", stderrors.New("malformed ciphertext")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
