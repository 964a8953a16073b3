package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"sort"
	"time"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// ConsentLedger remembers which scope and claims combinations a user has
// granted to which client, so the consent screen is skipped for a repeat of
// an identical request within the consent TTL. Any difference in scopes or
// requested claims hashes differently and requires fresh consent.
type ConsentLedger struct {
	consents domain.ConsentRepository
	ttl      time.Duration
	now      func() time.Time
}

func NewConsentLedger(consents domain.ConsentRepository) *ConsentLedger {
	return &ConsentLedger{
		consents: consents,
		ttl:      ConsentTTL,
		now:      time.Now,
	}
}

// HasConsent reports whether the user granted this exact scope and claims
// combination to the client within the TTL.
func (l *ConsentLedger) HasConsent(ctx context.Context, userID, clientID string, scopes []domain.Scope, claims *domain.ClaimsRequest) (bool, error) {
	hash, err := ScopeHash(scopes, claims)
	if err != nil {
		return false, err
	}
	record, err := l.consents.Get(ctx, userID, clientID, hash)
	if stderrors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewServerError("failed to look up consent: " + err.Error())
	}
	return l.now().Sub(record.GrantedAt) <= l.ttl, nil
}

// RecordConsent stores or refreshes the consent decision.
func (l *ConsentLedger) RecordConsent(ctx context.Context, userID, clientID string, scopes []domain.Scope, claims *domain.ClaimsRequest) error {
	hash, err := ScopeHash(scopes, claims)
	if err != nil {
		return err
	}
	record := &domain.ConsentRecord{
		UserID:    userID,
		ClientID:  clientID,
		ScopeHash: hash,
		GrantedAt: l.now().UTC().Truncate(time.Millisecond),
	}
	if err := l.consents.Put(ctx, record); err != nil {
		return errors.NewServerError("failed to record consent: " + err.Error())
	}
	return nil
}

// RevokeConsent forgets every consent decision the user made for the client.
func (l *ConsentLedger) RevokeConsent(ctx context.Context, userID, clientID string) error {
	if err := l.consents.DeleteAllForPair(ctx, userID, clientID); err != nil {
		return errors.NewServerError("failed to revoke consent: " + err.Error())
	}
	return nil
}

// ScopeHash canonicalizes a scope set and normalized claims request into one
// hash. Scopes are sorted so order never matters; the claims request
// serializes with sorted keys, so semantically equal requests always collide.
func ScopeHash(scopes []domain.Scope, claims *domain.ClaimsRequest) (string, error) {
	sorted := make([]string, len(scopes))
	for i, s := range scopes {
		sorted[i] = string(s)
	}
	sort.Strings(sorted)

	if claims == nil {
		claims = domain.NewClaimsRequest()
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", errors.NewServerError("failed to serialize claims request")
	}

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write(claimsJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}
