package oidc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// ErrClaimAbsent is returned by a ClaimProvider when the claim has no value
// for the user. Per the UserInfo response rules the claim name is then
// omitted entirely, never present with a null or empty value.
var ErrClaimAbsent = stderrors.New("claim has no value for this user")

// ClaimProvider computes the value of one claim. Providers are registered at
// startup; the set never changes at runtime.
type ClaimProvider interface {
	ClaimName() domain.ClaimName

	// Description is the human-readable consent-screen text for the claim.
	Description() string

	Value(ctx context.Context, userID string, detail *domain.ClaimDetail) (any, error)
}

// ClaimsNegotiator normalizes claims request parameters and resolves claim
// values through the registered providers.
type ClaimsNegotiator struct {
	providers map[domain.ClaimName]ClaimProvider
}

func NewClaimsNegotiator(providers ...ClaimProvider) *ClaimsNegotiator {
	m := make(map[domain.ClaimName]ClaimProvider, len(providers))
	for _, p := range providers {
		m[p.ClaimName()] = p
	}
	return &ClaimsNegotiator{providers: m}
}

// Normalize parses the raw claims request parameter into its canonical form:
// unrecognized claim names are dropped, null detail objects become empty
// ones, and both maps are always non-nil. Downstream persistence and
// comparison never see nulls.
func (n *ClaimsNegotiator) Normalize(rawClaims string) (*domain.ClaimsRequest, error) {
	result := domain.NewClaimsRequest()
	if rawClaims == "" {
		return result, nil
	}

	var parsed struct {
		IDToken  map[domain.ClaimName]*domain.ClaimDetail `json:"id_token"`
		UserInfo map[domain.ClaimName]*domain.ClaimDetail `json:"userinfo"`
	}
	if err := json.Unmarshal([]byte(rawClaims), &parsed); err != nil {
		return nil, errors.NewInvalidRequest("claims parameter is not a valid JSON object")
	}

	result.IDToken = n.normalizeMap(parsed.IDToken)
	result.UserInfo = n.normalizeMap(parsed.UserInfo)
	return result, nil
}

func (n *ClaimsNegotiator) normalizeMap(in map[domain.ClaimName]*domain.ClaimDetail) map[domain.ClaimName]*domain.ClaimDetail {
	out := map[domain.ClaimName]*domain.ClaimDetail{}
	for name, detail := range in {
		if !name.Requestable() {
			continue
		}
		if _, ok := n.providers[name]; !ok {
			continue
		}
		if detail == nil {
			detail = &domain.ClaimDetail{}
		}
		out[name] = detail
	}
	return out
}

// Resolve computes the claim values for the requested claim map. The openid
// scope gates identity claims entirely: without it no claims are resolved
// and the token is a pure OAuth resource-access credential. A claim whose
// provider reports no value is omitted from the result.
func (n *ClaimsNegotiator) Resolve(ctx context.Context, userID string, scopes []domain.Scope, claimMap map[domain.ClaimName]*domain.ClaimDetail) (map[domain.ClaimName]any, error) {
	result := map[domain.ClaimName]any{}
	if !domain.ScopesContain(scopes, domain.ScopeOpenID) {
		return result, nil
	}

	for name, detail := range claimMap {
		provider, ok := n.providers[name]
		if !ok {
			continue
		}
		value, err := provider.Value(ctx, userID, detail)
		if stderrors.Is(err, ErrClaimAbsent) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

// Descriptions returns the sorted, de-duplicated consent-screen descriptions
// for every recognized claim in the request.
func (n *ClaimsNegotiator) Descriptions(req *domain.ClaimsRequest) []string {
	seen := map[string]struct{}{}
	for name := range req.IDToken {
		if p, ok := n.providers[name]; ok {
			seen[p.Description()] = struct{}{}
		}
	}
	for name := range req.UserInfo {
		if p, ok := n.providers[name]; ok {
			seen[p.Description()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
