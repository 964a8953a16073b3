package oidc

import (
	"context"

	"go.scistack.dev/oidc/domain"
)

// profileClaimProvider serves a claim from a single user profile field.
type profileClaimProvider struct {
	name        domain.ClaimName
	description string
	profiles    domain.ProfileRepository
	extract     func(p *domain.Profile) (any, bool)
}

func (c *profileClaimProvider) ClaimName() domain.ClaimName { return c.name }
func (c *profileClaimProvider) Description() string         { return c.description }

func (c *profileClaimProvider) Value(ctx context.Context, userID string, _ *domain.ClaimDetail) (any, error) {
	profile, err := c.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	value, ok := c.extract(profile)
	if !ok {
		return nil, ErrClaimAbsent
	}
	return value, nil
}

// teamClaimProvider answers the team claim: of the team ids the client asked
// about, which is the user a member of.
type teamClaimProvider struct {
	profiles domain.ProfileRepository
}

func (c *teamClaimProvider) ClaimName() domain.ClaimName { return domain.ClaimTeam }
func (c *teamClaimProvider) Description() string         { return "Your team membership" }

func (c *teamClaimProvider) Value(ctx context.Context, userID string, detail *domain.ClaimDetail) (any, error) {
	if detail == nil {
		return nil, ErrClaimAbsent
	}
	var requested []string
	if detail.Value != "" {
		requested = append(requested, detail.Value)
	}
	requested = append(requested, detail.Values...)
	if len(requested) == 0 {
		return nil, ErrClaimAbsent
	}
	member, err := c.profiles.MemberTeamIDs(ctx, userID, requested)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// useridClaimProvider returns the internal user id. Unlike the token subject
// it is never pseudonymized; clients must request it explicitly.
type useridClaimProvider struct{}

func (useridClaimProvider) ClaimName() domain.ClaimName { return domain.ClaimUserID }
func (useridClaimProvider) Description() string         { return "Your user ID" }

func (useridClaimProvider) Value(_ context.Context, userID string, _ *domain.ClaimDetail) (any, error) {
	return userID, nil
}

// StandardClaimProviders builds the provider set for the claims this
// provider understands, all backed by the given profile store.
func StandardClaimProviders(profiles domain.ProfileRepository) []ClaimProvider {
	nonEmpty := func(s string) (any, bool) { return s, s != "" }
	return []ClaimProvider{
		&profileClaimProvider{
			name:        domain.ClaimEmail,
			description: "Your email address",
			profiles:    profiles,
			extract:     func(p *domain.Profile) (any, bool) { return nonEmpty(p.Email) },
		},
		&profileClaimProvider{
			name:        domain.ClaimEmailVerified,
			description: "Your email address",
			profiles:    profiles,
			extract: func(p *domain.Profile) (any, bool) {
				if p.Email == "" {
					return nil, false
				}
				return p.EmailVerified, true
			},
		},
		&profileClaimProvider{
			name:        domain.ClaimGivenName,
			description: "Your first name, if you share it",
			profiles:    profiles,
			extract:     func(p *domain.Profile) (any, bool) { return nonEmpty(p.GivenName) },
		},
		&profileClaimProvider{
			name:        domain.ClaimFamilyName,
			description: "Your last name, if you share it",
			profiles:    profiles,
			extract:     func(p *domain.Profile) (any, bool) { return nonEmpty(p.FamilyName) },
		},
		&profileClaimProvider{
			name:        domain.ClaimCompany,
			description: "Your company, if you share it",
			profiles:    profiles,
			extract:     func(p *domain.Profile) (any, bool) { return nonEmpty(p.Company) },
		},
		&teamClaimProvider{profiles: profiles},
		useridClaimProvider{},
	}
}
