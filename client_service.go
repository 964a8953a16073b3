package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	stderrors "errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

// ClientMetadata is the mutable registration data of a client.
type ClientMetadata struct {
	Name                      string   `json:"client_name"                  validate:"required,min=1,max=256"`
	RedirectURIs              []string `json:"redirect_uris"                validate:"required,min=1,dive,uri"`
	SectorIdentifierURI       string   `json:"sector_identifier_uri"        validate:"omitempty,uri"`
	UserinfoSignedResponseAlg string   `json:"userinfo_signed_response_alg" validate:"omitempty,oneof=RS256"`
	ClientURI                 string   `json:"client_uri"                   validate:"omitempty,uri"`
	PolicyURI                 string   `json:"policy_uri"                   validate:"omitempty,uri"`
	TosURI                    string   `json:"tos_uri"                      validate:"omitempty,uri"`
}

// ClientRegistry manages client registrations and the sector identifiers
// behind the pairwise subject mapping. Sector records are created lazily with
// a fresh secret the first time a client resolves to an unseen sector.
type ClientRegistry struct {
	clients  domain.ClientRepository
	sectors  domain.SectorIdentifierRepository
	resolver *SectorIdentifierResolver
	validate *validator.Validate
	now      func() time.Time
}

func NewClientRegistry(clients domain.ClientRepository, sectors domain.SectorIdentifierRepository, resolver *SectorIdentifierResolver) *ClientRegistry {
	return &ClientRegistry{
		clients:  clients,
		sectors:  sectors,
		resolver: resolver,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Register creates a client from its metadata. The client starts unverified
// and cannot take part in any flow until an administrator approves it.
func (r *ClientRegistry) Register(ctx context.Context, createdBy string, meta *ClientMetadata) (*domain.Client, error) {
	if err := r.validate.Struct(meta); err != nil {
		return nil, errors.NewInvalidRequest("Invalid client metadata: " + err.Error())
	}

	sector, err := r.resolveSector(ctx, createdBy, meta)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	client := &domain.Client{
		ID:                        uuid.NewString(),
		Name:                      meta.Name,
		RedirectURIs:              meta.RedirectURIs,
		SectorIdentifierURI:       meta.SectorIdentifierURI,
		Sector:                    sector,
		UserinfoSignedResponseAlg: meta.UserinfoSignedResponseAlg,
		ClientURI:                 meta.ClientURI,
		PolicyURI:                 meta.PolicyURI,
		TosURI:                    meta.TosURI,
		Verified:                  false,
		CreatedBy:                 createdBy,
		CreatedAt:                 now,
		ModifiedAt:                now,
		Etag:                      uuid.NewString(),
	}
	if err := r.clients.Create(ctx, client); err != nil {
		return nil, errors.NewServerError("failed to store client: " + err.Error())
	}

	log.Info().Str("client_id", client.ID).Str("sector", sector).Msg("registered OAuth client")
	return client, nil
}

// Get returns a client by id.
func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*domain.Client, error) {
	client, err := r.clients.Get(ctx, clientID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, errors.NewInvalidClient("Invalid OAuth client ID: " + clientID)
	}
	if err != nil {
		return nil, errors.NewServerError("failed to look up client: " + err.Error())
	}
	return client, nil
}

// GetVerified returns a client that is allowed to take part in flows.
func (r *ClientRegistry) GetVerified(ctx context.Context, clientID string) (*domain.Client, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.Verified {
		return nil, errors.NewUnverifiedClient(clientID)
	}
	return client, nil
}

// Update applies new metadata under optimistic concurrency. A change that
// moves the client to a different sector withdraws verification: the new
// sector changes every subject identifier the client will see, which needs
// administrative review.
func (r *ClientRegistry) Update(ctx context.Context, clientID, etag string, meta *ClientMetadata) (*domain.Client, error) {
	if err := r.validate.Struct(meta); err != nil {
		return nil, errors.NewInvalidRequest("Invalid client metadata: " + err.Error())
	}

	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Etag != etag {
		return nil, errors.NewConflictingUpdate("Client was updated since you last fetched it, retrieve it again and reapply the update")
	}

	sector, err := r.resolveSector(ctx, client.CreatedBy, meta)
	if err != nil {
		return nil, err
	}
	if sector != client.Sector {
		log.Info().Str("client_id", clientID).Str("old", client.Sector).Str("new", sector).
			Msg("client changed sector, verification withdrawn")
		client.Verified = false
	}

	client.Name = meta.Name
	client.RedirectURIs = meta.RedirectURIs
	client.SectorIdentifierURI = meta.SectorIdentifierURI
	client.Sector = sector
	client.UserinfoSignedResponseAlg = meta.UserinfoSignedResponseAlg
	client.ClientURI = meta.ClientURI
	client.PolicyURI = meta.PolicyURI
	client.TosURI = meta.TosURI
	client.ModifiedAt = r.now().UTC().Truncate(time.Millisecond)
	client.Etag = uuid.NewString()

	if err := r.clients.Update(ctx, client); err != nil {
		return nil, errors.NewServerError("failed to update client: " + err.Error())
	}
	return client, nil
}

// SetVerified records the administrative approval decision.
func (r *ClientRegistry) SetVerified(ctx context.Context, clientID string, verified bool) (*domain.Client, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	client.Verified = verified
	client.ModifiedAt = r.now().UTC().Truncate(time.Millisecond)
	client.Etag = uuid.NewString()
	if err := r.clients.Update(ctx, client); err != nil {
		return nil, errors.NewServerError("failed to update client: " + err.Error())
	}
	return client, nil
}

// Delete removes a client registration.
func (r *ClientRegistry) Delete(ctx context.Context, clientID string) error {
	if err := r.clients.Delete(ctx, clientID); err != nil && !stderrors.Is(err, domain.ErrNotFound) {
		return errors.NewServerError("failed to delete client: " + err.Error())
	}
	return nil
}

// GenerateSecret mints a new client secret, stores its bcrypt hash and
// returns the plaintext once. Any previous secret stops working.
func (r *ClientRegistry) GenerateSecret(ctx context.Context, clientID string) (string, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.NewServerError("failed to generate client secret")
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.NewServerError("failed to hash client secret")
	}

	client.SecretHash = string(hash)
	client.ModifiedAt = r.now().UTC().Truncate(time.Millisecond)
	client.Etag = uuid.NewString()
	if err := r.clients.Update(ctx, client); err != nil {
		return "", errors.NewServerError("failed to store client secret: " + err.Error())
	}
	return secret, nil
}

// Authenticate checks a client id and secret pair.
func (r *ClientRegistry) Authenticate(ctx context.Context, clientID, secret string) (*domain.Client, error) {
	client, err := r.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.SecretHash == "" {
		return nil, errors.NewInvalidClient("Client has no secret configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, errors.NewInvalidClient("Invalid client credentials")
	}
	return client, nil
}

// resolveSector derives the sector for the metadata and makes sure a sector
// secret exists for it, creating one on first sight.
func (r *ClientRegistry) resolveSector(ctx context.Context, createdBy string, meta *ClientMetadata) (string, error) {
	sector, err := r.resolver.Resolve(ctx, meta.SectorIdentifierURI, meta.RedirectURIs)
	if err != nil {
		return "", err
	}

	_, err = r.sectors.Get(ctx, sector)
	if err == nil {
		return sector, nil
	}
	if !stderrors.Is(err, domain.ErrNotFound) {
		return "", errors.NewServerError("failed to look up sector identifier: " + err.Error())
	}

	secret, err := NewSectorSecret()
	if err != nil {
		return "", errors.NewServerError("failed to generate sector secret")
	}
	record := &domain.SectorIdentifier{
		Host:      sector,
		Secret:    secret,
		CreatedBy: createdBy,
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}
	if err := r.sectors.Create(ctx, record); err != nil {
		// A concurrent registration may have created it first.
		if _, getErr := r.sectors.Get(ctx, sector); getErr == nil {
			return sector, nil
		}
		return "", errors.NewServerError("failed to store sector identifier: " + err.Error())
	}
	log.Info().Str("sector", sector).Msg("created sector identifier")
	return sector, nil
}
