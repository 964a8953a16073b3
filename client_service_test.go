package oidc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.scistack.dev/oidc/errors"
)

func newTestRegistry(t *testing.T) (*ClientRegistry, *fakeClientRepo, *fakeSectorRepo) {
	t.Helper()
	clients := newFakeClientRepo()
	sectors := newFakeSectorRepo()
	return NewClientRegistry(clients, sectors, NewSectorIdentifierResolver(nil)), clients, sectors
}

func validMetadata() *ClientMetadata {
	return &ClientMetadata{
		Name:         "Example App",
		RedirectURIs: []string{"https://app.example.org/callback"},
	}
}

func TestRegister_CreatesUnverifiedClientAndSector(t *testing.T) {
	registry, _, sectors := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)
	assert.NotEmpty(t, client.ID)
	assert.False(t, client.Verified, "new clients start unverified")
	assert.Equal(t, "app.example.org", client.Sector)
	assert.NotEmpty(t, client.Etag)

	// The sector secret was created lazily.
	sector, err := sectors.Get(ctx, "app.example.org")
	require.NoError(t, err)
	assert.NotEmpty(t, sector.Secret)
}

func TestRegister_SharedSectorReusesSecret(t *testing.T) {
	registry, _, sectors := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)
	first, err := sectors.Get(ctx, "app.example.org")
	require.NoError(t, err)

	_, err = registry.Register(ctx, "102", validMetadata())
	require.NoError(t, err)
	second, err := sectors.Get(ctx, "app.example.org")
	require.NoError(t, err)

	assert.Equal(t, first.Secret, second.Secret,
		"clients of one sector must share the pairwise secret")
}

func TestRegister_RejectsBadMetadata(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for name, meta := range map[string]*ClientMetadata{
		"no name":       {RedirectURIs: []string{"https://app.example.org/cb"}},
		"no redirects":  {Name: "App"},
		"bad algorithm": {Name: "App", RedirectURIs: []string{"https://app.example.org/cb"}, UserinfoSignedResponseAlg: "none"},
	} {
		_, err := registry.Register(ctx, "101", meta)
		assert.Error(t, err, name)
	}
}

func TestGetVerified_Gate(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)

	_, err = registry.GetVerified(ctx, client.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.UnverifiedClient))

	_, err = registry.SetVerified(ctx, client.ID, true)
	require.NoError(t, err)

	verified, err := registry.GetVerified(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
}

func TestUpdate_EtagConflict(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)

	meta := validMetadata()
	meta.Name = "Renamed App"
	updated, err := registry.Update(ctx, client.ID, client.Etag, meta)
	require.NoError(t, err)
	assert.Equal(t, "Renamed App", updated.Name)
	assert.NotEqual(t, client.Etag, updated.Etag)

	_, err = registry.Update(ctx, client.ID, client.Etag, meta)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ConflictingUpdate))
}

func TestUpdate_SectorChangeWithdrawsVerification(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)
	client, err = registry.SetVerified(ctx, client.ID, true)
	require.NoError(t, err)

	meta := validMetadata()
	meta.RedirectURIs = []string{"https://moved.example.net/callback"}
	updated, err := registry.Update(ctx, client.ID, client.Etag, meta)
	require.NoError(t, err)

	assert.Equal(t, "moved.example.net", updated.Sector)
	assert.False(t, updated.Verified, "a sector change requires re-approval")
}

func TestUpdate_SameSectorKeepsVerification(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)
	client, err = registry.SetVerified(ctx, client.ID, true)
	require.NoError(t, err)

	meta := validMetadata()
	meta.RedirectURIs = []string{"https://app.example.org/callback", "https://app.example.org/cb2"}
	updated, err := registry.Update(ctx, client.ID, client.Etag, meta)
	require.NoError(t, err)
	assert.True(t, updated.Verified)
}

func TestGenerateSecret_Authenticate(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	client, err := registry.Register(ctx, "101", validMetadata())
	require.NoError(t, err)

	secret, err := registry.GenerateSecret(ctx, client.ID)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	authed, err := registry.Authenticate(ctx, client.ID, secret)
	require.NoError(t, err)
	assert.Equal(t, client.ID, authed.ID)

	_, err = registry.Authenticate(ctx, client.ID, "wrong")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidClient))

	// Rotating the secret kills the old one.
	next, err := registry.GenerateSecret(ctx, client.ID)
	require.NoError(t, err)
	_, err = registry.Authenticate(ctx, client.ID, secret)
	assert.Error(t, err)
	_, err = registry.Authenticate(ctx, client.ID, next)
	assert.NoError(t, err)
}
