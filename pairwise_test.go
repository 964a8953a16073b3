package oidc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.scistack.dev/oidc/domain"
	"go.scistack.dev/oidc/errors"
)

const firstPartyClientID = "first-party"

func newTestPairwise(t *testing.T) (*PairwiseCodec, *fakeClientRepo, *fakeSectorRepo) {
	t.Helper()
	clients := newFakeClientRepo()
	sectors := newFakeSectorRepo()

	for host, clientID := range map[string]string{
		"app.example.org":   "client-a",
		"other.example.com": "client-b",
	} {
		secret, err := NewSectorSecret()
		require.NoError(t, err)
		require.NoError(t, sectors.Create(context.Background(), &domain.SectorIdentifier{
			Host:      host,
			Secret:    secret,
			CreatedAt: time.Now(),
		}))
		require.NoError(t, clients.Create(context.Background(), &domain.Client{
			ID:       clientID,
			Sector:   host,
			Verified: true,
		}))
	}

	// A second client in the first sector.
	require.NoError(t, clients.Create(context.Background(), &domain.Client{
		ID:       "client-a2",
		Sector:   "app.example.org",
		Verified: true,
	}))

	return NewPairwiseCodec(clients, sectors, firstPartyClientID), clients, sectors
}

func TestPairwiseCodec_Deterministic(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	first, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)
	second, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)

	assert.Equal(t, first, second, "a client must see a stable subject for a returning user")
	assert.NotEqual(t, "101", first)
}

func TestPairwiseCodec_RoundTrip(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	ppid, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)

	userID, err := codec.UserID(ctx, ppid, "client-a")
	require.NoError(t, err)
	assert.Equal(t, "101", userID)
}

func TestPairwiseCodec_SameSectorSharesSubject(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	a, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)
	a2, err := codec.PPID(ctx, "101", "client-a2")
	require.NoError(t, err)

	assert.Equal(t, a, a2, "clients in the same sector see the same subject")
}

func TestPairwiseCodec_CrossSectorIsolation(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	a, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)
	b, err := codec.PPID(ctx, "101", "client-b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "sectors must not be able to correlate users")

	// A subject minted for one sector is meaningless in another.
	_, err = codec.UserID(ctx, a, "client-b")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidToken))
}

func TestPairwiseCodec_DistinctUsersDistinctSubjects(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	a, err := codec.PPID(ctx, "101", "client-a")
	require.NoError(t, err)
	b, err := codec.PPID(ctx, "102", "client-a")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPairwiseCodec_FirstPartyExemption(t *testing.T) {
	codec, _, _ := newTestPairwise(t)
	ctx := context.Background()

	ppid, err := codec.PPID(ctx, "101", firstPartyClientID)
	require.NoError(t, err)
	assert.Equal(t, "101", ppid)

	userID, err := codec.UserID(ctx, "101", firstPartyClientID)
	require.NoError(t, err)
	assert.Equal(t, "101", userID)
}

func TestPairwiseCodec_UnknownClient(t *testing.T) {
	codec, _, _ := newTestPairwise(t)

	_, err := codec.PPID(context.Background(), "101", "nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidClient))
}
