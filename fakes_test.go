package oidc

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.scistack.dev/oidc/domain"
)

// In-memory repository fakes shared by the package tests.

type fakeTransactor struct{}

func (fakeTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeRefreshRepo struct {
	mu      sync.Mutex
	records map[string]*domain.RefreshTokenRecord
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{records: map[string]*domain.RefreshTokenRecord{}}
}

func (r *fakeRefreshRepo) Create(_ context.Context, record *domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.TokenID] = &clone
	return nil
}

func (r *fakeRefreshRepo) GetByID(_ context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[tokenID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *fakeRefreshRepo) GetByHash(_ context.Context, tokenHash string) (*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.TokenHash == tokenHash {
			clone := *record
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRefreshRepo) SwapHash(_ context.Context, oldHash, newHash string, activeAfter, now time.Time, newEtag string) (*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.TokenHash == oldHash && record.LastUsedAt.After(activeAfter) {
			record.TokenHash = newHash
			record.LastUsedAt = now
			record.Etag = newEtag
			clone := *record
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRefreshRepo) UpdateMetadata(_ context.Context, record *domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.TokenID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Name = record.Name
	stored.Etag = record.Etag
	stored.ModifiedAt = record.ModifiedAt
	return nil
}

func (r *fakeRefreshRepo) Delete(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[tokenID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, tokenID)
	return nil
}

func (r *fakeRefreshRepo) DeleteAllForPair(_ context.Context, principalID, clientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, record := range r.records {
		if record.PrincipalID == principalID && record.ClientID == clientID {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeRefreshRepo) TrimOverLimit(_ context.Context, principalID, clientID string, max int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair := r.pairRecordsLocked(principalID, clientID)
	if int64(len(pair)) <= max {
		return 0, nil
	}
	sort.Slice(pair, func(i, j int) bool { return pair[i].LastUsedAt.Before(pair[j].LastUsedAt) })
	var deleted int64
	for _, record := range pair[:int64(len(pair))-max] {
		delete(r.records, record.TokenID)
		deleted++
	}
	return deleted, nil
}

func (r *fakeRefreshRepo) ListActiveForPair(_ context.Context, principalID, clientID string, activeAfter time.Time) ([]*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.RefreshTokenRecord
	for _, record := range r.pairRecordsLocked(principalID, clientID) {
		if record.LastUsedAt.After(activeAfter) {
			clone := *record
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastUsedAt.After(result[j].LastUsedAt) })
	return result, nil
}

func (r *fakeRefreshRepo) pairRecordsLocked(principalID, clientID string) []*domain.RefreshTokenRecord {
	var result []*domain.RefreshTokenRecord
	for _, record := range r.records {
		if record.PrincipalID == principalID && record.ClientID == clientID {
			result = append(result, record)
		}
	}
	return result
}

type fakeAccessRepo struct {
	mu      sync.Mutex
	records map[string]*domain.AccessTokenRecord
}

func newFakeAccessRepo() *fakeAccessRepo {
	return &fakeAccessRepo{records: map[string]*domain.AccessTokenRecord{}}
}

func (r *fakeAccessRepo) Create(_ context.Context, record *domain.AccessTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.TokenID] = &clone
	return nil
}

func (r *fakeAccessRepo) Get(_ context.Context, tokenID string) (*domain.AccessTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[tokenID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *fakeAccessRepo) Delete(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[tokenID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, tokenID)
	return nil
}

func (r *fakeAccessRepo) DeleteByRefreshTokenID(_ context.Context, refreshTokenID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, record := range r.records {
		if record.RefreshTokenID == refreshTokenID {
			ids = append(ids, id)
			delete(r.records, id)
		}
	}
	return ids, nil
}

func (r *fakeAccessRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, record := range r.records {
		if !record.ExpiresAt.After(now) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeConsentRepo struct {
	mu      sync.Mutex
	records map[string]*domain.ConsentRecord
}

func newFakeConsentRepo() *fakeConsentRepo {
	return &fakeConsentRepo{records: map[string]*domain.ConsentRecord{}}
}

func consentKey(userID, clientID, scopeHash string) string {
	return userID + "|" + clientID + "|" + scopeHash
}

func (r *fakeConsentRepo) Get(_ context.Context, userID, clientID, scopeHash string) (*domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[consentKey(userID, clientID, scopeHash)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *fakeConsentRepo) Put(_ context.Context, record *domain.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[consentKey(record.UserID, record.ClientID, record.ScopeHash)] = &clone
	return nil
}

func (r *fakeConsentRepo) DeleteAllForPair(_ context.Context, userID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, record := range r.records {
		if record.UserID == userID && record.ClientID == clientID {
			delete(r.records, key)
		}
	}
	return nil
}

type fakeSectorRepo struct {
	mu      sync.Mutex
	sectors map[string]*domain.SectorIdentifier
}

func newFakeSectorRepo() *fakeSectorRepo {
	return &fakeSectorRepo{sectors: map[string]*domain.SectorIdentifier{}}
}

func (r *fakeSectorRepo) Get(_ context.Context, host string) (*domain.SectorIdentifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sector, ok := r.sectors[host]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *sector
	return &clone, nil
}

func (r *fakeSectorRepo) Create(_ context.Context, sector *domain.SectorIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sector
	r.sectors[sector.Host] = &clone
	return nil
}

type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: map[string]*domain.Client{}}
}

func (r *fakeClientRepo) Create(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *client
	r.clients[client.ID] = &clone
	return nil
}

func (r *fakeClientRepo) Get(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *client
	return &clone, nil
}

func (r *fakeClientRepo) Update(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *client
	r.clients[client.ID] = &clone
	return nil
}

func (r *fakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

type fakeProfileRepo struct {
	profiles map[string]*domain.Profile
	teams    map[string][]string
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{
		profiles: map[string]*domain.Profile{},
		teams:    map[string][]string{},
	}
}

func (r *fakeProfileRepo) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (r *fakeProfileRepo) MemberTeamIDs(_ context.Context, userID string, teamIDs []string) ([]string, error) {
	member := map[string]struct{}{}
	for _, id := range r.teams[userID] {
		member[id] = struct{}{}
	}
	var result []string
	for _, id := range teamIDs {
		if _, ok := member[id]; ok {
			result = append(result, id)
		}
	}
	return result, nil
}
