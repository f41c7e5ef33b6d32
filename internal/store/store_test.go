package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vegchange/internal/store"
	"github.com/kiranshivaraju/vegchange/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vegchange_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Second run is a no-op.
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func defaultTenantID(t *testing.T, s store.Store) uuid.UUID {
	t.Helper()
	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	return tenant.ID
}

func newKey(tenantID uuid.UUID, name, prefix string) *models.APIKey {
	return &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   "bcrypt-hash-" + name,
		KeyPrefix: prefix,
		Scopes:    []string{models.ScopeAnalysis},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func newSite(tenantID uuid.UUID, name string) *models.Site {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Site{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: "riparian forest plot",
		Geometry:    json.RawMessage(`{"type":"Polygon","coordinates":[[[-72.5,-13.5],[-72.4,-13.5],[-72.4,-13.4],[-72.5,-13.4],[-72.5,-13.5]]]}`),
		AreaHa:      11834.2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// --- Tenant Tests ---

func TestGetDefaultTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	tenant, err := s.GetDefaultTenant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", tenant.Name)
	assert.NotEqual(t, uuid.Nil, tenant.ID)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	key := newKey(tenantID, "field-team", "vc_abcd1")
	key.Scopes = []string{models.ScopeAnalysis, models.ScopeAdmin}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "vc_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "field-team", keys[0].Name)
	assert.Equal(t, key.Scopes, keys[0].Scopes)
	assert.Nil(t, keys[0].RevokedAt)
}

func TestAPIKey_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	for i := 0; i < 3; i++ {
		suffix := uuid.NewString()[:4]
		require.NoError(t, s.CreateAPIKey(ctx, newKey(tenantID, "key-"+suffix, "vc_"+suffix)))
	}

	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	key := newKey(tenantID, "revoke-me", "vc_revk1")
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, tenantID))

	keys, err := s.ListAPIKeys(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "vc_revk1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Revoking twice reports not found.
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, tenantID), store.ErrNotFound)

	// The name is free again once revoked.
	require.NoError(t, s.CreateAPIKey(ctx, newKey(tenantID, "revoke-me", "vc_revk2")))
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.RevokeAPIKey(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	key := newKey(tenantID, "usage-key", "vc_used1")
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "vc_used1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_Duplicates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	key := newKey(tenantID, "dup", "vc_dup01")
	require.NoError(t, s.CreateAPIKey(ctx, key))

	sameID := newKey(tenantID, "other", "vc_dup02")
	sameID.ID = key.ID
	assert.ErrorIs(t, s.CreateAPIKey(ctx, sameID), store.ErrDuplicateKey)

	sameName := newKey(tenantID, "dup", "vc_dup03")
	assert.ErrorIs(t, s.CreateAPIKey(ctx, sameName), store.ErrDuplicateKey)
}

// --- Site Tests ---

func TestSite_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	site := newSite(tenantID, "Manu Buffer Zone")
	require.NoError(t, s.CreateSite(ctx, site))

	got, err := s.GetSite(ctx, site.ID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, site.Name, got.Name)
	assert.Equal(t, site.Description, got.Description)
	assert.InDelta(t, site.AreaHa, got.AreaHa, 1e-9)
	assert.JSONEq(t, string(site.Geometry), string(got.Geometry))
	assert.Equal(t, site.CreatedAt, got.CreatedAt.UTC())
}

func TestSite_GetOtherTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	site := newSite(tenantID, "Tenant Scoped")
	require.NoError(t, s.CreateSite(ctx, site))

	_, err := s.GetSite(ctx, site.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetSite(ctx, uuid.New(), tenantID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSite_DuplicateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	require.NoError(t, s.CreateSite(ctx, newSite(tenantID, "Same Name")))
	err := s.CreateSite(ctx, newSite(tenantID, "Same Name"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestSite_ListPaginationAndFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	tenantID := defaultTenantID(t, s)

	base := time.Now().UTC().Truncate(time.Microsecond)
	names := []string{"Ridge North", "Ridge South", "Valley Floor", "Ridge East", "Delta"}
	for i, name := range names {
		site := newSite(tenantID, name)
		site.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		site.UpdatedAt = site.CreatedAt
		require.NoError(t, s.CreateSite(ctx, site))
	}

	page1, total, err := s.ListSites(ctx, store.SiteFilter{TenantID: tenantID, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "Delta", page1[0].Name)
	assert.Equal(t, "Ridge East", page1[1].Name)

	page3, _, err := s.ListSites(ctx, store.SiteFilter{TenantID: tenantID, Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "Ridge North", page3[0].Name)

	ridges, total, err := s.ListSites(ctx, store.SiteFilter{TenantID: tenantID, Name: "ridge"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, ridges, 3)

	none, total, err := s.ListSites(ctx, store.SiteFilter{TenantID: uuid.New()})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}
