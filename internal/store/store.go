package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface for tenants, API keys and saved sites.
// Analysis jobs are not persisted.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateSite(ctx context.Context, site *models.Site) error
	GetSite(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Site, error)
	ListSites(ctx context.Context, filter SiteFilter) ([]*models.Site, int, error)
}

type SiteFilter struct {
	TenantID uuid.UUID
	Name     string
	Page     int
	Limit    int
}
