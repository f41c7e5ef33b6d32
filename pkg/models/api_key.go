package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates callers of the analysis API. The raw key is returned
// once when the key is issued; only its bcrypt hash is persisted.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}

// Scopes granted to API keys.
const (
	ScopeAnalysis = "analysis"
	ScopeAdmin    = "admin"
)

// HasScope reports whether the key was issued with the given scope.
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}
