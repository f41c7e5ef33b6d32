package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Site is a named, saved area of interest. Geometry is stored as GeoJSON.
type Site struct {
	ID          uuid.UUID       `db:"id"          json:"id"`
	TenantID    uuid.UUID       `db:"tenant_id"   json:"tenant_id"`
	Name        string          `db:"name"        json:"name"`
	Description string          `db:"description" json:"description"`
	Geometry    json.RawMessage `db:"geometry"    json:"geometry"`
	AreaHa      float64         `db:"area_ha"     json:"area_ha"`
	CreatedAt   time.Time       `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"  json:"updated_at"`
}
