package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the owner of API keys and saved sites. Jobs are not tenant-scoped
// because they live only in process memory.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
