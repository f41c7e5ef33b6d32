package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func ExportTaskKey(taskID string) string {
	return fmt.Sprintf("export:%s", taskID)
}

func SiteKey(tenantID, siteID uuid.UUID) string {
	return fmt.Sprintf("site:%s:%s", tenantID, siteID)
}
