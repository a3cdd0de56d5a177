package migrations

import (
	"gorm.io/gorm"
)

// AddOrderIndexes adds the indexes behind the status listing and the
// recovery sweep
func AddOrderIndexes(db *gorm.DB) error {
	// Using raw SQL for composite indexes to control column order
	indexes := []string{
		// Pending sweep and status listing, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created_at
		 ON orders(status, created_at DESC)`,

		// Per-venue reporting
		`CREATE INDEX IF NOT EXISTS idx_orders_dex_used
		 ON orders(dex_used)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
