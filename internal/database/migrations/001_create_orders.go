package migrations

import (
	"github.com/ksred/klear-swap/internal/types"
	"gorm.io/gorm"
)

// CreateOrders creates the orders table with its status and creation indexes
func CreateOrders(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Order{}); err != nil {
		return err
	}

	return nil
}
