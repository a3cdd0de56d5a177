package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-swap/internal/types"
	"gorm.io/gorm"
)

// Database is the gorm backed Store
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(ctx context.Context, order *types.Order) error {
	if err := d.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("order %s: %w", order.ID, types.ErrDuplicateOrder)
		}
		return err
	}
	return nil
}

func (d *Database) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrder applies update inside a transaction so concurrent partial
// updates never overwrite each other's fields
func (d *Database) UpdateOrder(ctx context.Context, orderID string, update types.OrderUpdate) (*types.Order, error) {
	var order types.Order
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound
			}
			return err
		}

		update.Apply(&order, time.Now())
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByStatus returns the orders in status, newest first
func (d *Database) ListOrdersByStatus(ctx context.Context, status types.OrderStatus) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
