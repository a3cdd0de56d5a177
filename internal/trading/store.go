package trading

import (
	"context"

	"github.com/ksred/klear-swap/internal/types"
)

// Store persists orders. GetOrder and UpdateOrder return types.ErrNotFound for
// unknown ids; CreateOrder returns types.ErrDuplicateOrder for a taken id.
type Store interface {
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	UpdateOrder(ctx context.Context, orderID string, update types.OrderUpdate) (*types.Order, error)
	ListOrdersByStatus(ctx context.Context, status types.OrderStatus) ([]types.Order, error)
}
