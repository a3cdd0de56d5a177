package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ksred/klear-swap/internal/types"
)

// MemoryStore keeps orders in process. Callers always receive copies.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]types.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]types.Order)}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, types.ErrDuplicateOrder)
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &order, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, orderID string, update types.OrderUpdate) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, types.ErrNotFound
	}
	update.Apply(&order, time.Now())
	m.orders[orderID] = order
	return &order, nil
}

func (m *MemoryStore) ListOrdersByStatus(ctx context.Context, status types.OrderStatus) ([]types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var orders []types.Order
	for _, o := range m.orders {
		if o.Status == status {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}
