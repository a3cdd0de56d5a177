package broadcast

import (
	"sync"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog/log"
)

// Sink receives status updates for one order
type Sink func(update types.StatusUpdate)

type subscription struct {
	id   uint64
	sink Sink
}

// Hub delivers status updates to at most one observer per order. A new
// subscription silently replaces the previous one; updates published while
// nobody is subscribed are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]subscription
	nextID uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]subscription),
	}
}

// Subscribe makes sink the observer of orderID. The returned func removes the
// subscription only if it has not been superseded since.
func (h *Hub) Subscribe(orderID string, sink Sink) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	_, replaced := h.subs[orderID]
	h.subs[orderID] = subscription{id: id, sink: sink}
	h.mu.Unlock()

	log.Debug().
		Str("order_id", orderID).
		Bool("replaced", replaced).
		Msg("status observer subscribed")

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[orderID]; ok && cur.id == id {
			delete(h.subs, orderID)
		}
	}
}

// Unsubscribe removes whatever observer orderID has
func (h *Hub) Unsubscribe(orderID string) {
	h.mu.Lock()
	delete(h.subs, orderID)
	h.mu.Unlock()
}

// Publish hands update to the current observer of its order, synchronously.
// The sink runs outside the hub lock.
func (h *Hub) Publish(update types.StatusUpdate) {
	h.mu.RLock()
	sub, ok := h.subs[update.OrderID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	sub.sink(update)
}

// Subscribers returns the number of orders with an observer
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
