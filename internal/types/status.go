package types

import "time"

// OrderStatus is a state of the order execution state machine
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusRouting, StatusFailed},
	StatusRouting:   {StatusBuilding, StatusFailed},
	StatusBuilding:  {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusFailed},
}

// ParseOrderStatus returns the status named by s
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed, StatusFailed:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible within an attempt
func (s OrderStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransitionTo reports whether next directly follows s within one attempt.
// Leaving failed is only possible by starting a new attempt, see CanRestart.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanRestart reports whether a new execution attempt may begin from s
func (s OrderStatus) CanRestart() bool {
	return s != StatusConfirmed
}

// StatusUpdate is one transition as delivered to an observer
type StatusUpdate struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
	Source        *string     `json:"dexUsed,omitempty"`
	ExecutedPrice *float64    `json:"executedPrice,omitempty"`
	AmountOut     *float64    `json:"amountOut,omitempty"`
	TxHash        *string     `json:"txHash,omitempty"`
	Error         *string     `json:"error,omitempty"`
	RetryCount    int         `json:"retryCount"`
}

// NewStatusUpdate snapshots the observable fields of order
func NewStatusUpdate(order *Order) StatusUpdate {
	return StatusUpdate{
		OrderID:       order.ID,
		Status:        order.Status,
		Timestamp:     order.UpdatedAt,
		Source:        order.Source,
		ExecutedPrice: order.ExecutedPrice,
		AmountOut:     order.AmountOut,
		TxHash:        order.TxHash,
		Error:         order.Error,
		RetryCount:    order.RetryCount,
	}
}
