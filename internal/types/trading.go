package types

import (
	"time"
)

// OrderType is the kind of swap order submitted by a client
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeSniper OrderType = "sniper"
)

// Valid reports whether t is one of the supported order types
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeSniper:
		return true
	}
	return false
}

// Order is the durable record of a swap order. The column names are the
// persisted contract other tooling reads, so they must not drift.
type Order struct {
	ID            string      `gorm:"column:id;primaryKey;size:64" json:"id"`
	Type          OrderType   `gorm:"column:type;size:16;not null" json:"type"`
	TokenIn       string      `gorm:"column:token_in;not null" json:"tokenIn"`
	TokenOut      string      `gorm:"column:token_out;not null" json:"tokenOut"`
	AmountIn      float64     `gorm:"column:amount_in;not null" json:"amountIn"`
	Slippage      float64     `gorm:"column:slippage;not null" json:"slippage"`
	Status        OrderStatus `gorm:"column:status;size:16;not null;index:idx_orders_status" json:"status"`
	Source        *string     `gorm:"column:dex_used;size:32" json:"dexUsed,omitempty"`
	ExecutedPrice *float64    `gorm:"column:executed_price" json:"executedPrice,omitempty"`
	AmountOut     *float64    `gorm:"column:amount_out" json:"amountOut,omitempty"`
	TxHash        *string     `gorm:"column:tx_hash;size:128" json:"txHash,omitempty"`
	Error         *string     `gorm:"column:error" json:"error,omitempty"`
	RetryCount    int         `gorm:"column:retry_count;not null;default:0" json:"retryCount"`
	CreatedAt     time.Time   `gorm:"column:created_at;index:idx_orders_created_at" json:"createdAt"`
	UpdatedAt     time.Time   `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
}

// TableName pins the table name regardless of gorm naming strategy
func (Order) TableName() string {
	return "orders"
}

// Pair is the token pair being swapped
func (o *Order) Pair() Pair {
	return Pair{TokenIn: o.TokenIn, TokenOut: o.TokenOut}
}

// Pair identifies the input and output token of a swap
type Pair struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
}

func (p Pair) String() string {
	return p.TokenIn + "/" + p.TokenOut
}

// Quote is a priced offer from one liquidity source. Quotes are produced per
// routing decision and never persisted.
type Quote struct {
	Source          string  `json:"dex"`
	Price           float64 `json:"price"`
	Fee             float64 `json:"fee"`
	EstimatedOutput float64 `json:"estimatedOutput"`
	Liquidity       float64 `json:"liquidity"`
}

// EstimateOutput is the net output of swapping amount at price after fee
func EstimateOutput(amount, price, fee float64) float64 {
	return amount * price * (1 - fee)
}

// ExecutionResult is what a venue reports back for a completed swap
type ExecutionResult struct {
	TxHash        string    `json:"txHash"`
	ExecutedPrice float64   `json:"executedPrice"`
	AmountOut     float64   `json:"amountOut"`
	Fee           float64   `json:"fee"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderUpdate carries the fields to change on an order. Nil fields are left
// untouched.
type OrderUpdate struct {
	Status        *OrderStatus
	Source        *string
	ExecutedPrice *float64
	AmountOut     *float64
	TxHash        *string
	Error         *string
	ClearError    bool // drop the error left by a previous attempt
	RetryCount    *int
}

// Apply merges the update into order and refreshes UpdatedAt. UpdatedAt never
// moves backwards and never precedes CreatedAt.
func (u OrderUpdate) Apply(order *Order, now time.Time) {
	if u.Status != nil {
		order.Status = *u.Status
	}
	if u.Source != nil {
		order.Source = u.Source
	}
	if u.ExecutedPrice != nil {
		order.ExecutedPrice = u.ExecutedPrice
	}
	if u.AmountOut != nil {
		order.AmountOut = u.AmountOut
	}
	if u.TxHash != nil {
		order.TxHash = u.TxHash
	}
	if u.ClearError {
		order.Error = nil
	}
	if u.Error != nil {
		order.Error = u.Error
	}
	if u.RetryCount != nil {
		order.RetryCount = *u.RetryCount
	}

	if now.Before(order.UpdatedAt) {
		now = order.UpdatedAt
	}
	if now.Before(order.CreatedAt) {
		now = order.CreatedAt
	}
	order.UpdatedAt = now
}

// Ptr returns a pointer to v, handy for building OrderUpdate values
func Ptr[T any](v T) *T {
	return &v
}
