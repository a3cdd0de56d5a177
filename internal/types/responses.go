package types

// SubmitOrderResponse is returned once an order is accepted for execution
type SubmitOrderResponse struct {
	OrderID string `json:"orderId"`
	WSPath  string `json:"wsPath"`
	Message string `json:"message"`
}

// QueueMetrics is a live snapshot of the job runner
type QueueMetrics struct {
	Waiting   int   `json:"waiting"`
	Delayed   int   `json:"delayed"`
	Active    int   `json:"active"`
	Succeeded int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}
