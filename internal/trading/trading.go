package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-swap/internal/types"
	"github.com/ksred/klear-swap/pkg/response"
	"github.com/rs/zerolog/log"
)

// Enqueuer schedules order executions
type Enqueuer interface {
	Enqueue(orderID string) (bool, error)
	Resume(orderID string, attempts int) (bool, error)
	Metrics() types.QueueMetrics
}

// Service handles order submission and lookups
type Service struct {
	store     Store
	queue     Enqueuer
	publisher Publisher
	newID     func() string
}

// NewService creates a new order service
func NewService(store Store, queue Enqueuer, publisher Publisher) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		publisher: publisher,
		newID:     uuid.NewString,
	}
}

// SubmitOrder validates and persists a new order, then schedules it for
// execution. Invalid requests are never enqueued.
func (s *Service) SubmitOrder(ctx context.Context, req *CreateOrderRequest) (*types.SubmitOrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := req.ToOrder(s.newID(), time.Now())
	logger := log.With().
		Str("order_id", order.ID).
		Str("type", string(order.Type)).
		Str("pair", order.Pair().String()).
		Float64("amount_in", order.AmountIn).
		Logger()

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.publisher.Publish(types.NewStatusUpdate(order))

	if _, err := s.queue.Enqueue(order.ID); err != nil {
		// the order stays pending and is picked up by the recovery sweep
		logger.Error().Err(err).Msg("failed to enqueue order")
		return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}

	logger.Info().Msg("order submitted")

	return &types.SubmitOrderResponse{
		OrderID: order.ID,
		WSPath:  "/ws/orders/" + order.ID,
		Message: "Order submitted successfully. Connect to WebSocket for live updates.",
	}, nil
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListOrders returns the orders currently in status, newest first
func (s *Service) ListOrders(ctx context.Context, status types.OrderStatus) ([]types.Order, error) {
	return s.store.ListOrdersByStatus(ctx, status)
}

// QueueMetrics returns the execution queue snapshot
func (s *Service) QueueMetrics() types.QueueMetrics {
	return s.queue.Metrics()
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitOrderHandler handles POST requests that submit orders for execution
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			verr := bindingError(err)
			log.Warn().Err(verr).Msg("order validation failed")
			response.Handle(c, nil, verr)
			return
		}

		resp, err := h.service.SubmitOrder(c.Request.Context(), &req)
		response.Handle(c, resp, err)
	}
}

// GetOrderHandler handles GET requests for a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), orderID)
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET requests listing orders by status
// Query parameter: status
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := types.ParseOrderStatus(c.Query("status"))
		if !ok {
			response.Handle(c, nil, types.NewValidationError("status", "must be one of pending, routing, building, submitted, confirmed, failed"))
			return
		}

		orders, err := h.service.ListOrders(c.Request.Context(), status)
		if orders == nil {
			orders = []types.Order{}
		}
		response.Handle(c, orders, err)
	}
}

// QueueMetricsHandler handles GET requests for queue metrics
func (h *GinHandlers) QueueMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.QueueMetrics())
	}
}

// RegisterRoutes mounts the order endpoints under /api
func (h *GinHandlers) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		orders := api.Group("/orders")
		{
			orders.POST("/execute", h.SubmitOrderHandler())
			orders.GET("", h.ListOrdersHandler())
			orders.GET("/:order_id", h.GetOrderHandler())
		}

		api.GET("/queue/metrics", h.QueueMetricsHandler())
	}
}
