package trading

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ksred/klear-swap/internal/types"
)

// DefaultSlippage applies when a request omits slippage
const DefaultSlippage = 0.01

// CreateOrderRequest is the body of POST /api/orders/execute
type CreateOrderRequest struct {
	Type     types.OrderType `json:"type" binding:"required,oneof=market limit sniper"`
	TokenIn  string          `json:"tokenIn" binding:"required"`
	TokenOut string          `json:"tokenOut" binding:"required"`
	AmountIn float64         `json:"amountIn" binding:"required,gt=0"`
	Slippage *float64        `json:"slippage" binding:"omitempty,gte=0,lte=1"`
}

// Validate checks the request without gin, for callers outside HTTP
func (r *CreateOrderRequest) Validate() error {
	var fields []types.FieldError
	if !r.Type.Valid() {
		fields = append(fields, types.FieldError{Field: "type", Message: "must be one of market, limit, sniper"})
	}
	if strings.TrimSpace(r.TokenIn) == "" {
		fields = append(fields, types.FieldError{Field: "tokenIn", Message: "is required"})
	}
	if strings.TrimSpace(r.TokenOut) == "" {
		fields = append(fields, types.FieldError{Field: "tokenOut", Message: "is required"})
	}
	if !(r.AmountIn > 0) {
		fields = append(fields, types.FieldError{Field: "amountIn", Message: "must be greater than 0"})
	}
	if r.Slippage != nil && !(*r.Slippage >= 0 && *r.Slippage <= 1) {
		fields = append(fields, types.FieldError{Field: "slippage", Message: "must be between 0 and 1"})
	}
	if len(fields) > 0 {
		return &types.ValidationError{Fields: fields}
	}
	return nil
}

// ToOrder builds a new pending order with the given id from the request
func (r *CreateOrderRequest) ToOrder(id string, now time.Time) *types.Order {
	slippage := DefaultSlippage
	if r.Slippage != nil {
		slippage = *r.Slippage
	}
	return &types.Order{
		ID:        id,
		Type:      r.Type,
		TokenIn:   r.TokenIn,
		TokenOut:  r.TokenOut,
		AmountIn:  r.AmountIn,
		Slippage:  slippage,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// bindingError turns a gin binding failure into a ValidationError
func bindingError(err error) *types.ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewValidationError("body", "malformed request body: "+err.Error())
	}

	fields := make([]types.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, types.FieldError{
			Field:   jsonName(fe.Field()),
			Message: fieldMessage(fe),
		})
	}
	return &types.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "failed " + fe.Tag() + " check"
}

// jsonName lowercases the first letter of a Go field name
func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
