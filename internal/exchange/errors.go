package exchange

import (
	"errors"
	"fmt"
)

// RoutingUnavailableError is returned when no source produced a quote. Err
// holds every per-source failure.
type RoutingUnavailableError struct {
	Sources int
	Err     error
}

func (e *RoutingUnavailableError) Error() string {
	return fmt.Sprintf("routing unavailable: all %d sources failed: %v", e.Sources, e.Err)
}

func (e *RoutingUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetriable marks routing failures as worth another attempt
func (e *RoutingUnavailableError) IsRetriable() bool {
	return true
}

// SlippageExceededError is returned when the realized price moved further from
// the quote than the order tolerates
type SlippageExceededError struct {
	Tolerance float64
	Observed  float64
}

func (e *SlippageExceededError) Error() string {
	return fmt.Sprintf("slippage tolerance exceeded: %.2f%% > %.2f%%", e.Observed*100, e.Tolerance*100)
}

// IsRetriable is true: the market moved, re-quoting is the corrective action
func (e *SlippageExceededError) IsRetriable() bool {
	return true
}

// IsRoutingUnavailable reports whether err is, or wraps, a routing failure
func IsRoutingUnavailable(err error) bool {
	var re *RoutingUnavailableError
	return errors.As(err, &re)
}

// IsSlippageExceeded reports whether err is, or wraps, a slippage breach
func IsSlippageExceeded(err error) bool {
	var se *SlippageExceededError
	return errors.As(err, &se)
}
