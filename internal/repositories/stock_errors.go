package repositories

import (
	"fmt"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates one or more lines exceed availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates a referenced product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorProductInactive indicates the product exists but cannot be sold.
	StockErrorProductInactive StockErrorCode = "stock_product_inactive"
)

// StockError wraps stock-specific failures with machine readable codes. For
// insufficient stock it carries every shortage found so callers can report the
// whole failing set at once rather than the first unsatisfied line.
type StockError struct {
	Op        string
	Code      StockErrorCode
	Message   string
	Shortages []domain.StockShortage
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError constructs a stock error carrying the aggregated shortages.
func NewInsufficientStockError(shortages []domain.StockShortage) *StockError {
	return &StockError{
		Code:      StockErrorInsufficient,
		Message:   fmt.Sprintf("insufficient stock for %d product(s)", len(shortages)),
		Shortages: shortages,
	}
}
