package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Domain error taxonomy. All mutating operations return one of these typed
// errors (possibly wrapped) so callers can map them to specific responses
// instead of parsing message strings.

// ValidationError rejects malformed input before anything touches the ledger.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StockShortageDetail identifies one item that cannot cover a requested disposal.
type StockShortageDetail struct {
	ItemCode  string          `json:"itemCode"`
	ItemName  string          `json:"itemName"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
}

// InsufficientStockError is recoverable: the caller may retry the same
// operation with allowNegative=true after an explicit override confirmation.
type InsufficientStockError struct {
	Details []StockShortageDetail
}

// Code is the wire-level error code callers key off.
func (e *InsufficientStockError) Code() string { return "LOW_STOCK" }

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s (required %s, available %s, short %s)",
			d.ItemCode, d.Required.StringFixed(2), d.Available.StringFixed(2), d.Shortage.StringFixed(2)))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// CostingInconsistencyError aborts the enclosing transaction: a ledger write
// must never commit alongside a failed or nonsensical cost recompute.
type CostingInconsistencyError struct {
	ItemID int
	Reason string
	Err    error
}

func (e *CostingInconsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("costing recompute failed for item %d: %s: %v", e.ItemID, e.Reason, e.Err)
	}
	return fmt.Sprintf("costing recompute failed for item %d: %s", e.ItemID, e.Reason)
}

func (e *CostingInconsistencyError) Unwrap() error { return e.Err }

// ConcurrencyConflictError surfaces after bounded retries of a serialization
// failure on the same item. Transient: the caller may simply retry.
type ConcurrencyConflictError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("transaction conflict persisted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// isSerializationFailure reports whether err is a PostgreSQL serialization
// failure (40001) or deadlock (40P01), the two retryable conflict classes.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
