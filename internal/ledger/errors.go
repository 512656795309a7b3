package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("ledger: not found")
	ErrInvalidID      = errors.New("ledger: invalid id (must be > 0)")
	ErrInvalidAmount  = errors.New("ledger: invalid amount (must be > 0)")
	ErrAlreadyPaid    = errors.New("ledger: statement already paid")
	ErrPayFromCard    = errors.New("ledger: statement cannot be paid from a credit-card account")
	ErrAmountMismatch = errors.New("ledger: entry amount does not match statement total")
	ErrNotConvertible = errors.New("ledger: purchase is not eligible for payment conversion")
)

// IsConflict reports whether err is a state conflict rather than a missing
// record or invalid input. The HTTP layer maps these to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrPayFromCard) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrNotConvertible)
}

// IsValidation reports whether err is caller input that failed validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidID) || errors.Is(err, ErrInvalidAmount)
}

// RowError is a row-level import failure. Rows fail individually; a bad row
// never aborts the rest of the batch.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}
