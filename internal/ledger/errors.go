package ledger

import "errors"

// Sentinel errors returned by ledger operations. Callers classify
// failures with errors.Is; messages wrap these with context.
var (
	ErrUnauthorized  = errors.New("caller is not owner or verifier")
	ErrAlreadyExists = errors.New("verifier already registered")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrPaused        = errors.New("ledger is paused")
	ErrEmptyBatch    = errors.New("batch is empty")
	ErrBatchTooLarge = errors.New("batch exceeds record cap")
	ErrOutOfBounds   = errors.New("offset out of bounds")
)
