package models

import "errors"

// Ledger error kinds. Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrAlreadyReviewed     = errors.New("already reviewed")
	ErrLocked              = errors.New("trade is still locked")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrReferentialConflict = errors.New("referenced by other records")
	ErrTransient           = errors.New("transient database failure")
	ErrStorage             = errors.New("file storage failed")
)
