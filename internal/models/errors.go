package models

import "errors"

// Domain errors. Callers wrap them with context and match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientFunds  = errors.New("insufficient tokens")
	ErrNotFound           = errors.New("not found")
	ErrStorage            = errors.New("storage unavailable")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownPackage     = errors.New("unknown token package")
	ErrPaymentNotSettled  = errors.New("payment not settled")
)
