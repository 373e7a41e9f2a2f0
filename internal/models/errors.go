package models

import "errors"

// Error taxonomy shared by the store, services and the HTTP layer. Callers
// wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrOwnership          = errors.New("resource belongs to another user")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("conflict")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrBusy               = errors.New("resource busy, retry later")
)
