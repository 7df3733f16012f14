package domain

import "errors"

var (
	// ErrInvoiceNotFound is returned when no invoice exists for a payment hash.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrAlreadyPaid is returned when a settlement step finds the invoice
	// already in the paid status. Callers treat it as a no-op success.
	ErrAlreadyPaid = errors.New("invoice already paid")
	// ErrInvoiceExpired is returned by pre-settlement validation.
	ErrInvoiceExpired = errors.New("invoice expired")
	// ErrBalanceNotFound is returned when no balance row exists for a
	// (wallet, asset) pair.
	ErrBalanceNotFound = errors.New("asset balance not found")
	// ErrPaymentNotFound is returned when no payment record exists for a
	// payment hash.
	ErrPaymentNotFound = errors.New("payment not found")
)
