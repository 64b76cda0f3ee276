package models

import "errors"

var (
	// ErrSeriesNotConfigured is returned when a business has no invoice
	// number series row. The authority never invents a counter; it fails
	// closed rather than defaulting to an arbitrary starting sequence.
	ErrSeriesNotConfigured = errors.New("invoice number series not configured for business")

	// ErrSeriesLocked is returned when the cross-process lock on the number
	// series could not be obtained. Callers should retry; the counter is
	// unchanged.
	ErrSeriesLocked = errors.New("invoice number series is locked, retry")

	// ErrInvoiceImmutable is returned on any attempt to change the monetary
	// fields or lines of a validated (or later) invoice.
	ErrInvoiceImmutable = errors.New("invoice is validated and can no longer be modified")

	ErrInvalidStatusTransition = errors.New("invalid invoice status transition")

	// ErrInvoiceNotCompliant is returned by ValidateAndNumberInvoice when
	// the compliance validation produced blocking errors. The accompanying
	// ValidationResult carries the full list.
	ErrInvoiceNotCompliant = errors.New("invoice failed compliance validation")
)
