package models

import "errors"

type InvoiceStatus string

const (
	InvoiceStatusDraft       InvoiceStatus = "Draft"
	InvoiceStatusValidated   InvoiceStatus = "Validated"
	InvoiceStatusSent        InvoiceStatus = "Sent"
	InvoiceStatusPartialPaid InvoiceStatus = "Partial Paid"
	InvoiceStatusPaid        InvoiceStatus = "Paid"
	InvoiceStatusCancelled   InvoiceStatus = "Cancelled"
)

// allowedStatusTransitions is the full lifecycle:
// Draft -> Validated -> Sent -> Partial Paid -> Paid, with Cancelled
// reachable from any non-terminal post-validation state. Paid and Cancelled
// are terminal. Draft -> Validated only happens through
// ValidateAndNumberInvoice, never through a bare status update.
var allowedStatusTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:       {InvoiceStatusValidated},
	InvoiceStatusValidated:   {InvoiceStatusSent, InvoiceStatusPartialPaid, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusSent:        {InvoiceStatusPartialPaid, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPartialPaid: {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:        {},
	InvoiceStatusCancelled:   {},
}

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range allowedStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AtLeastValidated reports whether the invoice has passed the point of no
// return: monetary fields and lines are frozen from Validated onward.
func (s InvoiceStatus) AtLeastValidated() bool {
	return s != "" && s != InvoiceStatusDraft
}

type YearFormat string

const (
	YearFormatFull  YearFormat = "Full"
	YearFormatShort YearFormat = "Short"
)

func (f *YearFormat) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Full":
		*f = YearFormatFull
	case "Short":
		*f = YearFormatShort
	default:
		return errors.New("invalid year format")
	}
	return nil
}

type InvoiceEventType string

const (
	InvoiceEventCreated       InvoiceEventType = "INVOICE_CREATED"
	InvoiceEventUpdated       InvoiceEventType = "INVOICE_UPDATED"
	InvoiceEventValidated     InvoiceEventType = "INVOICE_VALIDATED"
	InvoiceEventNumbered      InvoiceEventType = "INVOICE_NUMBERED"
	InvoiceEventStatusChanged InvoiceEventType = "INVOICE_STATUS_CHANGED"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending OutboxPublishStatus = "PENDING"
	OutboxPublishStatusSent    OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed  OutboxPublishStatus = "FAILED"
)
