package domain

import "errors"

var (
	// ErrMissingCorrelation marks a trigger without school or invoice ids.
	// Retrying such a record cannot change the outcome.
	ErrMissingCorrelation = errors.New("trigger is missing school or invoice id")

	// ErrInvoiceNotFound marks a trigger whose invoice does not exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvalidConfig marks a service constructed with missing dependencies.
	ErrInvalidConfig = errors.New("invalid invoicing configuration")
)

// IsRetryable reports whether redelivering the record could succeed. Missing
// correlation ids and missing invoices are permanent for a given record.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingCorrelation) || errors.Is(err, ErrInvoiceNotFound) {
		return false
	}
	return true
}
