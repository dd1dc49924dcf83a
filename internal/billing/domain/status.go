package domain

import "time"

// DeriveStatus maps an invoice's computed balance onto the explicit status
// enum downstream readers share. The stored Invoice.Status keeps writing only
// PAID/PARTIALLY_PAID; UNPAID and OVERDUE exist purely as derived states.
func DeriveStatus(amountDue, amountPaid int64, dueAt *time.Time, now time.Time) DerivedStatus {
	if amountDue <= 0 {
		return DerivedStatusPaid
	}
	if dueAt != nil && dueAt.Before(now) {
		return DerivedStatusOverdue
	}
	if amountPaid > 0 {
		return DerivedStatusPartiallyPaid
	}
	return DerivedStatusUnpaid
}
