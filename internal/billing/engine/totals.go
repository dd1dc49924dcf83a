package engine

import (
	"time"

	"github.com/classpoint/invoicing/internal/billing/domain"
)

// Totals is the financial snapshot written back onto the invoice.
type Totals struct {
	RequiredSubtotal int64
	OptionalSubtotal int64
	DiscountTotal    int64
	PenaltyTotal     int64
	AmountPaid       int64
	AmountDue        int64
	MinFirstAmount   int64
	BelowMinFirst    bool
	Status           domain.InvoiceStatus
}

// SubtotalsFromLines sums materialized lines: required lines always count,
// optional lines only while selected.
func SubtotalsFromLines(lines []*domain.InvoiceLine) (required, optional int64) {
	for _, line := range lines {
		if line == nil {
			continue
		}
		if line.IsOptional {
			if line.IsSelected {
				optional += line.Amount
			}
			continue
		}
		required += line.Amount
	}
	return required, optional
}

// SubtotalsFromScheduleLines is the raw-template fallback used only when line
// materialization is disabled. Without the catalog defaults a line counts as
// required unless its override says otherwise, and nothing is opted in.
func SubtotalsFromScheduleLines(lines []*domain.FeeScheduleLine) (required, optional int64) {
	for _, line := range lines {
		if line == nil {
			continue
		}
		if line.Optional != nil && *line.Optional {
			continue
		}
		required += line.Amount
	}
	return required, 0
}

// ResolveAdjustments reduces an invoice's adjustments to one discount figure
// and one penalty figure. Discounts and waivers never stack: the single
// largest amount wins, capped at the required subtotal. Penalties sum with no
// cap.
func ResolveAdjustments(adjustments []*domain.Adjustment, requiredSubtotal int64) (discount, penalty int64) {
	for _, adj := range adjustments {
		if adj == nil {
			continue
		}
		switch {
		case adj.Kind.IsDiscountLike():
			if adj.Amount > discount {
				discount = adj.Amount
			}
		case adj.Kind == domain.AdjustmentKindPenalty:
			penalty += adj.Amount
		}
	}
	if discount > requiredSubtotal {
		discount = requiredSubtotal
	}
	return discount, penalty
}

// SumPayments totals the payment ledger. Every row counts regardless of its
// own status; the ledger is trusted as authoritative.
func SumPayments(payments []*domain.Payment) int64 {
	var total int64
	for _, payment := range payments {
		if payment == nil {
			continue
		}
		total += payment.Amount
	}
	return total
}

// defaultMinFirstPercent applies when neither the invoice nor the policy
// overrides it.
const defaultMinFirstPercent = 30

// ResolveMinFirstPercent picks the effective minimum-first-payment percent.
// An invoice-level override wins even when it is zero; only a nil override
// falls through to the policy, and an unset policy falls back to the default.
func ResolveMinFirstPercent(override *int64, policyPercent int64) int64 {
	if override != nil {
		return *override
	}
	if policyPercent <= 0 {
		return defaultMinFirstPercent
	}
	return policyPercent
}

// ComputeTotals combines subtotals, adjustments and payments into the final
// snapshot. amountDue clamps at zero; the stored status is PAID when nothing
// is owed and PARTIALLY_PAID otherwise.
func ComputeTotals(required, optional, discount, penalty, paid int64, minFirstPercent int64) Totals {
	if minFirstPercent < 0 {
		minFirstPercent = 0
	}

	due := required + optional - discount + penalty - paid
	if due < 0 {
		due = 0
	}

	status := domain.InvoiceStatusPartiallyPaid
	if due <= 0 {
		status = domain.InvoiceStatusPaid
	}

	minFirst := (required * minFirstPercent) / 100

	return Totals{
		RequiredSubtotal: required,
		OptionalSubtotal: optional,
		DiscountTotal:    discount,
		PenaltyTotal:     penalty,
		AmountPaid:       paid,
		AmountDue:        due,
		MinFirstAmount:   minFirst,
		BelowMinFirst:    paid < minFirst,
		Status:           status,
	}
}

// Derived returns the reader-side status for this snapshot.
func (t Totals) Derived(dueAt *time.Time, now time.Time) domain.DerivedStatus {
	return domain.DeriveStatus(t.AmountDue, t.AmountPaid, dueAt, now)
}
