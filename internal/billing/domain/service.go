package domain

import (
	"context"
	"time"
)

// Outcome summarizes one recomputation for logging and metrics.
type Outcome struct {
	InvoiceID        string
	RequiredSubtotal int64
	OptionalSubtotal int64
	DiscountTotal    int64
	PenaltyTotal     int64
	AmountPaid       int64
	AmountDue        int64
	Status           InvoiceStatus
	Derived          DerivedStatus
	LinesCreated     int
	PlanCreated      bool
	ProcessedAt      time.Time
}

// Service recomputes one invoice's financial snapshot from its related
// records. Implementations must be idempotent under at-least-once delivery.
type Service interface {
	Recompute(ctx context.Context, trigger Trigger) (Outcome, error)
}
