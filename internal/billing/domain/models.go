// Package domain contains persistence models for student invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus is the status value written by the recomputation engine.
// Only PAID and PARTIALLY_PAID are ever stored; richer reader-facing states
// are derived, see DeriveStatus.
type InvoiceStatus string

const (
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
)

// DerivedStatus is the explicit reader-side status enum shared by the engine
// and every downstream consumer.
type DerivedStatus string

const (
	DerivedStatusUnpaid        DerivedStatus = "UNPAID"
	DerivedStatusPartiallyPaid DerivedStatus = "PARTIALLY_PAID"
	DerivedStatusOverdue       DerivedStatus = "OVERDUE"
	DerivedStatusPaid          DerivedStatus = "PAID"
)

// AdjustmentKind classifies an adjustment row.
type AdjustmentKind string

const (
	AdjustmentKindDiscount AdjustmentKind = "DISCOUNT"
	AdjustmentKindWaiver   AdjustmentKind = "WAIVER"
	AdjustmentKindPenalty  AdjustmentKind = "PENALTY"
)

// IsDiscountLike reports whether the kind participates in the single
// largest-discount-wins reduction.
func (k AdjustmentKind) IsDiscountLike() bool {
	return k == AdjustmentKindDiscount || k == AdjustmentKindWaiver
}

// InstallmentStatus is the per-slot state of an installment.
type InstallmentStatus string

const (
	InstallmentStatusDue     InstallmentStatus = "DUE"
	InstallmentStatusOverdue InstallmentStatus = "OVERDUE"
	InstallmentStatusPaid    InstallmentStatus = "PAID"
)

// Invoice is the aggregate root of a student's financial obligation for a
// term. All money fields are minor units. Aggregate fields are overwritten on
// every recomputation.
type Invoice struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	SchoolID         snowflake.ID  `gorm:"not null;index"`
	StudentID        snowflake.ID  `gorm:"not null;index"`
	FeeScheduleID    *snowflake.ID `gorm:"index"`
	Status           InvoiceStatus `gorm:"type:text;not null;default:'PARTIALLY_PAID'"`
	RequiredSubtotal int64         `gorm:"not null;default:0"`
	OptionalSubtotal int64         `gorm:"not null;default:0"`
	DiscountTotal    int64         `gorm:"not null;default:0"`
	PenaltyTotal     int64         `gorm:"not null;default:0"`
	AmountPaid       int64         `gorm:"not null;default:0"`
	AmountDue        int64         `gorm:"not null;default:0"`
	MinFirstPercent  *int64        `gorm:""`
	MinFirstAmount   int64         `gorm:"not null;default:0"`
	BelowMinFirst    bool          `gorm:"not null;default:false"`
	SplitTemplate    *string       `gorm:"type:text"`
	DueAt            *time.Time    `gorm:""`
	LastProcessedAt  *time.Time    `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is a materialized charge on one invoice. Lines are created once
// from the fee schedule and never regenerated.
type InvoiceLine struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	SchoolID    snowflake.ID `gorm:"not null;index"`
	InvoiceID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoice_line_slot,priority:1"`
	FeeItemID   snowflake.ID `gorm:"not null;uniqueIndex:ux_invoice_line_slot,priority:2"`
	Label       string       `gorm:"type:text;not null"`
	Description string       `gorm:"type:text"`
	Amount      int64        `gorm:"not null"`
	IsOptional  bool         `gorm:"not null;default:false"`
	IsSelected  bool         `gorm:"not null;default:true"`
	SortOrder   int          `gorm:"not null;default:0;uniqueIndex:ux_invoice_line_slot,priority:3"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

// FeeSchedule is a reusable charge template for a class and term.
type FeeSchedule struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	SchoolID  snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	ClassName string       `gorm:"type:text"`
	Term      string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (FeeSchedule) TableName() string { return "fee_schedules" }

// FeeScheduleLine is one templated charge, referencing the fee item catalog.
// Optional is a tri-state override; nil falls back to the fee item default.
type FeeScheduleLine struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	SchoolID      snowflake.ID `gorm:"not null;index"`
	FeeScheduleID snowflake.ID `gorm:"not null;index"`
	FeeItemID     snowflake.ID `gorm:"not null;index"`
	Amount        int64        `gorm:"not null"`
	Optional      *bool        `gorm:""`
	SortOrder     int          `gorm:"not null;default:0"`
}

func (FeeScheduleLine) TableName() string { return "fee_schedule_lines" }

// FeeItem is a catalog entry describing a chargeable item.
type FeeItem struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SchoolID        snowflake.ID `gorm:"not null;index"`
	Name            string       `gorm:"type:text;not null"`
	Description     string       `gorm:"type:text"`
	DefaultOptional bool         `gorm:"not null;default:false"`
}

func (FeeItem) TableName() string { return "fee_items" }

// Adjustment is a discount, waiver or penalty attached to one invoice,
// independent of payments. Read-only for this worker.
type Adjustment struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	SchoolID  snowflake.ID   `gorm:"not null;index"`
	InvoiceID snowflake.ID   `gorm:"not null;index"`
	Kind      AdjustmentKind `gorm:"type:text;not null"`
	Amount    int64          `gorm:"not null"`
	Reason    string         `gorm:"type:text"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Adjustment) TableName() string { return "adjustments" }

// Payment is a ledger entry of money received against one invoice. The
// aggregator sums every row regardless of Status; the ledger is trusted as
// already authoritative.
type Payment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	SchoolID  snowflake.ID `gorm:"not null;index"`
	InvoiceID snowflake.ID `gorm:"not null;index"`
	Amount    int64        `gorm:"not null"`
	Status    string       `gorm:"type:text"`
	Reference string       `gorm:"type:text"`
	PaidAt    *time.Time   `gorm:""`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

// InstallmentPlan is a one-time split of an invoice's required subtotal.
// The unique index on InvoiceID enforces at most one plan per invoice.
type InstallmentPlan struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	SchoolID      snowflake.ID `gorm:"not null;index"`
	InvoiceID     snowflake.ID `gorm:"not null;uniqueIndex:ux_installment_plan_invoice"`
	SplitTemplate string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InstallmentPlan) TableName() string { return "installment_plans" }

// Installment is one dated slot of a plan. Amount is fixed at creation;
// Status is recomputed on every trigger.
type Installment struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	SchoolID   snowflake.ID      `gorm:"not null;index"`
	PlanID     snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_installment_slot,priority:1"`
	InvoiceID  snowflake.ID      `gorm:"not null;index"`
	SequenceNo int               `gorm:"not null;uniqueIndex:ux_installment_slot,priority:2"`
	Amount     int64             `gorm:"not null"`
	DueAt      time.Time         `gorm:"not null"`
	Status     InstallmentStatus `gorm:"type:text;not null;default:'DUE'"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Installment) TableName() string { return "installments" }
