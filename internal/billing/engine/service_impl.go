// Package engine recomputes a student invoice's financial snapshot from its
// related records: materialized lines, adjustments, the payment ledger and
// the installment plan.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/billing/outbox"
	"github.com/classpoint/invoicing/internal/clock"
	"github.com/classpoint/invoicing/internal/config"
	"github.com/classpoint/invoicing/internal/schoolctx"
	"github.com/classpoint/invoicing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module provides the recomputation engine.
var Module = fx.Module("billing.engine",
	fx.Provide(NewService),
)

// Options toggles engine behavior. DisableLineMaterialization switches the
// totals calculator to the raw fee-schedule fallback; it exists for the
// legacy path that runs without a line store.
type Options struct {
	DisableLineMaterialization bool
}

type ServiceParam struct {
	fx.In

	Cfg     config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	Outbox  *outbox.Publisher `optional:"true"`
	Options Options           `optional:"true"`
}

type Service struct {
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.PolicyHolder
	outbox *outbox.Publisher
	opts   Options

	invoiceRepo      repository.Repository[domain.Invoice]
	lineRepo         repository.Repository[domain.InvoiceLine]
	scheduleLineRepo repository.Repository[domain.FeeScheduleLine]
	feeItemRepo      repository.Repository[domain.FeeItem]
	adjustmentRepo   repository.Repository[domain.Adjustment]
	paymentRepo      repository.Repository[domain.Payment]
	planRepo         repository.Repository[domain.InstallmentPlan]
	installmentRepo  repository.Repository[domain.Installment]
}

func NewService(p ServiceParam) (domain.Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil {
		return nil, domain.ErrInvalidConfig
	}
	return &Service{
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("billing.engine"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		outbox: p.Outbox,
		opts:   p.Options,

		invoiceRepo:      repository.ProvideStore[domain.Invoice](p.DB),
		lineRepo:         repository.ProvideStore[domain.InvoiceLine](p.DB),
		scheduleLineRepo: repository.ProvideStore[domain.FeeScheduleLine](p.DB),
		feeItemRepo:      repository.ProvideStore[domain.FeeItem](p.DB),
		adjustmentRepo:   repository.ProvideStore[domain.Adjustment](p.DB),
		paymentRepo:      repository.ProvideStore[domain.Payment](p.DB),
		planRepo:         repository.ProvideStore[domain.InstallmentPlan](p.DB),
		installmentRepo:  repository.ProvideStore[domain.Installment](p.DB),
	}, nil
}

// Recompute derives the invoice's full financial snapshot from current
// records and persists it. Every write path is safe to repeat; a redelivered
// trigger converges on the same state.
func (s *Service) Recompute(ctx context.Context, trigger domain.Trigger) (domain.Outcome, error) {
	ctx = schoolctx.WithSchoolID(ctx, trigger.SchoolID)
	log := s.log.With(
		zap.String("school_id", trigger.SchoolID.String()),
		zap.String("invoice_id", trigger.InvoiceID.String()),
		zap.String("detail_type", trigger.DetailType),
	)

	invoice, err := s.invoiceRepo.FindOne(ctx, &domain.Invoice{
		ID:       trigger.InvoiceID,
		SchoolID: trigger.SchoolID,
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	if invoice == nil {
		return domain.Outcome{}, domain.ErrInvoiceNotFound
	}

	required, optional, linesCreated, err := s.subtotals(ctx, invoice, log)
	if err != nil {
		return domain.Outcome{}, err
	}

	adjustments, err := s.adjustmentRepo.Find(ctx, &domain.Adjustment{InvoiceID: invoice.ID})
	if err != nil {
		return domain.Outcome{}, err
	}
	discount, penalty := ResolveAdjustments(adjustments, required)

	payments, err := s.paymentRepo.Find(ctx, &domain.Payment{InvoiceID: invoice.ID})
	if err != nil {
		return domain.Outcome{}, err
	}
	paid := SumPayments(payments)

	minFirstPercent := ResolveMinFirstPercent(invoice.MinFirstPercent, s.policy.Current().MinFirstPercent)
	totals := ComputeTotals(required, optional, discount, penalty, paid, minFirstPercent)

	planCreated, err := s.ensurePlan(ctx, invoice, totals.RequiredSubtotal, log)
	if err != nil {
		return domain.Outcome{}, err
	}
	if err := s.recomputeInstallments(ctx, invoice, totals.AmountPaid); err != nil {
		return domain.Outcome{}, err
	}

	now := s.clock.Now()
	if err := s.persistTotals(ctx, invoice, totals, now); err != nil {
		return domain.Outcome{}, err
	}

	if err := s.emitOutcome(ctx, trigger, invoice, totals, now); err != nil {
		return domain.Outcome{}, err
	}

	outcome := domain.Outcome{
		InvoiceID:        invoice.ID.String(),
		RequiredSubtotal: totals.RequiredSubtotal,
		OptionalSubtotal: totals.OptionalSubtotal,
		DiscountTotal:    totals.DiscountTotal,
		PenaltyTotal:     totals.PenaltyTotal,
		AmountPaid:       totals.AmountPaid,
		AmountDue:        totals.AmountDue,
		Status:           totals.Status,
		Derived:          totals.Derived(invoice.DueAt, now),
		LinesCreated:     linesCreated,
		PlanCreated:      planCreated,
		ProcessedAt:      now,
	}

	log.Info("invoice recomputed",
		zap.Int64("amount_due", outcome.AmountDue),
		zap.Int64("amount_paid", outcome.AmountPaid),
		zap.String("status", string(outcome.Status)),
		zap.String("derived_status", string(outcome.Derived)),
		zap.Int("lines_created", outcome.LinesCreated),
		zap.Bool("plan_created", outcome.PlanCreated),
	)
	return outcome, nil
}

// subtotals produces the required/optional figures, materializing lines on
// the way unless the legacy fallback is active.
func (s *Service) subtotals(ctx context.Context, invoice *domain.Invoice, log *zap.Logger) (required, optional int64, created int, err error) {
	if s.opts.DisableLineMaterialization {
		if invoice.FeeScheduleID == nil {
			return 0, 0, 0, nil
		}
		scheduleLines, err := s.scheduleLineRepo.Find(ctx, &domain.FeeScheduleLine{FeeScheduleID: *invoice.FeeScheduleID})
		if err != nil {
			return 0, 0, 0, err
		}
		required, optional = SubtotalsFromScheduleLines(scheduleLines)
		return required, optional, 0, nil
	}

	lines, created, err := s.materializeLines(ctx, invoice, log)
	if err != nil {
		return 0, 0, 0, err
	}
	required, optional = SubtotalsFromLines(lines)
	return required, optional, created, nil
}

// persistTotals overwrites the invoice aggregate fields in one conditional
// update and stamps last_processed_at.
func (s *Service) persistTotals(ctx context.Context, invoice *domain.Invoice, totals Totals, now time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET required_subtotal = ?, optional_subtotal = ?, discount_total = ?,
		     penalty_total = ?, amount_paid = ?, amount_due = ?, status = ?,
		     min_first_amount = ?, below_min_first = ?, last_processed_at = ?, updated_at = ?
		 WHERE id = ? AND school_id = ?`,
		totals.RequiredSubtotal,
		totals.OptionalSubtotal,
		totals.DiscountTotal,
		totals.PenaltyTotal,
		totals.AmountPaid,
		totals.AmountDue,
		totals.Status,
		totals.MinFirstAmount,
		totals.BelowMinFirst,
		now,
		now,
		invoice.ID,
		invoice.SchoolID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("persist totals for invoice %s: %w", invoice.ID, domain.ErrInvoiceNotFound)
	}
	return nil
}
