package engine

import (
	"context"
	"math"
	"time"

	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/observability/metrics"
	"github.com/classpoint/invoicing/pkg/db/option"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SplitAmounts divides total across ratios. Each slot rounds to the nearest
// minor unit; the last slot absorbs the remainder so the sum is exactly total.
func SplitAmounts(ratios []float64, total int64) []int64 {
	if len(ratios) == 0 || total <= 0 {
		return nil
	}
	amounts := make([]int64, len(ratios))
	var allocated int64
	for i, ratio := range ratios[:len(ratios)-1] {
		amounts[i] = int64(math.Round(ratio * float64(total)))
		allocated += amounts[i]
	}
	amounts[len(ratios)-1] = total - allocated
	return amounts
}

// AllocateStatuses assigns PAID/OVERDUE/DUE to installments in ascending
// sequence order by greedily consuming the invoice's total paid amount. The
// allocation restarts from scratch each run; no per-installment memory is
// kept beyond the resulting status.
func AllocateStatuses(installments []*domain.Installment, amountPaid int64, now time.Time) []domain.InstallmentStatus {
	statuses := make([]domain.InstallmentStatus, len(installments))
	remaining := amountPaid
	for i, inst := range installments {
		switch {
		case remaining >= inst.Amount:
			statuses[i] = domain.InstallmentStatusPaid
			remaining -= inst.Amount
		case inst.DueAt.Before(now):
			statuses[i] = domain.InstallmentStatusOverdue
		default:
			statuses[i] = domain.InstallmentStatusDue
		}
	}
	return statuses
}

// ensurePlan creates the one-time installment plan when none exists. A plan
// is immutable once created, even if the invoice's template or subtotal later
// changes. Plan and slots commit in one transaction; a pre-existing plan row
// without slots gets its slots filled so an interrupted creation converges on
// redelivery.
func (s *Service) ensurePlan(ctx context.Context, invoice *domain.Invoice, requiredSubtotal int64, log *zap.Logger) (bool, error) {
	existing, err := s.planRepo.FindOne(ctx, &domain.InstallmentPlan{InvoiceID: invoice.ID})
	if err != nil {
		return false, err
	}
	if existing != nil {
		slots, err := s.installmentRepo.Count(ctx, &domain.Installment{PlanID: existing.ID})
		if err != nil {
			return false, err
		}
		if slots > 0 || requiredSubtotal <= 0 {
			return false, nil
		}
		return false, s.insertSlots(s.db.WithContext(ctx), existing, invoice, requiredSubtotal)
	}
	if requiredSubtotal <= 0 {
		return false, nil
	}

	template := ""
	if invoice.SplitTemplate != nil {
		template = *invoice.SplitTemplate
	}
	plan := &domain.InstallmentPlan{
		ID:            s.genID.Generate(),
		SchoolID:      invoice.SchoolID,
		InvoiceID:     invoice.ID,
		SplitTemplate: template,
		CreatedAt:     s.clock.Now(),
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`INSERT INTO installment_plans (id, school_id, invoice_id, split_template, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (invoice_id) DO NOTHING`,
			plan.ID,
			plan.SchoolID,
			plan.InvoiceID,
			plan.SplitTemplate,
			plan.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent recomputation; its plan wins.
			return nil
		}
		created = true
		return s.insertSlots(tx, plan, invoice, requiredSubtotal)
	})
	if err != nil || !created {
		return false, err
	}

	metrics.Worker().IncPlanCreated()
	log.Info("installment plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("split_template", template),
	)
	return true, nil
}

// insertSlots writes the plan's installment rows. Each insert lands on the
// (plan_id, sequence_no) unique slot so reruns converge.
func (s *Service) insertSlots(tx *gorm.DB, plan *domain.InstallmentPlan, invoice *domain.Invoice, requiredSubtotal int64) error {
	ratios := s.policy.Current().Ratios(plan.SplitTemplate)
	amounts := SplitAmounts(ratios, requiredSubtotal)

	base := s.clock.Now()
	if invoice.DueAt != nil {
		base = *invoice.DueAt
	}
	intervalDays := s.policy.Current().InstallmentIntervalDays

	now := s.clock.Now()
	for i, amount := range amounts {
		installment := domain.Installment{
			ID:         s.genID.Generate(),
			SchoolID:   invoice.SchoolID,
			PlanID:     plan.ID,
			InvoiceID:  invoice.ID,
			SequenceNo: i + 1,
			Amount:     amount,
			DueAt:      base.AddDate(0, 0, i*intervalDays),
			Status:     domain.InstallmentStatusDue,
			UpdatedAt:  now,
		}
		if err := tx.Exec(
			`INSERT INTO installments (id, school_id, plan_id, invoice_id, sequence_no, amount, due_at, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (plan_id, sequence_no) DO NOTHING`,
			installment.ID,
			installment.SchoolID,
			installment.PlanID,
			installment.InvoiceID,
			installment.SequenceNo,
			installment.Amount,
			installment.DueAt,
			installment.Status,
			installment.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

// recomputeInstallments reassigns every installment status from the current
// cumulative paid amount. Runs on every trigger regardless of plan age.
func (s *Service) recomputeInstallments(ctx context.Context, invoice *domain.Invoice, amountPaid int64) error {
	installments, err := s.installmentRepo.Find(ctx,
		&domain.Installment{InvoiceID: invoice.ID},
		option.WithOrderAsc("sequence_no"),
	)
	if err != nil {
		return err
	}
	if len(installments) == 0 {
		return nil
	}

	now := s.clock.Now()
	statuses := AllocateStatuses(installments, amountPaid, now)
	for i, inst := range installments {
		if inst.Status == statuses[i] {
			continue
		}
		if err := s.installmentRepo.Update(ctx, inst.ID.String(), map[string]any{
			"status":     statuses[i],
			"updated_at": now,
		}); err != nil {
			return err
		}
		metrics.Worker().IncInstallmentTransition(string(statuses[i]))
	}
	return nil
}
