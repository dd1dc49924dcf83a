package engine

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/observability/metrics"
	"github.com/classpoint/invoicing/pkg/db/option"
	"go.uber.org/zap"
)

// feeItemBatchCap bounds one catalog fetch. A schedule referencing more than
// this many distinct fee items is unsupported; the overflow falls back to
// catalog-missing labels.
const feeItemBatchCap = 100

// materializeLines returns the invoice's lines, synthesizing them from the
// fee schedule template on first contact. Existing lines are used as-is and
// never regenerated; the template stops being the source of truth after the
// first materialization.
func (s *Service) materializeLines(ctx context.Context, invoice *domain.Invoice, log *zap.Logger) ([]*domain.InvoiceLine, int, error) {
	existing, err := s.lineRepo.Find(ctx,
		&domain.InvoiceLine{InvoiceID: invoice.ID},
		option.WithOrderAsc("sort_order"),
	)
	if err != nil {
		return nil, 0, err
	}
	if len(existing) > 0 {
		return existing, 0, nil
	}
	if invoice.FeeScheduleID == nil {
		return nil, 0, nil
	}

	scheduleLines, err := s.scheduleLineRepo.Find(ctx,
		&domain.FeeScheduleLine{FeeScheduleID: *invoice.FeeScheduleID},
		option.WithOrderAsc("sort_order"),
	)
	if err != nil {
		return nil, 0, err
	}
	if len(scheduleLines) == 0 {
		return nil, 0, nil
	}

	catalog, err := s.fetchFeeItems(ctx, invoice.SchoolID, scheduleLines, log)
	if err != nil {
		return nil, 0, err
	}

	now := s.clock.Now()
	created := 0
	for _, scheduleLine := range scheduleLines {
		line := synthesizeLine(s.genID.Generate(), invoice, scheduleLine, catalog[scheduleLine.FeeItemID], now)
		inserted, err := s.insertLine(ctx, line)
		if err != nil {
			return nil, 0, err
		}
		if inserted {
			created++
		}
	}
	metrics.Worker().AddLinesMaterialized(created)

	lines, err := s.lineRepo.Find(ctx,
		&domain.InvoiceLine{InvoiceID: invoice.ID},
		option.WithOrderAsc("sort_order"),
	)
	if err != nil {
		return nil, 0, err
	}
	return lines, created, nil
}

// fetchFeeItems batch-loads the distinct catalog entries a schedule refers
// to, capped at feeItemBatchCap.
func (s *Service) fetchFeeItems(ctx context.Context, schoolID snowflake.ID, scheduleLines []*domain.FeeScheduleLine, log *zap.Logger) (map[snowflake.ID]*domain.FeeItem, error) {
	seen := make(map[snowflake.ID]bool, len(scheduleLines))
	ids := make([]snowflake.ID, 0, len(scheduleLines))
	for _, line := range scheduleLines {
		if seen[line.FeeItemID] {
			continue
		}
		seen[line.FeeItemID] = true
		ids = append(ids, line.FeeItemID)
	}

	if len(ids) > feeItemBatchCap {
		log.Warn("fee schedule exceeds catalog batch cap, truncating",
			zap.Int("distinct_items", len(ids)),
			zap.Int("cap", feeItemBatchCap),
		)
		ids = ids[:feeItemBatchCap]
	}
	if len(ids) == 0 {
		return map[snowflake.ID]*domain.FeeItem{}, nil
	}

	items, err := s.feeItemRepo.Find(ctx,
		&domain.FeeItem{SchoolID: schoolID},
		option.WithIn("id", ids),
	)
	if err != nil {
		return nil, err
	}

	catalog := make(map[snowflake.ID]*domain.FeeItem, len(items))
	for _, item := range items {
		catalog[item.ID] = item
	}
	return catalog, nil
}

// synthesizeLine builds one invoice line from a schedule line and its catalog
// entry. Required lines start selected; optional lines wait for the guardian
// to opt in.
func synthesizeLine(id snowflake.ID, invoice *domain.Invoice, scheduleLine *domain.FeeScheduleLine, item *domain.FeeItem, now time.Time) domain.InvoiceLine {
	label := "Fee"
	description := ""
	optional := false

	if item != nil {
		if item.Name != "" {
			label = item.Name
		}
		description = item.Description
		optional = item.DefaultOptional
	} else if scheduleLine.FeeItemID != 0 {
		label = scheduleLine.FeeItemID.String()
	}

	if scheduleLine.Optional != nil {
		optional = *scheduleLine.Optional
	}

	return domain.InvoiceLine{
		ID:          id,
		SchoolID:    invoice.SchoolID,
		InvoiceID:   invoice.ID,
		FeeItemID:   scheduleLine.FeeItemID,
		Label:       label,
		Description: description,
		Amount:      scheduleLine.Amount,
		IsOptional:  optional,
		IsSelected:  !optional,
		SortOrder:   scheduleLine.SortOrder,
		CreatedAt:   now,
	}
}

func (s *Service) insertLine(ctx context.Context, line domain.InvoiceLine) (bool, error) {
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO invoice_lines (
			id, school_id, invoice_id, fee_item_id, label, description,
			amount, is_optional, is_selected, sort_order, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_id, fee_item_id, sort_order) DO NOTHING`,
		line.ID,
		line.SchoolID,
		line.InvoiceID,
		line.FeeItemID,
		line.Label,
		line.Description,
		line.Amount,
		line.IsOptional,
		line.IsSelected,
		line.SortOrder,
		line.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
