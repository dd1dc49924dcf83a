package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/billing/outbox"
)

// emitOutcome writes the post-recompute events. A processed event always goes
// out; messaging requests only for triggers that warrant a guardian
// notification. Dedupe keys carry the delivery scope so a redelivered record
// converges instead of fanning out twice.
func (s *Service) emitOutcome(ctx context.Context, trigger domain.Trigger, invoice *domain.Invoice, totals Totals, now time.Time) error {
	if !s.outbox.Enabled() {
		return nil
	}

	payload := map[string]any{}
	for k, v := range trigger.Detail {
		payload[k] = v
	}
	payload["schoolId"] = invoice.SchoolID.String()
	payload["invoiceId"] = invoice.ID.String()
	payload["originalDetailType"] = trigger.DetailType
	payload["amountDue"] = totals.AmountDue
	payload["amountPaid"] = totals.AmountPaid
	payload["status"] = string(totals.Status)
	payload["derivedStatus"] = string(totals.Derived(invoice.DueAt, now))

	err := s.outbox.Publish(ctx, outbox.Event{
		SchoolID:  invoice.SchoolID,
		EventType: domain.EventInvoicingProcessed,
		Source:    s.cfg.EventSourceBilling,
		Payload:   payload,
		DedupeKey: dedupeKey(domain.EventInvoicingProcessed, invoice, trigger),
	})
	if err != nil {
		return err
	}

	for _, template := range notificationTemplates(trigger, invoice, totals, now) {
		err = s.outbox.Publish(ctx, outbox.Event{
			SchoolID:  invoice.SchoolID,
			EventType: domain.EventMessagingRequested,
			Source:    s.cfg.EventSourceMessaging,
			Payload: map[string]any{
				"schoolId":  invoice.SchoolID.String(),
				"invoiceId": invoice.ID.String(),
				"studentId": invoice.StudentID.String(),
				"template":  template,
				"amountDue": totals.AmountDue,
			},
			DedupeKey: dedupeKey(domain.EventMessagingRequested+":"+template, invoice, trigger),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// notificationTemplates lists the guardian messages owed for this trigger.
// Only a generated invoice notifies, and never for a selection update; the
// overdue notice rides along when the due date has elapsed with a balance
// outstanding.
func notificationTemplates(trigger domain.Trigger, invoice *domain.Invoice, totals Totals, now time.Time) []string {
	if trigger.DetailType != domain.DetailTypeInvoiceGenerated || trigger.Reason == domain.ReasonSelectionUpdate {
		return nil
	}
	templates := []string{domain.TemplateInvoiceIssued}
	if invoice.DueAt != nil && invoice.DueAt.Before(now) && totals.AmountDue > 0 {
		templates = append(templates, domain.TemplateOverdueNotice)
	}
	return templates
}

func dedupeKey(eventType string, invoice *domain.Invoice, trigger domain.Trigger) string {
	return fmt.Sprintf("%s:%s:%s", eventType, invoice.ID, trigger.DedupeScope)
}
