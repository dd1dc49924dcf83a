package domain

import "github.com/bwmarrin/snowflake"

// Recognized trigger detail types. Anything else is treated as a generic
// recompute trigger.
const (
	DetailTypeInvoiceGenerated = "invoice.generated"
	DetailTypeOverdueScan      = "invoice.overdue.scan"
)

// ReasonSelectionUpdate marks invoice.generated triggers caused by a guardian
// selecting or deselecting an optional line. Those must never re-notify.
const ReasonSelectionUpdate = "SELECTION_UPDATE"

// Emitted event types and messaging templates.
const (
	EventInvoicingProcessed = "invoicing.processed"
	EventMessagingRequested = "messaging.requested"

	TemplateInvoiceIssued = "INVOICE_ISSUED"
	TemplateOverdueNotice = "OVERDUE_NOTICE"
)

// Trigger is one normalized queue record: the correlation ids plus the
// original detail payload, which rides along on emitted events.
type Trigger struct {
	SchoolID   snowflake.ID
	InvoiceID  snowflake.ID
	DetailType string
	Reason     string
	Detail     map[string]any

	// DedupeScope identifies the delivery this trigger came from. Emitted
	// events reuse it in their dedupe keys so a redelivered record does not
	// fan out duplicate notifications.
	DedupeScope string
}

// IsOverdueScan reports whether this trigger is the recognized-but-unimplemented
// overdue scan no-op.
func (t Trigger) IsOverdueScan() bool {
	return t.DetailType == DetailTypeOverdueScan
}
