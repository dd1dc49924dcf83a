// Package intake normalizes raw queue record bodies into triggers.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/billing/domain"
)

// Envelope is the tagged union of the two record shapes the queue delivers:
// a flat detail object, or a wrapper whose Detail may itself be a
// JSON-encoded string.
type Envelope struct {
	Flat    *FlatEvent
	Wrapped *WrappedEvent
}

// FlatEvent is a bare detail object carrying the correlation ids directly.
type FlatEvent struct {
	Detail map[string]any
}

// WrappedEvent is a bus-style wrapper around the detail object.
type WrappedEvent struct {
	Detail     map[string]any
	DetailType string
	Source     string
}

// ParseEnvelope decodes one record body. A body that is not valid JSON is a
// fatal parse error; the caller rethrows it so the record is redelivered. A
// body that parses but lacks schoolId or invoiceId returns
// domain.ErrMissingCorrelation, which has no retry value.
func ParseEnvelope(body []byte) (domain.Trigger, error) {
	envelope, err := decodeEnvelope(body)
	if err != nil {
		return domain.Trigger{}, err
	}

	detail := envelope.detail()
	detailType := envelope.detailType()

	schoolID, okSchool := idField(detail, "schoolId")
	invoiceID, okInvoice := idField(detail, "invoiceId")
	if !okSchool || !okInvoice {
		return domain.Trigger{}, fmt.Errorf("%w (detailType=%q)", domain.ErrMissingCorrelation, detailType)
	}

	return domain.Trigger{
		SchoolID:   schoolID,
		InvoiceID:  invoiceID,
		DetailType: detailType,
		Reason:     stringField(detail, "reason"),
		Detail:     detail,
	}, nil
}

func decodeEnvelope(body []byte) (Envelope, error) {
	var raw map[string]any
	if err := decodeJSON(body, &raw); err != nil {
		return Envelope{}, fmt.Errorf("parse record body: %w", err)
	}

	detailRaw, hasDetail := raw["detail"]
	_, hasDetailType := raw["detailType"]
	if !hasDetail && !hasDetailType {
		return Envelope{Flat: &FlatEvent{Detail: raw}}, nil
	}

	wrapped := WrappedEvent{
		DetailType: stringField(raw, "detailType"),
		Source:     stringField(raw, "source"),
	}

	switch typed := detailRaw.(type) {
	case nil:
		wrapped.Detail = map[string]any{}
	case map[string]any:
		wrapped.Detail = typed
	case string:
		// Detail arrived double-encoded; a broken inner payload is as
		// fatal as a broken body.
		var inner map[string]any
		if err := decodeJSON([]byte(typed), &inner); err != nil {
			return Envelope{}, fmt.Errorf("parse wrapped detail: %w", err)
		}
		wrapped.Detail = inner
	default:
		return Envelope{}, fmt.Errorf("parse wrapped detail: unexpected type %T", detailRaw)
	}

	return Envelope{Wrapped: &wrapped}, nil
}

func (e Envelope) detail() map[string]any {
	if e.Wrapped != nil {
		return e.Wrapped.Detail
	}
	if e.Flat != nil {
		return e.Flat.Detail
	}
	return nil
}

func (e Envelope) detailType() string {
	if e.Wrapped != nil {
		return e.Wrapped.DetailType
	}
	return ""
}

// decodeJSON decodes with UseNumber so snowflake ids survive as full-width
// integers instead of lossy float64s.
func decodeJSON(body []byte, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

func idField(detail map[string]any, key string) (snowflake.ID, bool) {
	value, ok := detail[key]
	if !ok || value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err != nil || parsed == 0 {
			return 0, false
		}
		return parsed, true
	case json.Number:
		parsed, err := snowflake.ParseString(typed.String())
		if err != nil || parsed == 0 {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func stringField(detail map[string]any, key string) string {
	if value, ok := detail[key].(string); ok {
		return value
	}
	return ""
}
