package outbox

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/config"
	"github.com/classpoint/invoicing/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one emission request.
type Event struct {
	SchoolID  snowflake.ID
	EventType string
	Source    string
	Payload   map[string]any
	DedupeKey string
}

// Publisher writes outbox rows for the bus forwarder. A nil Publisher is a
// valid no-op; construction returns nil when no event destination is
// configured.
type Publisher struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	destination string
}

// Module provides the outbox publisher.
var Module = fx.Module("billing.outbox",
	fx.Provide(NewPublisher),
)

func NewPublisher(cfg config.Config, db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Publisher {
	if !cfg.EmissionEnabled() {
		log.Named("billing.outbox").Info("event bus destination not configured, emission disabled")
		return nil
	}
	return &Publisher{
		db:          db,
		log:         log.Named("billing.outbox"),
		genID:       genID,
		destination: cfg.EventBusName,
	}
}

// Enabled reports whether events will actually be written.
func (p *Publisher) Enabled() bool { return p != nil }

// Publish inserts one outbox row. Rows sharing a dedupe key within a school
// collapse; the conflict is the expected already-emitted outcome.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}

	var dedupe *string
	if event.DedupeKey != "" {
		dedupe = &event.DedupeKey
	}

	row := OutboxEvent{
		ID:          p.genID.Generate(),
		SchoolID:    event.SchoolID,
		Destination: p.destination,
		EventType:   event.EventType,
		Source:      event.Source,
		Payload:     datatypes.JSONMap(event.Payload),
		DedupeKey:   dedupe,
		CreatedAt:   time.Now().UTC(),
	}

	result := p.db.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (
			id, school_id, destination, event_type, source, payload, dedupe_key, published, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, false, ?)
		ON CONFLICT (school_id, dedupe_key) DO NOTHING`,
		row.ID,
		row.SchoolID,
		row.Destination,
		row.EventType,
		row.Source,
		row.Payload,
		row.DedupeKey,
		row.CreatedAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		metrics.Worker().IncEventEmitted(event.EventType)
	}
	return nil
}
