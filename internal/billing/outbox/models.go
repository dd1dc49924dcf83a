// Package outbox persists emitted events for the downstream event bus.
package outbox

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OutboxEvent is one event awaiting pickup by the bus forwarder. The dedupe
// key keeps redeliveries from fanning out duplicate notifications.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	SchoolID    snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_outbox_dedupe,priority:1"`
	Destination string            `gorm:"type:text;not null"`
	EventType   string            `gorm:"type:text;not null"`
	Source      string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_outbox_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
