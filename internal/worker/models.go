// Package worker drains the inbox of queued invoicing triggers.
package worker

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InboxRecord is one delivered queue record awaiting processing. The bus
// ingress appends rows; this worker consumes them. A record left unprocessed
// with a bumped attempt count is the redelivery path.
type InboxRecord struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Source      string       `gorm:"type:text"`
	Body        []byte       `gorm:"type:bytea;not null"`
	Attempts    int          `gorm:"not null;default:0"`
	Processed   bool         `gorm:"not null;default:false;index:ix_inbox_unprocessed,where:processed = false"`
	ProcessedAt *time.Time   `gorm:""`
	LastError   *string      `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InboxRecord) TableName() string { return "inbox_records" }
