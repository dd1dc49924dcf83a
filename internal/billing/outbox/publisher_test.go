package outbox

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/config"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newPublisherFixture(t *testing.T) (*Publisher, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&OutboxEvent{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	cfg := config.Config{EventBusName: "classpoint-bus"}
	return NewPublisher(cfg, db, zap.NewNop(), node), db, node
}

func TestPublish_WritesRow(t *testing.T) {
	p, db, node := newPublisherFixture(t)
	school := node.Generate()

	require.NoError(t, p.Publish(context.Background(), Event{
		SchoolID:  school,
		EventType: "invoicing.processed",
		Source:    "classpoint.billing",
		Payload:   map[string]any{"invoiceId": "2002"},
		DedupeKey: "invoicing.processed:2002:rec-1",
	}))

	var row OutboxEvent
	require.NoError(t, db.First(&row, "school_id = ?", school).Error)
	assert.Equal(t, "classpoint-bus", row.Destination)
	assert.Equal(t, "invoicing.processed", row.EventType)
	assert.False(t, row.Published)
	assert.Equal(t, "2002", row.Payload["invoiceId"])
}

func TestPublish_DedupeCollapsesRedelivery(t *testing.T) {
	p, db, node := newPublisherFixture(t)
	school := node.Generate()

	event := Event{
		SchoolID:  school,
		EventType: "messaging.requested",
		Source:    "classpoint.messaging",
		Payload:   map[string]any{"template": "INVOICE_ISSUED"},
		DedupeKey: "messaging.requested:INVOICE_ISSUED:2002:rec-1",
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Publish(context.Background(), event))

	var count int64
	db.Model(&OutboxEvent{}).Where("school_id = ?", school).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPublish_NilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), Event{EventType: "invoicing.processed"}))
}

func TestNewPublisher_DisabledWithoutDestination(t *testing.T) {
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	p := NewPublisher(config.Config{}, nil, zap.NewNop(), node)
	assert.Nil(t, p)
}
