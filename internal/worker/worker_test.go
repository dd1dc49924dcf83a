package worker

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/clock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeService struct {
	triggers []domain.Trigger
	err      error
}

func (f *fakeService) Recompute(_ context.Context, trigger domain.Trigger) (domain.Outcome, error) {
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return domain.Outcome{}, f.err
	}
	return domain.Outcome{InvoiceID: trigger.InvoiceID.String()}, nil
}

type workerFixture struct {
	worker *Worker
	db     *gorm.DB
	node   *snowflake.Node
	svc    *fakeService
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&InboxRecord{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := &fakeService{}
	worker := NewWorker(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)),
		Service: svc,
	})

	return &workerFixture{worker: worker, db: db, node: node, svc: svc}
}

func (f *workerFixture) seedRecord(t *testing.T, body string) *InboxRecord {
	t.Helper()
	record := InboxRecord{
		ID:     f.node.Generate(),
		Source: "classpoint.billing",
		Body:   []byte(body),
	}
	require.NoError(t, f.db.Create(&record).Error)
	return &record
}

func (f *workerFixture) reload(t *testing.T, id snowflake.ID) *InboxRecord {
	t.Helper()
	var record InboxRecord
	require.NoError(t, f.db.First(&record, "id = ?", id).Error)
	return &record
}

func TestRunOnce_ProcessesValidRecord(t *testing.T) {
	f := newWorkerFixture(t)
	record := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"2002","reason":"NEW_TERM"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	require.Len(t, f.svc.triggers, 1)
	trigger := f.svc.triggers[0]
	assert.Equal(t, "1001", trigger.SchoolID.String())
	assert.Equal(t, "2002", trigger.InvoiceID.String())
	assert.Equal(t, "NEW_TERM", trigger.Reason)
	assert.Equal(t, record.ID.String(), trigger.DedupeScope)

	stored := f.reload(t, record.ID)
	assert.True(t, stored.Processed)
	require.NotNil(t, stored.ProcessedAt)
}

func TestRunOnce_WrappedEnvelope(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedRecord(t, `{"detailType":"invoice.generated","source":"classpoint.billing","detail":"{\"schoolId\":\"1001\",\"invoiceId\":\"2002\"}"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	require.Len(t, f.svc.triggers, 1)
	assert.Equal(t, domain.DetailTypeInvoiceGenerated, f.svc.triggers[0].DetailType)
}

func TestRunOnce_MissingCorrelationIsDropped(t *testing.T) {
	f := newWorkerFixture(t)
	record := f.seedRecord(t, `{"schoolId":"1001"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Empty(t, f.svc.triggers, "a record without ids must not reach the engine")

	stored := f.reload(t, record.ID)
	assert.True(t, stored.Processed)
}

func TestRunOnce_UnparseableBodyIsRetried(t *testing.T) {
	f := newWorkerFixture(t)
	record := f.seedRecord(t, `{not json`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	stored := f.reload(t, record.ID)
	assert.False(t, stored.Processed)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "parse record body")
}

func TestRunOnce_OverdueScanIsAcknowledged(t *testing.T) {
	f := newWorkerFixture(t)
	record := f.seedRecord(t, `{"detailType":"invoice.overdue.scan","detail":{"schoolId":"1001","invoiceId":"2002"}}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Empty(t, f.svc.triggers)

	stored := f.reload(t, record.ID)
	assert.True(t, stored.Processed)
}

func TestRunOnce_MissingInvoiceIsDropped(t *testing.T) {
	f := newWorkerFixture(t)
	f.svc.err = domain.ErrInvoiceNotFound
	record := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"2002"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.reload(t, record.ID)
	assert.True(t, stored.Processed)
}

func TestRunOnce_EngineFailureIsRetried(t *testing.T) {
	f := newWorkerFixture(t)
	f.svc.err = gorm.ErrInvalidDB
	record := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"2002"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	stored := f.reload(t, record.ID)
	assert.False(t, stored.Processed)
	assert.Equal(t, 1, stored.Attempts)
}

func TestRunOnce_BatchOrderAndLimit(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.cfg.BatchSize = 2

	first := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"1"}`)
	second := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"2"}`)
	third := f.seedRecord(t, `{"schoolId":"1001","invoiceId":"3"}`)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	assert.True(t, f.reload(t, first.ID).Processed)
	assert.True(t, f.reload(t, second.ID).Processed)
	assert.False(t, f.reload(t, third.ID).Processed)

	settled, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.True(t, f.reload(t, third.ID).Processed)
}

func TestRunOnce_EmptyInboxIsQuiet(t *testing.T) {
	f := newWorkerFixture(t)

	settled, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
}
