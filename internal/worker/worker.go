package worker

import (
	"context"
	"errors"
	"time"

	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/classpoint/invoicing/internal/billing/intake"
	"github.com/classpoint/invoicing/internal/clock"
	"github.com/classpoint/invoicing/internal/observability/metrics"
	"github.com/classpoint/invoicing/pkg/db/option"
	"github.com/classpoint/invoicing/pkg/repository"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Service domain.Service
	Config  Config `optional:"true"`
}

type Worker struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	service   domain.Service
	inboxRepo repository.Repository[InboxRecord]
	cfg       Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:        p.DB,
		log:       p.Log.Named("invoicing.worker"),
		clock:     p.Clock,
		service:   p.Service,
		inboxRepo: repository.ProvideStore[InboxRecord](p.DB),
		cfg:       p.Config.withDefaults(),
	}
}

// RunForever polls the inbox until the context is cancelled. Failed runs log
// and wait for the next tick; the loop itself never stops on error.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("invoicing run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains up to one batch of unprocessed records and reports how many
// reached a terminal outcome.
func (w *Worker) RunOnce(parentCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	m := metrics.Worker()
	m.IncRun()
	started := time.Now()
	defer func() { m.ObserveRunDuration(time.Since(started)) }()

	runID := uuid.NewString()
	processed, err := w.processBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		m.IncRunError(err)
		w.log.Warn("inbox batch failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return processed, err
	}
	if processed > 0 {
		w.log.Info("inbox batch settled",
			zap.String("run_id", runID),
			zap.Int("records", processed),
		)
	}
	return processed, nil
}

func (w *Worker) processBatch(ctx context.Context, limit int) (int, error) {
	records, err := w.inboxRepo.Find(ctx,
		&InboxRecord{},
		option.ApplyOperator(option.Condition{Field: "processed", Operator: option.EQ, Value: false}),
		option.WithOrderAsc("id"),
		option.WithLimit(limit),
	)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	settled := 0
	for _, record := range records {
		recordCtx, cancel := context.WithTimeout(ctx, w.cfg.RecordTimeout)
		done := w.processRecord(recordCtx, record)
		cancel()

		if done {
			settled++
		}

		if ctx.Err() != nil {
			break
		}
	}
	return settled, nil
}

// processRecord settles one inbox record. It returns true when the record
// reached a terminal outcome; false leaves it for redelivery with a bumped
// attempt count.
func (w *Worker) processRecord(ctx context.Context, record *InboxRecord) bool {
	m := metrics.Worker()
	started := time.Now()
	defer func() { m.ObserveRecordDuration(time.Since(started)) }()

	log := w.log.With(zap.String("record_id", record.ID.String()))

	trigger, err := intake.ParseEnvelope(record.Body)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCorrelation) {
			log.Warn("record has no correlation ids, dropping", zap.Error(err))
			w.markProcessed(ctx, record)
			m.IncRecordOutcome(metrics.RecordOutcomeSkippedNoIDs)
			return true
		}
		log.Warn("record body unparseable, leaving for redelivery", zap.Error(err))
		w.recordFailure(ctx, record, err)
		m.IncRecordOutcome(metrics.RecordOutcomeFailed)
		return false
	}

	if trigger.IsOverdueScan() {
		log.Debug("overdue scan trigger acknowledged")
		w.markProcessed(ctx, record)
		m.IncRecordOutcome(metrics.RecordOutcomeSkippedNoop)
		return true
	}

	trigger.DedupeScope = record.ID.String()

	if _, err := w.service.Recompute(ctx, trigger); err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			log.Warn("invoice does not exist, dropping",
				zap.String("invoice_id", trigger.InvoiceID.String()),
			)
			w.markProcessed(ctx, record)
			m.IncRecordOutcome(metrics.RecordOutcomeSkippedNotFound)
			return true
		}
		log.Warn("recompute failed, leaving for redelivery",
			zap.Error(err),
			zap.String("invoice_id", trigger.InvoiceID.String()),
		)
		w.recordFailure(ctx, record, err)
		m.IncRecordOutcome(metrics.RecordOutcomeFailed)
		return false
	}

	w.markProcessed(ctx, record)
	m.IncRecordOutcome(metrics.RecordOutcomeProcessed)
	return true
}

func (w *Worker) markProcessed(ctx context.Context, record *InboxRecord) {
	now := w.clock.Now()
	if err := w.inboxRepo.Update(ctx, record.ID.String(), map[string]any{
		"processed":    true,
		"processed_at": now,
	}); err != nil {
		w.log.Warn("failed to mark record processed",
			zap.Error(err),
			zap.String("record_id", record.ID.String()),
		)
	}
}

// recordFailure bumps the attempt count and stashes the error so the record
// is retried on a later run. Uses a background-derived context: the record
// context may already be past its deadline.
func (w *Worker) recordFailure(ctx context.Context, record *InboxRecord, cause error) {
	updateCtx := ctx
	if ctx.Err() != nil {
		updateCtx = context.Background()
	}

	message := cause.Error()
	if err := w.inboxRepo.Update(updateCtx, record.ID.String(), map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": message,
	}); err != nil {
		w.log.Warn("failed to record attempt",
			zap.Error(err),
			zap.String("record_id", record.ID.String()),
		)
	}
}
