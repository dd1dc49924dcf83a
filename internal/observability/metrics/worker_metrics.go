package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the constant labels stamped on worker metrics and the OTLP
// exporter settings.
type Config struct {
	ServiceName string
	Environment string

	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
}

const (
	RecordOutcomeProcessed       = "processed"
	RecordOutcomeSkippedNoIDs    = "skipped_missing_correlation"
	RecordOutcomeSkippedNotFound = "skipped_invoice_not_found"
	RecordOutcomeSkippedNoop     = "skipped_noop"
	RecordOutcomeFailed          = "failed"
)

const (
	ErrorReasonDeadlineExceeded = "deadline_exceeded"
	ErrorReasonUniqueViolation  = "unique_violation"
	ErrorReasonParse            = "parse"
	ErrorReasonDB               = "db"
	ErrorReasonUnknown          = "unknown"
)

// WorkerMetrics captures invoicing worker health signals.
type WorkerMetrics struct {
	runs               prometheus.Counter
	runDuration        prometheus.Histogram
	runErrors          *prometheus.CounterVec
	recordDuration     prometheus.Histogram
	recordOutcomes     *prometheus.CounterVec
	eventsEmitted      *prometheus.CounterVec
	linesMaterialized  prometheus.Counter
	plansCreated       prometheus.Counter
	installmentsStatus *prometheus.CounterVec
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

func newWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "classpoint_invoicing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invoicing_worker_runs_total",
		Help:        "Worker batch runs.",
		ConstLabels: constLabels,
	})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invoicing_worker_run_duration_seconds",
		Help:        "Worker batch run latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	})
	runErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_worker_run_errors_total",
		Help:        "Worker run errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	recordDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invoicing_record_duration_seconds",
		Help:        "Per-record recomputation latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	recordOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_records_total",
		Help:        "Queue records by processing outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	eventsEmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_events_emitted_total",
		Help:        "Outbox events emitted by type.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	linesMaterialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invoicing_lines_materialized_total",
		Help:        "Invoice lines synthesized from fee schedules.",
		ConstLabels: constLabels,
	})
	plansCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invoicing_installment_plans_created_total",
		Help:        "Installment plans created.",
		ConstLabels: constLabels,
	})
	installmentsStatus := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicing_installment_status_transitions_total",
		Help:        "Installment status transitions by target status.",
		ConstLabels: constLabels,
	}, []string{"to"})

	registerer.MustRegister(
		runs,
		runDuration,
		runErrors,
		recordDuration,
		recordOutcomes,
		eventsEmitted,
		linesMaterialized,
		plansCreated,
		installmentsStatus,
	)

	return &WorkerMetrics{
		runs:               runs,
		runDuration:        runDuration,
		runErrors:          runErrors,
		recordDuration:     recordDuration,
		recordOutcomes:     recordOutcomes,
		eventsEmitted:      eventsEmitted,
		linesMaterialized:  linesMaterialized,
		plansCreated:       plansCreated,
		installmentsStatus: installmentsStatus,
	}
}

// IncRun increments the worker run counter.
func (m *WorkerMetrics) IncRun() {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Inc()
}

// ObserveRunDuration records batch run latency in seconds.
func (m *WorkerMetrics) ObserveRunDuration(duration time.Duration) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.Observe(duration.Seconds())
}

// IncRunError increments the run error counter with classification.
func (m *WorkerMetrics) IncRunError(err error) {
	if m == nil || m.runErrors == nil || err == nil {
		return
	}
	m.runErrors.WithLabelValues(ClassifyErrorReason(err)).Inc()
}

// ObserveRecordDuration records per-record latency in seconds.
func (m *WorkerMetrics) ObserveRecordDuration(duration time.Duration) {
	if m == nil || m.recordDuration == nil {
		return
	}
	m.recordDuration.Observe(duration.Seconds())
}

// IncRecordOutcome increments the record counter for an outcome.
func (m *WorkerMetrics) IncRecordOutcome(outcome string) {
	if m == nil || m.recordOutcomes == nil {
		return
	}
	m.recordOutcomes.WithLabelValues(outcome).Inc()
}

// IncEventEmitted increments the emitted event counter for a type.
func (m *WorkerMetrics) IncEventEmitted(eventType string) {
	if m == nil || m.eventsEmitted == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// AddLinesMaterialized adds to the materialized line counter.
func (m *WorkerMetrics) AddLinesMaterialized(count int) {
	if m == nil || m.linesMaterialized == nil || count <= 0 {
		return
	}
	m.linesMaterialized.Add(float64(count))
}

// IncPlanCreated increments the installment plan counter.
func (m *WorkerMetrics) IncPlanCreated() {
	if m == nil || m.plansCreated == nil {
		return
	}
	m.plansCreated.Inc()
}

// IncInstallmentTransition counts an installment moving to a status.
func (m *WorkerMetrics) IncInstallmentTransition(to string) {
	if m == nil || m.installmentsStatus == nil {
		return
	}
	m.installmentsStatus.WithLabelValues(to).Inc()
}

// ClassifyErrorReason maps worker errors to low-cardinality reasons.
func ClassifyErrorReason(err error) string {
	if err == nil {
		return ErrorReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorReasonDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrorReasonUniqueViolation
		}
		return ErrorReasonDB
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) || errors.Is(err, gorm.ErrInvalidDB) {
		return ErrorReasonDB
	}
	return ErrorReasonUnknown
}
