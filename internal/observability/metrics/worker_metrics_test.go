package metrics

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func gatherCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, metric := range family.GetMetric() {
			got := map[string]string{}
			for _, pair := range metric.GetLabel() {
				got[pair.GetName()] = pair.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func histogramCount(t *testing.T, registry *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name && family.GetType() == dto.MetricType_HISTOGRAM {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestWorkerMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkerMetrics(registry, Config{ServiceName: "invoicing-test", Environment: "test"})

	m.IncRun()
	m.IncRun()
	m.IncRecordOutcome(RecordOutcomeProcessed)
	m.IncRecordOutcome(RecordOutcomeFailed)
	m.IncRecordOutcome(RecordOutcomeFailed)
	m.IncEventEmitted("invoicing.processed")
	m.AddLinesMaterialized(3)
	m.AddLinesMaterialized(0)
	m.IncPlanCreated()
	m.IncInstallmentTransition("PAID")
	m.ObserveRunDuration(0)
	m.ObserveRecordDuration(0)

	assert.Equal(t, float64(2), gatherCounter(t, registry, "invoicing_worker_runs_total", nil))
	assert.Equal(t, float64(1), gatherCounter(t, registry, "invoicing_records_total", map[string]string{"outcome": RecordOutcomeProcessed}))
	assert.Equal(t, float64(2), gatherCounter(t, registry, "invoicing_records_total", map[string]string{"outcome": RecordOutcomeFailed}))
	assert.Equal(t, float64(1), gatherCounter(t, registry, "invoicing_events_emitted_total", map[string]string{"event_type": "invoicing.processed"}))
	assert.Equal(t, float64(3), gatherCounter(t, registry, "invoicing_lines_materialized_total", nil))
	assert.Equal(t, float64(1), gatherCounter(t, registry, "invoicing_installment_plans_created_total", nil))
	assert.Equal(t, float64(1), gatherCounter(t, registry, "invoicing_installment_status_transitions_total", map[string]string{"to": "PAID"}))
	assert.Equal(t, uint64(1), histogramCount(t, registry, "invoicing_worker_run_duration_seconds"))
	assert.Equal(t, uint64(1), histogramCount(t, registry, "invoicing_record_duration_seconds"))
}

func TestWorkerMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *WorkerMetrics
	m.IncRun()
	m.IncRecordOutcome(RecordOutcomeProcessed)
	m.IncEventEmitted("invoicing.processed")
	m.AddLinesMaterialized(1)
	m.IncPlanCreated()
	m.IncInstallmentTransition("DUE")
	m.IncRunError(context.DeadlineExceeded)
}

func TestClassifyErrorReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ErrorReasonUnknown},
		{"deadline", context.DeadlineExceeded, ErrorReasonDeadlineExceeded},
		{"cancelled", context.Canceled, ErrorReasonDeadlineExceeded},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrorReasonUniqueViolation},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, ErrorReasonDB},
		{"wrapped pg error", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ErrorReasonUniqueViolation},
		{"gorm db error", gorm.ErrInvalidDB, ErrorReasonDB},
		{"anything else", fmt.Errorf("boom"), ErrorReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyErrorReason(tt.err))
		})
	}
}
