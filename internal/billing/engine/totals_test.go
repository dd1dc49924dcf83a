package engine

import (
	"testing"
	"time"

	"github.com/classpoint/invoicing/internal/billing/domain"
	"github.com/stretchr/testify/assert"
)

func TestSubtotalsFromLines_OptionalCountsOnlyWhenSelected(t *testing.T) {
	lines := []*domain.InvoiceLine{
		{Amount: 10000, IsOptional: false, IsSelected: true},
		{Amount: 2000, IsOptional: true, IsSelected: false},
		{Amount: 1500, IsOptional: true, IsSelected: true},
	}

	required, optional := SubtotalsFromLines(lines)
	assert.Equal(t, int64(10000), required)
	assert.Equal(t, int64(1500), optional)
}

func TestResolveAdjustments_LargestDiscountWins(t *testing.T) {
	adjustments := []*domain.Adjustment{
		{Kind: domain.AdjustmentKindDiscount, Amount: 1000},
		{Kind: domain.AdjustmentKindWaiver, Amount: 1500},
		{Kind: domain.AdjustmentKindDiscount, Amount: 500},
		{Kind: domain.AdjustmentKindPenalty, Amount: 200},
		{Kind: domain.AdjustmentKindPenalty, Amount: 300},
	}

	discount, penalty := ResolveAdjustments(adjustments, 10000)
	assert.Equal(t, int64(1500), discount, "discounts and waivers must not stack")
	assert.Equal(t, int64(500), penalty, "penalties must sum")
}

func TestResolveAdjustments_DiscountCappedAtRequiredSubtotal(t *testing.T) {
	adjustments := []*domain.Adjustment{
		{Kind: domain.AdjustmentKindWaiver, Amount: 99999},
	}

	discount, _ := ResolveAdjustments(adjustments, 4000)
	assert.Equal(t, int64(4000), discount)
}

func TestComputeTotals_ClampsDueAtZero(t *testing.T) {
	totals := ComputeTotals(1000, 0, 0, 0, 5000, 30)
	assert.Equal(t, int64(0), totals.AmountDue)
	assert.Equal(t, domain.InvoiceStatusPaid, totals.Status)
}

func TestComputeTotals_MinFirstPayment(t *testing.T) {
	totals := ComputeTotals(10000, 0, 0, 0, 2999, 30)
	assert.Equal(t, int64(3000), totals.MinFirstAmount)
	assert.True(t, totals.BelowMinFirst)

	totals = ComputeTotals(10000, 0, 0, 0, 3000, 30)
	assert.False(t, totals.BelowMinFirst)
}

func TestComputeTotals_ZeroPercentMeansNoMinimum(t *testing.T) {
	totals := ComputeTotals(10000, 0, 0, 0, 0, 0)
	assert.Equal(t, int64(0), totals.MinFirstAmount)
	assert.False(t, totals.BelowMinFirst)
}

func TestResolveMinFirstPercent(t *testing.T) {
	zero := int64(0)
	fifty := int64(50)

	assert.Equal(t, int64(25), ResolveMinFirstPercent(nil, 25))
	assert.Equal(t, int64(30), ResolveMinFirstPercent(nil, 0), "unset policy falls back to the default")
	assert.Equal(t, int64(50), ResolveMinFirstPercent(&fifty, 25))
	assert.Equal(t, int64(0), ResolveMinFirstPercent(&zero, 25), "an explicit zero override must hold")
}

func TestSumPayments_IgnoresStatus(t *testing.T) {
	payments := []*domain.Payment{
		{Amount: 2000, Status: "SETTLED"},
		{Amount: 1000, Status: "PENDING"},
	}
	assert.Equal(t, int64(3000), SumPayments(payments))
}

func TestSplitAmounts_LastSlotAbsorbsRemainder(t *testing.T) {
	amounts := SplitAmounts([]float64{0.6, 0.4}, 101)
	assert.Equal(t, []int64{61, 40}, amounts)

	amounts = SplitAmounts([]float64{0.4, 0.3, 0.3}, 9000)
	assert.Equal(t, []int64{3600, 2700, 2700}, amounts)

	var total int64
	for _, a := range SplitAmounts([]float64{0.4, 0.3, 0.3}, 9999) {
		total += a
	}
	assert.Equal(t, int64(9999), total)
}

func TestSplitAmounts_EmptyOrNonPositive(t *testing.T) {
	assert.Nil(t, SplitAmounts(nil, 100))
	assert.Nil(t, SplitAmounts([]float64{0.6, 0.4}, 0))
}

func TestAllocateStatuses_GreedyFIFO(t *testing.T) {
	now := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	installments := []*domain.Installment{
		{SequenceNo: 1, Amount: 3600, DueAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{SequenceNo: 2, Amount: 2700, DueAt: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{SequenceNo: 3, Amount: 2700, DueAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
	}

	statuses := AllocateStatuses(installments, 4600, now)
	assert.Equal(t, []domain.InstallmentStatus{
		domain.InstallmentStatusPaid,
		domain.InstallmentStatusOverdue,
		domain.InstallmentStatusDue,
	}, statuses)
}

func TestAllocateStatuses_PartialNeverMarksPaid(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	installments := []*domain.Installment{
		{SequenceNo: 1, Amount: 6000, DueAt: now.AddDate(0, 0, 10)},
		{SequenceNo: 2, Amount: 4000, DueAt: now.AddDate(0, 0, 40)},
	}

	statuses := AllocateStatuses(installments, 5999, now)
	assert.Equal(t, []domain.InstallmentStatus{
		domain.InstallmentStatusDue,
		domain.InstallmentStatusDue,
	}, statuses)
}
