package service

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavingsService_Summary(t *testing.T) {
	env := newTestEnv(t, withServiceCost("100"))
	ctx := context.Background()

	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q4", dec("300"), dec("15"), entity.FixKindAuto))

	agg, err := env.savings.Summary(ctx, "acme", "2026-Q4")
	require.NoError(t, err)
	assert.Equal(t, "2026-Q4", agg.Period)
	assert.Equal(t, 1, agg.Periods)
	assert.True(t, agg.PenaltyAvoided.Equal(dec("300")))
	assert.True(t, agg.LaborCostAvoided.Equal(dec("15")))
	assert.True(t, agg.TotalSavings.Equal(dec("315")))
	assert.Equal(t, int64(1), agg.AutoFixes)
	assert.True(t, agg.ServiceCost.Equal(dec("100")))
	assert.True(t, agg.ROIPercent.Equal(dec("215")), "got %s", agg.ROIPercent)
}

func TestSavingsService_Summary_EmptyPeriod(t *testing.T) {
	env := newTestEnv(t, withServiceCost("100"))

	agg, err := env.savings.Summary(context.Background(), "acme", "")
	require.NoError(t, err)
	assert.Equal(t, currentQuarter(), agg.Period)
	assert.True(t, agg.TotalSavings.IsZero())
	assert.True(t, agg.ROIPercent.Equal(dec("-100")))
}

func TestSavingsService_CreditDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q3", dec("50"), dec("0"), entity.FixKindManual))
	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q3", dec("25"), dec("15"), entity.FixKindAuto))
	require.NoError(t, env.savings.Debit(ctx, "acme", "2026-Q3", dec("50"), dec("0"), entity.FixKindManual))

	snap := env.store.snapshotFor("acme", "2026-Q3")
	assert.True(t, snap.TotalSavings.Equal(dec("40")))
	assert.Equal(t, int64(1), snap.AutoFixes)
	assert.Equal(t, int64(0), snap.ManualFixes)

	// balances floor at zero
	require.NoError(t, env.savings.Debit(ctx, "acme", "2026-Q3", dec("500"), dec("500"), entity.FixKindAuto))
	snap = env.store.snapshotFor("acme", "2026-Q3")
	assert.True(t, snap.TotalSavings.IsZero())
	assert.Equal(t, int64(0), snap.AutoFixes)
}

func TestSavingsService_Credit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		company  string
		period   string
		penalty  string
		kind     entity.FixKind
		failWith error
		wantKind apperr.Kind
	}{
		{name: "missing company", company: "", period: "2026-Q1", penalty: "1", kind: entity.FixKindAuto, wantKind: apperr.KindValidation},
		{name: "bad period", company: "acme", period: "2026-Q5", penalty: "1", kind: entity.FixKindAuto, wantKind: apperr.KindValidation},
		{name: "negative amount", company: "acme", period: "2026-Q1", penalty: "-1", kind: entity.FixKindAuto, wantKind: apperr.KindValidation},
		{name: "unknown kind", company: "acme", period: "2026-Q1", penalty: "1", kind: "robot", wantKind: apperr.KindValidation},
		{name: "store failure", company: "acme", period: "2026-Q1", penalty: "1", kind: entity.FixKindAuto, failWith: errors.New("locked"), wantKind: apperr.KindPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.failWith != nil {
				env.store.setFail("savings.Apply", tt.failWith)
			}
			err := env.savings.Credit(context.Background(), tt.company, tt.period, dec(tt.penalty), dec("0"), tt.kind)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

func TestSavingsService_AllTime(t *testing.T) {
	env := newTestEnv(t, withServiceCost("100"))
	ctx := context.Background()

	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q1", dec("300"), dec("15"), entity.FixKindAuto))
	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q2", dec("25"), dec("15"), entity.FixKindAuto))
	require.NoError(t, env.savings.Credit(ctx, "acme", "2026-Q2", dec("50"), dec("0"), entity.FixKindManual))
	require.NoError(t, env.savings.Credit(ctx, "other", "2026-Q2", dec("999"), dec("0"), entity.FixKindManual))

	periods, err := env.savings.ListPeriods(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, "2026-Q1", periods[0].Period)
	assert.Equal(t, "2026-Q2", periods[1].Period)

	agg, err := env.savings.AllTime(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Periods)
	assert.True(t, agg.TotalSavings.Equal(periods[0].TotalSavings.Add(periods[1].TotalSavings)))
	assert.True(t, agg.TotalSavings.Equal(dec("405")))
	assert.Equal(t, int64(2), agg.AutoFixes)
	assert.Equal(t, int64(1), agg.ManualFixes)
	assert.True(t, agg.ServiceCost.Equal(dec("200")))
	assert.True(t, agg.ROIPercent.Equal(dec("102.5")), "got %s", agg.ROIPercent)
}

func TestSavingsService_AllTime_NoCost(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.savings.Credit(context.Background(), "acme", "2026-Q1", dec("10"), dec("0"), entity.FixKindManual))

	agg, err := env.savings.AllTime(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, agg.ROIPercent.IsZero())
}
