package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

func requestedTransfer() domain.StockTransfer {
	return domain.StockTransfer{
		ID:           "trf-1",
		FromBranchID: "br-pusat",
		ToBranchID:   "br-selatan",
		Status:       domain.TransferStatusRequested,
		Items: []domain.StockTransferItem{
			{SKU: "SKU-AYAM-01", Requested: qty("10")},
			{SKU: "SKU-SUSU-01", Requested: qty("24")},
		},
	}
}

func inTransit(t *testing.T) domain.StockTransfer {
	t.Helper()
	tr := requestedTransfer()
	items, err := PlanDispatch(tr, []domain.TransferDispatchLine{
		{SKU: "SKU-AYAM-01", Qty: qty("10"), WeightKg: qty("10.2")},
	})
	require.NoError(t, err)
	for i := range items {
		items[i].UnitCostCents = 32000
	}
	tr.Items = items
	tr.Status = domain.TransferStatusInTransit
	return tr
}

func TestPlanDispatchDefaultsToRequested(t *testing.T) {
	items, err := PlanDispatch(requestedTransfer(), []domain.TransferDispatchLine{
		{SKU: "sku-ayam-01", Qty: qty("7.5")},
	})
	require.NoError(t, err)
	assert.Equal(t, "7.5", items[0].Dispatched.String())
	assert.Equal(t, "24", items[1].Dispatched.String())
}

func TestPlanDispatchRejections(t *testing.T) {
	cases := map[string]struct {
		status string
		lines  []domain.TransferDispatchLine
		want   error
	}{
		"not requested": {status: domain.TransferStatusInTransit, want: store.ErrConflict},
		"above requested": {
			lines: []domain.TransferDispatchLine{{SKU: "SKU-AYAM-01", Qty: qty("10.001")}},
			want:  store.ErrInvalidTransaction,
		},
		"unknown sku": {
			lines: []domain.TransferDispatchLine{{SKU: "SKU-GULA-01", Qty: qty("1")}},
			want:  store.ErrInvalidTransaction,
		},
		"nothing shipped": {
			lines: []domain.TransferDispatchLine{
				{SKU: "SKU-AYAM-01", Qty: decimal.Zero},
				{SKU: "SKU-SUSU-01", Qty: decimal.Zero},
			},
			want: store.ErrInvalidTransaction,
		},
		"duplicate sku": {
			lines: []domain.TransferDispatchLine{
				{SKU: "SKU-AYAM-01", Qty: qty("1")},
				{SKU: "SKU-AYAM-01", Qty: qty("1")},
			},
			want: store.ErrInvalidTransaction,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tr := requestedTransfer()
			if tc.status != "" {
				tr.Status = tc.status
			}
			_, err := PlanDispatch(tr, tc.lines)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPlanReceiptOpensShortageAndOverage(t *testing.T) {
	tr := inTransit(t)
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	items, discrepancies, err := PlanReceipt(tr, []domain.TransferReceiveLine{
		{SKU: "SKU-AYAM-01", Qty: qty("9.5"), WeightKg: qty("9.7")},
		{SKU: "SKU-SUSU-01", Qty: qty("25")},
	}, qty("0.1"), at)
	require.NoError(t, err)
	assert.Equal(t, "9.5", items[0].Received.String())
	require.Len(t, discrepancies, 2)

	short := discrepancies[0]
	assert.Equal(t, domain.DiscrepancyShortage, short.Kind)
	assert.Equal(t, "0.5", short.DeltaQty.String())
	assert.Equal(t, int64(16000), short.ValueCents)
	assert.Equal(t, domain.DiscrepancyOpen, short.Status)

	over := discrepancies[1]
	assert.Equal(t, domain.DiscrepancyOverage, over.Kind)
	assert.Equal(t, "1", over.DeltaQty.String())
	assert.Equal(t, domain.TransferStatusDiscrepancy, TransferStatusAfter(discrepancies))
}

func TestPlanReceiptWeightTolerance(t *testing.T) {
	tr := inTransit(t)
	lines := func(weight string) []domain.TransferReceiveLine {
		return []domain.TransferReceiveLine{
			{SKU: "SKU-AYAM-01", Qty: qty("10"), WeightKg: qty(weight)},
			{SKU: "SKU-SUSU-01", Qty: qty("24")},
		}
	}

	_, discrepancies, err := PlanReceipt(tr, lines("10.1"), qty("0.1"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
	assert.Equal(t, domain.TransferStatusCompleted, TransferStatusAfter(discrepancies))

	_, discrepancies, err = PlanReceipt(tr, lines("9.9"), qty("0.1"), time.Now())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, domain.DiscrepancyWeight, discrepancies[0].Kind)
	assert.True(t, discrepancies[0].DeltaQty.IsZero())
}

func TestPlanReceiptRequiresEveryDispatchedItem(t *testing.T) {
	_, _, err := PlanReceipt(inTransit(t), []domain.TransferReceiveLine{
		{SKU: "SKU-AYAM-01", Qty: qty("10")},
	}, qty("0.1"), time.Now())
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, _, err = PlanReceipt(requestedTransfer(), nil, qty("0.1"), time.Now())
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestPlanResolution(t *testing.T) {
	tr := inTransit(t)
	at := time.Now().UTC()
	shortage := domain.TransferDiscrepancy{ID: "d-1", SKU: "SKU-AYAM-01", Kind: domain.DiscrepancyShortage, DeltaQty: qty("0.5"), UnitCostCents: 32000, Status: domain.DiscrepancyOpen}
	overage := domain.TransferDiscrepancy{ID: "d-2", SKU: "SKU-SUSU-01", Kind: domain.DiscrepancyOverage, DeltaQty: qty("1"), UnitCostCents: 13600, Status: domain.DiscrepancyOpen}
	weight := domain.TransferDiscrepancy{ID: "d-3", SKU: "SKU-AYAM-01", Kind: domain.DiscrepancyWeight, Status: domain.DiscrepancyOpen}

	t.Run("shortage adjustment restocks source", func(t *testing.T) {
		plan, err := PlanResolution(tr, shortage, domain.ResolutionAdjustment, at)
		require.NoError(t, err)
		assert.Equal(t, "br-pusat", plan.BranchID)
		require.NotNil(t, plan.Adjustment)
		assert.Equal(t, "0.5", plan.Adjustment.Qty.String())
		assert.Equal(t, domain.MovementTransferAdjustment, plan.MovementKind)
		assert.Nil(t, plan.Loss)
	})
	t.Run("shortage scrap books transit loss", func(t *testing.T) {
		plan, err := PlanResolution(tr, shortage, domain.ResolutionScrap, at)
		require.NoError(t, err)
		assert.Nil(t, plan.Adjustment)
		require.NotNil(t, plan.Loss)
		assert.Equal(t, domain.LossReasonTransitLoss, plan.Loss.Reason)
		assert.Equal(t, "br-pusat", plan.Loss.BranchID)
		assert.Equal(t, int64(16000), plan.Loss.ValueCents)
		assert.Equal(t, SourceTransferDiscrepancy, plan.Loss.SourceType)
		assert.Equal(t, "d-1", plan.Loss.SourceID)
	})
	t.Run("overage adjustment deducts source", func(t *testing.T) {
		plan, err := PlanResolution(tr, overage, domain.ResolutionAdjustment, at)
		require.NoError(t, err)
		assert.Equal(t, "br-pusat", plan.BranchID)
		assert.Equal(t, "-1", plan.Adjustment.Qty.String())
		assert.Nil(t, plan.Loss)
	})
	t.Run("overage scrap disposes at destination", func(t *testing.T) {
		plan, err := PlanResolution(tr, overage, domain.ResolutionScrap, at)
		require.NoError(t, err)
		assert.Equal(t, "br-selatan", plan.BranchID)
		assert.Equal(t, domain.MovementTransferScrap, plan.MovementKind)
		assert.Equal(t, "-1", plan.Adjustment.Qty.String())
		require.NotNil(t, plan.Loss)
		assert.Equal(t, domain.LossReasonScrap, plan.Loss.Reason)
		assert.Equal(t, int64(13600), plan.Loss.ValueCents)
		assert.Equal(t, "d-2", plan.Loss.SourceID)
	})
	t.Run("same sku twice keeps losses apart", func(t *testing.T) {
		again := shortage
		again.ID = "d-4"
		first, err := PlanResolution(tr, shortage, domain.ResolutionScrap, at)
		require.NoError(t, err)
		second, err := PlanResolution(tr, again, domain.ResolutionScrap, at)
		require.NoError(t, err)
		assert.Equal(t, first.Loss.SKU, second.Loss.SKU)
		assert.NotEqual(t, first.Loss.SourceID, second.Loss.SourceID)
	})
	t.Run("weight has no ledger effect", func(t *testing.T) {
		plan, err := PlanResolution(tr, weight, domain.ResolutionScrap, at)
		require.NoError(t, err)
		assert.Nil(t, plan.Adjustment)
		assert.Nil(t, plan.Loss)
	})
	t.Run("resolved twice", func(t *testing.T) {
		done := shortage
		done.Status = domain.DiscrepancyResolved
		_, err := PlanResolution(tr, done, domain.ResolutionScrap, at)
		assert.ErrorIs(t, err, store.ErrConflict)
	})
	t.Run("unknown resolution", func(t *testing.T) {
		_, err := PlanResolution(tr, shortage, "refund", at)
		assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	})
}
