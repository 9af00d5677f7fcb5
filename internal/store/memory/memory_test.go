package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stockOf(t *testing.T, s *Store, branchID, sku string) decimal.Decimal {
	t.Helper()
	m, err := s.GetStockMap(context.Background(), branchID, []string{sku})
	require.NoError(t, err)
	return m[sku]
}

func vendorPO(t *testing.T, s *Store) *domain.PurchaseOrder {
	t.Helper()
	po, err := s.CreatePurchaseOrder(context.Background(), domain.PurchaseOrder{
		BranchID:   SeedBranchPusat,
		SupplierID: "sup-tani-makmur",
		Source:     domain.POSourceVendor,
		Status:     domain.POStatusOrdered,
		Items: []domain.PurchaseOrderItem{
			{SKU: "SKU-TOMAT-01", UnitCostCents: 10000, Ordered: qty("20")},
			{SKU: "SKU-BAYAM-01", UnitCostCents: 3000, Ordered: qty("40")},
		},
	})
	require.NoError(t, err)
	return po
}

func TestRecordPurchaseEntryAccumulatesAcrossDeliveries(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po := vendorPO(t, s)
	before := stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01")

	entry, updated, dup, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-001"}, []domain.PurchaseEntryLineRequest{
		{SKU: "SKU-TOMAT-01", Received: qty("12"), Spoiled: qty("1.5"), Damaged: qty("0.5")},
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, domain.POStatusPartial, updated.Status)
	assert.Equal(t, SeedBranchPusat, entry.BranchID)
	assert.True(t, stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01").Equal(before.Add(qty("10"))))

	_, updated, _, err = s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-002"}, []domain.PurchaseEntryLineRequest{
		{SKU: "SKU-TOMAT-01", Received: qty("8")},
		{SKU: "SKU-BAYAM-01", Received: qty("40"), Spoiled: qty("4")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusReceived, updated.Status)
	assert.Equal(t, "18", updated.Items[0].Usable.String())
	assert.Equal(t, "36", updated.Items[1].Usable.String())

	losses, err := s.ListLossEntries(ctx, SeedBranchPusat, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, losses, 3)
	total := int64(0)
	for _, l := range losses {
		total += l.ValueCents
	}
	assert.Equal(t, int64(15000+5000+12000), total)

	entries, err := s.ListPurchaseEntries(ctx, po.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	movements, err := s.ListStockMovements(ctx, SeedBranchPusat, "SKU-BAYAM-01", 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementPurchaseReceipt, movements[0].Kind)
	assert.Equal(t, "156", movements[0].BalanceAfter.String())
}

func TestRecordPurchaseEntryReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po := vendorPO(t, s)
	lines := []domain.PurchaseEntryLineRequest{{SKU: "SKU-TOMAT-01", Received: qty("5")}}

	first, _, _, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-9"}, lines)
	require.NoError(t, err)
	after := stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01")

	replay, current, dup, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: " SJ-9 "}, lines)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, "5", current.Items[0].Received.String())
	assert.True(t, stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01").Equal(after))
}

func TestRecordPurchaseEntryRejectsOverReceiptAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po := vendorPO(t, s)
	before := stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01")

	_, _, _, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-1"}, []domain.PurchaseEntryLineRequest{
		{SKU: "SKU-TOMAT-01", Received: qty("3")},
		{SKU: "SKU-BAYAM-01", Received: qty("41")},
	})
	require.ErrorIs(t, err, store.ErrOverReceipt)

	assert.True(t, stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01").Equal(before))
	stored, err := s.GetPurchaseOrderByID(ctx, po.ID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].Received.IsZero())
	assert.Equal(t, domain.POStatusOrdered, stored.Status)
}

func TestRoutePurchaseOrderFillsCosts(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		BranchID: SeedBranchSelatan,
		Source:   domain.POSourceBranchRequest,
		Status:   domain.POStatusRequested,
		Items:    []domain.PurchaseOrderItem{{SKU: "SKU-GULA-01", Ordered: qty("25")}},
	})
	require.NoError(t, err)

	_, _, _, err = s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "early"}, []domain.PurchaseEntryLineRequest{
		{SKU: "SKU-GULA-01", Received: qty("1")},
	})
	require.ErrorIs(t, err, store.ErrConflict)

	routed, err := s.RoutePurchaseOrder(ctx, po.ID, "sup-tani-makmur", nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusOrdered, routed.Status)
	assert.Equal(t, int64(15312), routed.Items[0].UnitCostCents)

	_, err = s.RoutePurchaseOrder(ctx, po.ID, "sup-tani-makmur", nil, time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestTransitionPurchaseOrder(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	po := vendorPO(t, s)

	_, err := s.TransitionPurchaseOrder(ctx, po.ID, []string{domain.POStatusPartial}, domain.POStatusClosed, time.Now())
	require.ErrorIs(t, err, store.ErrConflict)

	cancelled, err := s.TransitionPurchaseOrder(ctx, po.ID, []string{domain.POStatusRequested, domain.POStatusOrdered}, domain.POStatusCancelled, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusCancelled, cancelled.Status)
}

func TestTransferLifecycleWithDiscrepancies(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	now := time.Now().UTC()

	tr, err := s.CreateTransfer(ctx, domain.StockTransfer{
		FromBranchID: SeedBranchPusat,
		ToBranchID:   SeedBranchSelatan,
		RequestedBy:  "manager-selatan",
		Items: []domain.StockTransferItem{
			{SKU: "SKU-AYAM-01", Requested: qty("10")},
			{SKU: "SKU-SUSU-01", Requested: qty("12")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRequested, tr.Status)

	tr, err = s.DispatchTransfer(ctx, tr.ID, nil, "manager", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusInTransit, tr.Status)
	assert.Equal(t, "110", stockOf(t, s, SeedBranchPusat, "SKU-AYAM-01").String())
	assert.Positive(t, tr.Items[0].UnitCostCents)

	tr, err = s.ReceiveTransfer(ctx, tr.ID, []domain.TransferReceiveLine{
		{SKU: "SKU-AYAM-01", Qty: qty("9")},
		{SKU: "SKU-SUSU-01", Qty: qty("13")},
	}, qty("0.1"), "manager-selatan", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusDiscrepancy, tr.Status)
	require.Len(t, tr.Discrepancies, 2)
	assert.Equal(t, "49", stockOf(t, s, SeedBranchSelatan, "SKU-AYAM-01").String())
	assert.Equal(t, "53", stockOf(t, s, SeedBranchSelatan, "SKU-SUSU-01").String())

	tr, err = s.ResolveDiscrepancy(ctx, tr.ID, tr.Discrepancies[0].ID, domain.ResolutionScrap, "lost", "admin", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusDiscrepancy, tr.Status)

	_, err = s.ResolveDiscrepancy(ctx, tr.ID, tr.Discrepancies[0].ID, domain.ResolutionScrap, "again", "admin", now)
	require.ErrorIs(t, err, store.ErrConflict)

	tr, err = s.ResolveDiscrepancy(ctx, tr.ID, tr.Discrepancies[1].ID, domain.ResolutionAdjustment, "", "admin", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)
	assert.Equal(t, "107", stockOf(t, s, SeedBranchPusat, "SKU-SUSU-01").String())

	losses, err := s.ListLossEntries(ctx, SeedBranchPusat, time.Time{}, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, losses, 1)
	assert.Equal(t, domain.LossReasonTransitLoss, losses[0].Reason)
}

func TestDispatchFailsOnInsufficientStockWithoutPartialWrites(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	tr, err := s.CreateTransfer(ctx, domain.StockTransfer{
		FromBranchID: SeedBranchSelatan,
		ToBranchID:   SeedBranchPusat,
		Items: []domain.StockTransferItem{
			{SKU: "SKU-BERAS-01", Requested: qty("5")},
			{SKU: "SKU-GULA-01", Requested: qty("40.5")},
		},
	})
	require.NoError(t, err)

	_, err = s.DispatchTransfer(ctx, tr.ID, nil, "manager-selatan", time.Now())
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, "40", stockOf(t, s, SeedBranchSelatan, "SKU-BERAS-01").String())

	stored, err := s.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusRequested, stored.Status)
}

func TestCreateTransferValidation(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.CreateTransfer(ctx, domain.StockTransfer{FromBranchID: SeedBranchPusat, ToBranchID: SeedBranchPusat, Items: []domain.StockTransferItem{{SKU: "SKU-AIR-01", Requested: qty("1")}}})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.CreateTransfer(ctx, domain.StockTransfer{FromBranchID: SeedBranchPusat, ToBranchID: "br-nowhere", Items: []domain.StockTransferItem{{SKU: "SKU-AIR-01", Requested: qty("1")}}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateTransfer(ctx, domain.StockTransfer{FromBranchID: SeedBranchPusat, ToBranchID: SeedBranchSelatan})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCheckoutDecrementsDecimalStock(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	tx, err := s.CreateCheckout(ctx, domain.Transaction{
		BranchID:          SeedBranchPusat,
		TerminalID:        "POS-01",
		IdempotencyKey:    "idem-1",
		PaymentMethod:     "cash",
		CashReceivedCents: 100000,
		Items: []domain.TransactionLine{
			{SKU: "SKU-TOMAT-01", Qty: qty("1.25")},
			{SKU: "SKU-AIR-01", Qty: qty("2")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20000+7800), tx.SubtotalCents)
	assert.Equal(t, int64(100000-27800), tx.ChangeCents)
	assert.Equal(t, "118.75", stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01").String())

	replay, err := s.CreateCheckout(ctx, domain.Transaction{IdempotencyKey: "idem-1"})
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replay.ID)

	voided, err := s.VoidTransaction(ctx, tx.ID, "wrong item", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusVoided, voided.Status)
	assert.Equal(t, "120", stockOf(t, s, SeedBranchPusat, "SKU-TOMAT-01").String())

	_, err = s.VoidTransaction(ctx, tx.ID, "again", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	s := NewSeeded()
	_, err := s.CreateCheckout(context.Background(), domain.Transaction{
		BranchID:          SeedBranchSelatan,
		TerminalID:        "POS-02",
		IdempotencyKey:    "idem-2",
		PaymentMethod:     "cash",
		CashReceivedCents: 10_000_000,
		Items: []domain.TransactionLine{
			{SKU: "SKU-AIR-01", Qty: qty("1")},
			{SKU: "SKU-ROTI-01", Qty: qty("40.001")},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, "40", stockOf(t, s, SeedBranchSelatan, "SKU-AIR-01").String())
}

func TestApplyStockCountWritesOpnameMovements(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	adjustments, err := s.ApplyStockCount(ctx, SeedBranchPusat, "opn-1", []domain.StockOpnameItem{
		{SKU: "SKU-BERAS-01", CountedQty: qty("117.5")},
		{SKU: "SKU-GULA-01", CountedQty: qty("120")},
	})
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	assert.Equal(t, "-2.5", adjustments[0].DeltaQty.String())
	assert.True(t, adjustments[1].DeltaQty.IsZero())

	movements, err := s.ListStockMovements(ctx, SeedBranchPusat, "", 0)
	require.NoError(t, err)
	opname := 0
	for _, m := range movements {
		if m.Kind == domain.MovementOpname {
			opname++
		}
	}
	assert.Equal(t, 1, opname)
}

func TestNotificationsScopedByBranchAndRole(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	require.NoError(t, s.CreateNotification(ctx, domain.Notification{Role: domain.RoleAdmin, Kind: domain.NotifyPORequested, Title: "PO requested"}))
	require.NoError(t, s.CreateNotification(ctx, domain.Notification{BranchID: SeedBranchSelatan, Kind: domain.NotifyTransferDispatched, Title: "Transfer dispatched"}))

	adminInbox, err := s.ListNotifications(ctx, "", domain.RoleAdmin, false, 10)
	require.NoError(t, err)
	assert.Len(t, adminInbox, 2)

	selatan, err := s.ListNotifications(ctx, SeedBranchSelatan, domain.RoleManager, true, 10)
	require.NoError(t, err)
	require.Len(t, selatan, 1)

	require.NoError(t, s.MarkNotificationRead(ctx, selatan[0].ID, time.Now()))
	selatan, err = s.ListNotifications(ctx, SeedBranchSelatan, domain.RoleManager, true, 10)
	require.NoError(t, err)
	assert.Empty(t, selatan)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "ntf-missing", time.Now()), store.ErrNotFound)
}
