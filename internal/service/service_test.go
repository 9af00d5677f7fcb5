package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/notify"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/store/memory"
)

var (
	adminActor   = domain.Actor{Username: "admin", Role: domain.RoleAdmin}
	managerPusat = domain.Actor{Username: "manager", Role: domain.RoleManager, BranchID: memory.SeedBranchPusat}
	managerSel   = domain.Actor{Username: "manager-selatan", Role: domain.RoleManager, BranchID: memory.SeedBranchSelatan}
	cashierPusat = domain.Actor{Username: "cashier", Role: domain.RoleCashier, BranchID: memory.SeedBranchPusat}
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Enqueue(notifications ...domain.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notifications...)
	return true
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingNotifier) {
	t.Helper()
	repo := memory.NewSeeded()
	notifier := &recordingNotifier{}
	svc := New(repo, Options{
		DefaultBranchID:   memory.SeedBranchPusat,
		WeightTolerance:   decimal.RequireFromString("0.05"),
		LowStockThreshold: decimal.NewFromInt(50),
		Notifier:          notifier,
		Logger:            zerolog.Nop(),
	})
	return svc, repo, notifier
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stockOf(t *testing.T, repo *memory.Store, branchID string, sku string) decimal.Decimal {
	t.Helper()
	stock, err := repo.GetStockMap(context.Background(), branchID, []string{sku})
	require.NoError(t, err)
	return stock[sku]
}

func TestCheckoutRequiresActiveShift(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Checkout(as(cashierPusat), domain.CheckoutRequest{
		TerminalID:        "T-01",
		IdempotencyKey:    "idem-no-shift",
		CashReceivedCents: 100000,
		CartItems:         []domain.CartItem{{SKU: "SKU-AIR-01", Qty: qty("2")}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected checkout to fail with conflict when no shift is open, got %v", err)
	}
}

func TestCheckoutWeighedGoodsAndReplay(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := as(cashierPusat)

	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalID: "T-01", OpeningFloatCents: 200000})
	require.NoError(t, err)

	req := domain.CheckoutRequest{
		TerminalID:        "T-01",
		IdempotencyKey:    "idem-tomat",
		CashReceivedCents: 50000,
		TaxRatePercent:    11,
		CartItems: []domain.CartItem{
			{SKU: "sku-tomat-01", Qty: qty("1.25")},
			{SKU: "SKU-TOMAT-01", Qty: qty("0.25")},
		},
	}
	first, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(24000), first.SubtotalCents)
	assert.Equal(t, int64(2640), first.TaxCents)
	assert.Equal(t, int64(26640), first.TotalCents)
	assert.Equal(t, int64(23360), first.ChangeCents)
	assert.True(t, first.ItemQty.Equal(qty("1.5")))
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-TOMAT-01").Equal(qty("118.5")))

	replay, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.TransactionID, replay.TransactionID)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-TOMAT-01").Equal(qty("118.5")))

	lookup, err := svc.LookupCheckoutByIdempotency(ctx, "idem-tomat")
	require.NoError(t, err)
	require.True(t, lookup.Found)
	assert.Equal(t, first.TransactionID, lookup.Checkout.TransactionID)
}

func TestCheckoutNonCashNeedsReference(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := as(cashierPusat)
	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalID: "T-02"})
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:    "T-02",
		PaymentMethod: "qris",
		CartItems:     []domain.CartItem{{SKU: "SKU-SUSU-01", Qty: qty("1")}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCashierCannotTouchForeignBranch(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.OpenShift(as(cashierPusat), domain.ShiftOpenRequest{BranchID: memory.SeedBranchSelatan, TerminalID: "T-09"})
	require.ErrorIs(t, err, store.ErrForbidden)
	assert.Contains(t, err.Error(), "forbidden branch")
}

func TestVoidRestocksAndRejectsSecondVoid(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := as(cashierPusat)
	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalID: "T-01"})
	require.NoError(t, err)
	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		TerminalID:        "T-01",
		CashReceivedCents: 100000,
		CartItems:         []domain.CartItem{{SKU: "SKU-AYAM-01", Qty: qty("2.5")}},
	})
	require.NoError(t, err)

	voided, err := svc.VoidTransaction(as(managerPusat), domain.VoidTransactionRequest{TransactionID: sale.TransactionID, Reason: "salah input"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusVoided, voided.Status)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-AYAM-01").Equal(qty("120")))

	_, err = svc.VoidTransaction(as(managerPusat), domain.VoidTransactionRequest{TransactionID: sale.TransactionID})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.VoidTransaction(as(managerSel), domain.VoidTransactionRequest{TransactionID: sale.TransactionID})
	require.ErrorIs(t, err, store.ErrForbidden)
}

func TestBranchRequestLifecycle(t *testing.T) {
	svc, repo, notifier := newTestService(t)

	created, err := svc.CreatePurchaseOrder(as(managerPusat), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderItemRequest{{SKU: "sku-tomat-01", Qty: qty("20")}},
	})
	require.NoError(t, err)
	po := created.PurchaseOrder
	assert.Equal(t, domain.POSourceBranchRequest, po.Source)
	assert.Equal(t, domain.POStatusRequested, po.Status)
	assert.Equal(t, memory.SeedBranchPusat, po.BranchID)

	_, err = svc.RecordPurchaseEntry(as(managerPusat), po.ID, domain.PurchaseEntryRequest{
		Reference: "SJ-000",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-TOMAT-01", Received: qty("1")}},
	})
	require.ErrorIs(t, err, store.ErrConflict, "requested orders are not receivable")

	_, err = svc.RoutePurchaseOrder(as(managerPusat), po.ID, domain.PurchaseOrderRouteRequest{SupplierID: "sup-tani-makmur"})
	require.ErrorIs(t, err, store.ErrForbidden)

	routed, err := svc.RoutePurchaseOrder(as(adminActor), po.ID, domain.PurchaseOrderRouteRequest{
		SupplierID: "sup-tani-makmur",
		Costs:      []domain.PurchaseOrderRouteCost{{SKU: "SKU-TOMAT-01", UnitCostCents: 11000}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusOrdered, routed.PurchaseOrder.Status)
	assert.Equal(t, int64(11000), routed.PurchaseOrder.Items[0].UnitCostCents)

	first, err := svc.RecordPurchaseEntry(as(managerPusat), po.ID, domain.PurchaseEntryRequest{
		Reference: " SJ-001 ",
		Lines: []domain.PurchaseEntryLineRequest{
			{SKU: "SKU-TOMAT-01", Received: qty("12"), Spoiled: qty("1"), Damaged: qty("0.5")},
		},
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	line := first.PurchaseOrder.Items[0]
	assert.Equal(t, domain.POStatusPartial, first.PurchaseOrder.Status)
	assert.Equal(t, domain.LineStatusPartial, line.Status)
	assert.True(t, line.Usable.Equal(qty("10.5")))
	assert.Equal(t, int64(11000), first.Entry.Lines[0].SpoiledValueCents)
	assert.Equal(t, int64(5500), first.Entry.Lines[0].DamagedValueCents)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-TOMAT-01").Equal(qty("130.5")))

	replay, err := svc.RecordPurchaseEntry(as(managerPusat), po.ID, domain.PurchaseEntryRequest{
		Reference: "SJ-001",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-TOMAT-01", Received: qty("12")}},
	})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-TOMAT-01").Equal(qty("130.5")))

	_, err = svc.RecordPurchaseEntry(as(managerPusat), po.ID, domain.PurchaseEntryRequest{
		Reference: "SJ-002",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-TOMAT-01", Received: qty("8.001")}},
	})
	require.ErrorIs(t, err, store.ErrOverReceipt)

	second, err := svc.RecordPurchaseEntry(as(managerPusat), po.ID, domain.PurchaseEntryRequest{
		Reference: "SJ-002",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-TOMAT-01", Received: qty("8")}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusReceived, second.PurchaseOrder.Status)
	assert.Equal(t, domain.LineStatusComplete, second.PurchaseOrder.Items[0].Status)

	check, err := svc.ReconcilePurchaseOrder(as(managerPusat), po.ID)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, 2, check.Entries)
	assert.Empty(t, check.Drift)

	report, err := svc.PurchaseReconciliationReport(as(managerPusat), "", "", "")
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	rates := report.Rows[0].Rates
	assert.Equal(t, "100", rates.FillPct.String())
	assert.Equal(t, "5", rates.SpoilagePct.String())
	assert.Equal(t, "2.5", rates.DamagePct.String())
	assert.Equal(t, "92.5", rates.UsablePct.String())
	assert.Equal(t, int64(220000), report.Totals.ReceivedValueCents)
	assert.Equal(t, int64(16500), report.Totals.LossValueCents)

	losses, err := svc.LossReport(as(managerPusat), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(16500), losses.TotalValueCents)
	require.Len(t, losses.ByReason, 2)
	assert.Equal(t, domain.LossReasonDamaged, losses.ByReason[0].Reason)

	assert.Equal(t, []string{domain.NotifyPORequested, domain.NotifyPORouted, domain.NotifyPurchaseEntry, domain.NotifyPurchaseEntry}, notifier.kinds())

	_, err = svc.GetPurchaseOrder(as(managerSel), po.ID)
	require.ErrorIs(t, err, store.ErrForbidden)
}

func TestVendorOrderNeedsSupplierAndCosts(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreatePurchaseOrder(as(adminActor), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderItemRequest{{SKU: "SKU-GULA-01", Qty: qty("10"), UnitCostCents: 15000}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CreatePurchaseOrder(as(adminActor), domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-tani-makmur",
		Items:      []domain.PurchaseOrderItemRequest{{SKU: "SKU-GULA-01", Qty: qty("10")}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	created, err := svc.CreatePurchaseOrder(as(adminActor), domain.PurchaseOrderCreateRequest{
		BranchID:   memory.SeedBranchSelatan,
		SupplierID: "sup-tani-makmur",
		Items:      []domain.PurchaseOrderItemRequest{{SKU: "SKU-GULA-01", Qty: qty("10"), UnitCostCents: 15000}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusOrdered, created.PurchaseOrder.Status)
	assert.Equal(t, domain.POSourceVendor, created.PurchaseOrder.Source)
}

func TestCancelAndShortClose(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := as(adminActor)
	open := func() string {
		created, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
			SupplierID: "sup-tani-makmur",
			Items:      []domain.PurchaseOrderItemRequest{{SKU: "SKU-BAYAM-01", Qty: qty("30"), UnitCostCents: 2900}},
		})
		require.NoError(t, err)
		return created.PurchaseOrder.ID
	}

	cancelID := open()
	_, err := svc.ClosePurchaseOrder(ctx, cancelID, domain.PurchaseOrderStatusRequest{})
	require.ErrorIs(t, err, store.ErrConflict, "nothing received yet, close is not allowed")
	cancelled, err := svc.CancelPurchaseOrder(ctx, cancelID, domain.PurchaseOrderStatusRequest{Reason: "supplier out of stock"})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusCancelled, cancelled.PurchaseOrder.Status)

	closeID := open()
	_, err = svc.RecordPurchaseEntry(ctx, closeID, domain.PurchaseEntryRequest{
		Reference: "SJ-77",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-BAYAM-01", Received: qty("20"), Spoiled: qty("2")}},
	})
	require.NoError(t, err)
	_, err = svc.CancelPurchaseOrder(ctx, closeID, domain.PurchaseOrderStatusRequest{})
	require.ErrorIs(t, err, store.ErrConflict)

	closed, err := svc.ClosePurchaseOrder(ctx, closeID, domain.PurchaseOrderStatusRequest{Reason: "sisa tidak dikirim"})
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusClosed, closed.PurchaseOrder.Status)
	assert.True(t, closed.PurchaseOrder.Items[0].Received.Equal(qty("20")))

	_, err = svc.RecordPurchaseEntry(ctx, closeID, domain.PurchaseEntryRequest{
		Reference: "SJ-78",
		Lines:     []domain.PurchaseEntryLineRequest{{SKU: "SKU-BAYAM-01", Received: qty("5")}},
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestTransferShortageScrappedAsTransitLoss(t *testing.T) {
	svc, repo, notifier := newTestService(t)

	created, err := svc.CreateTransfer(as(managerPusat), domain.TransferCreateRequest{
		ToBranchID: memory.SeedBranchSelatan,
		Items:      []domain.TransferItemRequest{{SKU: "SKU-BERAS-01", Qty: qty("10")}},
	})
	require.NoError(t, err)
	id := created.Transfer.ID

	_, err = svc.DispatchTransfer(as(managerSel), id, domain.TransferDispatchRequest{})
	require.ErrorIs(t, err, store.ErrForbidden)

	dispatched, err := svc.DispatchTransfer(as(managerPusat), id, domain.TransferDispatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusInTransit, dispatched.Transfer.Status)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-BERAS-01").Equal(qty("110")))

	_, err = svc.ReceiveTransfer(as(managerPusat), id, domain.TransferReceiveRequest{
		Lines: []domain.TransferReceiveLine{{SKU: "SKU-BERAS-01", Qty: qty("9.5")}},
	})
	require.ErrorIs(t, err, store.ErrForbidden)

	received, err := svc.ReceiveTransfer(as(managerSel), id, domain.TransferReceiveRequest{
		Lines: []domain.TransferReceiveLine{{SKU: "sku-beras-01", Qty: qty("9.5")}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusDiscrepancy, received.Transfer.Status)
	require.Len(t, received.Transfer.Discrepancies, 1)
	d := received.Transfer.Discrepancies[0]
	assert.Equal(t, domain.DiscrepancyShortage, d.Kind)
	assert.True(t, d.DeltaQty.Equal(qty("0.5")))
	assert.True(t, stockOf(t, repo, memory.SeedBranchSelatan, "SKU-BERAS-01").Equal(qty("49.5")))

	resolved, err := svc.ResolveDiscrepancy(as(managerSel), id, d.ID, domain.DiscrepancyResolveRequest{Resolution: "scrap", Notes: "karung sobek"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, resolved.Transfer.Status)
	assert.NotNil(t, resolved.Transfer.CompletedAt)

	_, err = svc.ResolveDiscrepancy(as(managerSel), id, d.ID, domain.DiscrepancyResolveRequest{Resolution: "adjustment"})
	require.ErrorIs(t, err, store.ErrConflict)

	losses, err := svc.LossReport(as(managerPusat), "", "", "")
	require.NoError(t, err)
	require.Len(t, losses.ByReason, 1)
	assert.Equal(t, domain.LossReasonTransitLoss, losses.ByReason[0].Reason)
	assert.Equal(t, d.ValueCents, losses.TotalValueCents)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-BERAS-01").Equal(qty("110")), "scrap does not restock the source")

	assert.Equal(t, []string{
		domain.NotifyTransferDispatched,
		domain.NotifyDiscrepancyOpened, domain.NotifyDiscrepancyOpened,
		domain.NotifyDiscrepancyResolved, domain.NotifyDiscrepancyResolved,
	}, notifier.kinds())
}

func TestTransferOverageAdjustmentDeductsSource(t *testing.T) {
	svc, repo, _ := newTestService(t)

	created, err := svc.CreateTransfer(as(adminActor), domain.TransferCreateRequest{
		FromBranchID: memory.SeedBranchPusat,
		ToBranchID:   memory.SeedBranchSelatan,
		Items:        []domain.TransferItemRequest{{SKU: "SKU-TELUR-01", Qty: qty("5")}},
	})
	require.NoError(t, err)
	id := created.Transfer.ID
	_, err = svc.DispatchTransfer(as(adminActor), id, domain.TransferDispatchRequest{})
	require.NoError(t, err)
	received, err := svc.ReceiveTransfer(as(adminActor), id, domain.TransferReceiveRequest{
		Lines: []domain.TransferReceiveLine{{SKU: "SKU-TELUR-01", Qty: qty("5.2")}},
	})
	require.NoError(t, err)
	require.Len(t, received.Transfer.Discrepancies, 1)
	d := received.Transfer.Discrepancies[0]
	assert.Equal(t, domain.DiscrepancyOverage, d.Kind)

	_, err = svc.ResolveDiscrepancy(as(adminActor), id, d.ID, domain.DiscrepancyResolveRequest{Resolution: "adjustment"})
	require.NoError(t, err)
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-TELUR-01").Equal(qty("114.8")))
	assert.True(t, stockOf(t, repo, memory.SeedBranchSelatan, "SKU-TELUR-01").Equal(qty("45.2")))
}

func TestTransferRejectsSameBranch(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateTransfer(as(managerPusat), domain.TransferCreateRequest{
		ToBranchID: memory.SeedBranchPusat,
		Items:      []domain.TransferItemRequest{{SKU: "SKU-BERAS-01", Qty: qty("1")}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestValidationRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateBranch(as(adminActor), domain.BranchCreateRequest{Code: "UTARA-01", Name: "Cabang Utara"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Contains(t, err.Error(), "code")

	_, err = svc.CreateBranch(as(managerPusat), domain.BranchCreateRequest{Code: "UTARA", Name: "Cabang Utara"})
	require.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.CreateTransfer(as(managerPusat), domain.TransferCreateRequest{
		ToBranchID: memory.SeedBranchSelatan,
		Items:      []domain.TransferItemRequest{{SKU: "SKU-BERAS-01", Qty: qty("-1")}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Contains(t, err.Error(), "items[0].qty")
}

func TestCreateBranchAndProductWithInitialStock(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := as(adminActor)

	branch, err := svc.CreateBranch(ctx, domain.BranchCreateRequest{Code: " utara ", Name: "Cabang Utara"})
	require.NoError(t, err)
	assert.Equal(t, "UTARA", branch.Code)

	_, err = svc.CreateBranch(ctx, domain.BranchCreateRequest{Code: "UTARA", Name: "Duplikat"})
	require.ErrorIs(t, err, store.ErrConflict)

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		BranchID:     branch.ID,
		SKU:          " sku-wortel-01 ",
		Name:         "Wortel",
		Category:     "produce",
		Unit:         "kg",
		PriceCents:   12000,
		MarginRate:   0.25,
		InitialStock: qty("7.25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "SKU-WORTEL-01", product.SKU)
	assert.True(t, stockOf(t, repo, branch.ID, "SKU-WORTEL-01").Equal(qty("7.25")))

	valuation, err := svc.StockValuation(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, valuation.Lines, 1)
	assert.Equal(t, int64(9000), valuation.Lines[0].UnitCostCents)
	assert.Equal(t, int64(65250), valuation.TotalValueCents)

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU: "SKU-X", Name: "X", Category: "misc", PriceCents: 100, InitialStock: qty("1.2345"),
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestStockOpnameWritesDelta(t *testing.T) {
	svc, repo, _ := newTestService(t)

	resp, err := svc.StockOpname(as(managerPusat), domain.StockOpnameRequest{
		Notes: "opname bulanan",
		Items: []domain.StockOpnameItem{{SKU: "SKU-ROTI-01", CountedQty: qty("117")}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Adjustments, 1)
	assert.True(t, resp.Adjustments[0].DeltaQty.Equal(qty("-3")))
	assert.True(t, stockOf(t, repo, memory.SeedBranchPusat, "SKU-ROTI-01").Equal(qty("117")))

	_, err = svc.StockOpname(as(cashierPusat), domain.StockOpnameRequest{
		Items: []domain.StockOpnameItem{{SKU: "SKU-ROTI-01", CountedQty: qty("1")}},
	})
	require.ErrorIs(t, err, store.ErrForbidden)
}

type countingCache struct {
	mu      sync.Mutex
	entries map[string]domain.DashboardSummary
	deletes int
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.DashboardSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.DashboardSummary, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value
	return nil
}

func (c *countingCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deletes++
	return nil
}

func TestDashboardIsCachedAndInvalidated(t *testing.T) {
	repo := memory.NewSeeded()
	dash := &countingCache{entries: map[string]domain.DashboardSummary{}}
	svc := New(repo, Options{
		DefaultBranchID:   memory.SeedBranchPusat,
		LowStockThreshold: decimal.NewFromInt(50),
		Cache:             dash,
		Logger:            zerolog.Nop(),
	})

	first, err := svc.Dashboard(as(managerPusat), "")
	require.NoError(t, err)
	assert.Equal(t, memory.SeedBranchPusat, first.Scope)
	assert.Zero(t, first.LowStockSKUs)

	_, err = svc.CreatePurchaseOrder(as(managerPusat), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderItemRequest{{SKU: "SKU-SUSU-01", Qty: qty("24")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dash.deletes)

	second, err := svc.Dashboard(as(managerPusat), "")
	require.NoError(t, err)
	assert.Equal(t, 1, second.RequestedPOs)

	cached, err := svc.Dashboard(as(managerPusat), "")
	require.NoError(t, err)
	assert.Equal(t, second.GeneratedAt, cached.GeneratedAt)

	all, err := svc.Dashboard(as(adminActor), "")
	require.NoError(t, err)
	assert.Equal(t, scopeAllBranches, all.Scope)
	assert.Equal(t, 10, all.LowStockSKUs, "selatan holds 40 of every SKU")

	_, err = svc.Dashboard(as(managerPusat), memory.SeedBranchSelatan)
	require.ErrorIs(t, err, store.ErrForbidden)
}

type gatedSink struct {
	notify.Sink
	gate chan struct{}
}

func (g gatedSink) CreateNotification(ctx context.Context, n domain.Notification) error {
	<-g.gate
	return g.Sink.CreateNotification(ctx, n)
}

func TestDashboardUnreadCountRefreshesAfterInboxWrite(t *testing.T) {
	repo := memory.NewSeeded()
	dash := &countingCache{entries: map[string]domain.DashboardSummary{}}
	sink := gatedSink{Sink: repo, gate: make(chan struct{})}
	dispatcher := notify.NewDispatcher(sink, 16, zerolog.Nop(), nil)
	svc := New(repo, Options{
		DefaultBranchID: memory.SeedBranchPusat,
		Cache:           dash,
		Notifier:        dispatcher,
		Logger:          zerolog.Nop(),
	})
	dispatcher.OnPersisted(svc.NotificationPersisted)

	_, err := svc.CreatePurchaseOrder(as(managerPusat), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderItemRequest{{SKU: "SKU-AIR-01", Qty: qty("12")}},
	})
	require.NoError(t, err)

	// rebuilt and cached while the inbox write is still pending
	before, err := svc.Dashboard(as(adminActor), "")
	require.NoError(t, err)
	assert.Zero(t, before.UnreadNotifications)

	close(sink.gate)
	require.NoError(t, dispatcher.Close(context.Background()))

	after, err := svc.Dashboard(as(adminActor), "")
	require.NoError(t, err)
	assert.Equal(t, 1, after.UnreadNotifications)
	assert.Equal(t, 1, after.RequestedPOs)
}

func TestNotificationPersistedWithoutBranchDropsEveryScope(t *testing.T) {
	repo := memory.NewSeeded()
	dash := &countingCache{entries: map[string]domain.DashboardSummary{}}
	svc := New(repo, Options{DefaultBranchID: memory.SeedBranchPusat, Cache: dash, Logger: zerolog.Nop()})

	_, err := svc.Dashboard(as(managerPusat), "")
	require.NoError(t, err)
	_, err = svc.Dashboard(as(managerSel), "")
	require.NoError(t, err)
	require.Len(t, dash.entries, 2)

	svc.NotificationPersisted(context.Background(), domain.Notification{Kind: domain.NotifyPORequested, Role: domain.RoleManager})
	assert.Empty(t, dash.entries)
}

func TestDispatcherDeliversToInbox(t *testing.T) {
	repo := memory.NewSeeded()
	dispatcher := notify.NewDispatcher(repo, 16, zerolog.Nop(), nil)
	svc := New(repo, Options{DefaultBranchID: memory.SeedBranchPusat, Notifier: dispatcher, Logger: zerolog.Nop()})

	_, err := svc.CreatePurchaseOrder(as(managerPusat), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseOrderItemRequest{{SKU: "SKU-AIR-01", Qty: qty("48")}},
	})
	require.NoError(t, err)
	require.NoError(t, dispatcher.Close(context.Background()))

	inbox, err := svc.ListNotifications(as(adminActor), true, 10)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, domain.NotifyPORequested, inbox.Notifications[0].Kind)

	managerInbox, err := svc.ListNotifications(as(managerPusat), true, 10)
	require.NoError(t, err)
	assert.Empty(t, managerInbox.Notifications, "po_requested is addressed to admins")

	require.NoError(t, svc.MarkNotificationRead(as(adminActor), inbox.Notifications[0].ID))
	inbox, err = svc.ListNotifications(as(adminActor), true, 10)
	require.NoError(t, err)
	assert.Empty(t, inbox.Notifications)
}

type failingAuditRepo struct {
	*memory.Store
}

func (failingAuditRepo) CreateAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit table locked")
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	svc := New(failingAuditRepo{memory.NewSeeded()}, Options{Logger: zerolog.Nop()})

	_, err := svc.CreateSupplier(as(adminActor), domain.SupplierCreateRequest{Name: "UD Sumber Segar"})
	require.NoError(t, err)
}

func TestAuditLogScopedToBranch(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.OpenShift(as(cashierPusat), domain.ShiftOpenRequest{TerminalID: "T-05"})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(as(managerPusat), "", "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "shift_open", logs[0].Action)
	assert.Equal(t, "cashier", logs[0].ActorUsername)

	logs, err = svc.ListAuditLogs(as(managerSel), "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
