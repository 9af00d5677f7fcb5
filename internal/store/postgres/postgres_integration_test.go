package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
)

func integrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("GROCERP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GROCERP_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestPurchaseEntryReconcilesAcrossDeliveries(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("br-it-%d", stamp)
	sku := fmt.Sprintf("SKU-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_entry_lines WHERE entry_id IN (SELECT id FROM purchase_entries WHERE branch_id = $1)`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_entries WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_orders WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM loss_entries WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branch_stocks WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.CreateBranch(ctx, domain.Branch{ID: branchID, Code: fmt.Sprintf("IT%d", stamp%1_000_000), Name: "Cabang IT"}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{SKU: sku, Name: "Tomat IT", Category: "sayur", Unit: "kg", PriceCents: 16000, MarginRate: 0.3}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		BranchID: branchID,
		Source:   domain.POSourceVendor,
		Status:   domain.POStatusOrdered,
		Items:    []domain.PurchaseOrderItem{{SKU: sku, Ordered: decimal.RequireFromString("20"), UnitCostCents: 11000}},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	first, updated, duplicate, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-001"}, []domain.PurchaseEntryLineRequest{
		{SKU: sku, Received: decimal.RequireFromString("12.5"), Spoiled: decimal.RequireFromString("1.5"), Damaged: decimal.RequireFromString("1")},
	})
	if err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if duplicate || updated.Status != domain.POStatusPartial {
		t.Fatalf("expected partial fresh entry, got status=%s duplicate=%v", updated.Status, duplicate)
	}

	replayed, _, duplicate, err := s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: " SJ-001 "}, []domain.PurchaseEntryLineRequest{
		{SKU: sku, Received: decimal.RequireFromString("7.5")},
	})
	if err != nil {
		t.Fatalf("replay entry: %v", err)
	}
	if !duplicate || replayed.ID != first.ID {
		t.Fatalf("expected replay of %s, got %s duplicate=%v", first.ID, replayed.ID, duplicate)
	}

	_, updated, _, err = s.RecordPurchaseEntry(ctx, domain.PurchaseEntry{PurchaseOrderID: po.ID, Reference: "SJ-002"}, []domain.PurchaseEntryLineRequest{
		{SKU: sku, Received: decimal.RequireFromString("7.5")},
	})
	if err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if updated.Status != domain.POStatusReceived {
		t.Fatalf("expected received, got %s", updated.Status)
	}

	stock, err := s.GetStockMap(ctx, branchID, []string{sku})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if !stock[sku].Equal(decimal.RequireFromString("17.5")) {
		t.Fatalf("expected 17.5 usable in stock, got %s", stock[sku])
	}

	losses, err := s.ListLossEntries(ctx, branchID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list losses: %v", err)
	}
	total := int64(0)
	for _, loss := range losses {
		total += loss.ValueCents
	}
	if len(losses) != 2 || total != 27500 {
		t.Fatalf("expected 2 losses worth 27500, got %d worth %d", len(losses), total)
	}

	entries, err := s.ListPurchaseEntries(ctx, po.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
