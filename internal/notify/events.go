package notify

import (
	"fmt"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
)

const (
	entityPurchaseOrder = "purchase_order"
	entityPurchaseEntry = "purchase_entry"
)

// PORequested goes to every admin: a branch needs the order routed to a supplier.
func PORequested(po domain.PurchaseOrder) domain.Notification {
	return domain.Notification{
		Role:       domain.RoleAdmin,
		Kind:       domain.NotifyPORequested,
		Title:      "Permintaan pembelian baru",
		Body:       fmt.Sprintf("Cabang %s meminta %d item (PO %s)", po.BranchID, len(po.Items), po.ID),
		EntityType: entityPurchaseOrder,
		EntityID:   po.ID,
	}
}

func PORouted(po domain.PurchaseOrder) domain.Notification {
	return domain.Notification{
		BranchID:   po.BranchID,
		Kind:       domain.NotifyPORouted,
		Title:      "PO diteruskan ke pemasok",
		Body:       fmt.Sprintf("PO %s dipesan ke pemasok %s", po.ID, po.SupplierID),
		EntityType: entityPurchaseOrder,
		EntityID:   po.ID,
	}
}

func PurchaseEntryRecorded(entry domain.PurchaseEntry, po domain.PurchaseOrder) domain.Notification {
	var lossCents int64
	for _, line := range entry.Lines {
		lossCents += line.SpoiledValueCents + line.DamagedValueCents
	}
	return domain.Notification{
		BranchID:   po.BranchID,
		Role:       domain.RoleManager,
		Kind:       domain.NotifyPurchaseEntry,
		Title:      "Penerimaan barang dicatat",
		Body:       fmt.Sprintf("Surat jalan %s untuk PO %s, status %s, nilai susut %d", entry.Reference, po.ID, po.Status, lossCents),
		EntityType: entityPurchaseEntry,
		EntityID:   entry.ID,
	}
}

func TransferDispatched(t domain.StockTransfer) domain.Notification {
	return domain.Notification{
		BranchID:   t.ToBranchID,
		Kind:       domain.NotifyTransferDispatched,
		Title:      "Transfer dikirim",
		Body:       fmt.Sprintf("Transfer %s dari %s sedang dalam perjalanan", t.ID, t.FromBranchID),
		EntityType: reconcile.SourceTransfer,
		EntityID:   t.ID,
	}
}

// DiscrepanciesOpened notifies both ends of the transfer once per receipt.
func DiscrepanciesOpened(t domain.StockTransfer) []domain.Notification {
	open := 0
	for _, d := range t.Discrepancies {
		if d.Status == domain.DiscrepancyOpen {
			open++
		}
	}
	if open == 0 {
		return nil
	}
	body := fmt.Sprintf("Transfer %s memiliki %d selisih yang perlu diselesaikan", t.ID, open)
	return bothBranches(t, domain.Notification{
		Role:       domain.RoleManager,
		Kind:       domain.NotifyDiscrepancyOpened,
		Title:      "Selisih transfer",
		Body:       body,
		EntityType: reconcile.SourceTransfer,
		EntityID:   t.ID,
	})
}

func DiscrepancyResolved(t domain.StockTransfer, d domain.TransferDiscrepancy) []domain.Notification {
	return bothBranches(t, domain.Notification{
		Role:       domain.RoleManager,
		Kind:       domain.NotifyDiscrepancyResolved,
		Title:      "Selisih transfer diselesaikan",
		Body:       fmt.Sprintf("%s %s pada transfer %s diselesaikan dengan %s", d.Kind, d.SKU, t.ID, d.Resolution),
		EntityType: reconcile.SourceTransfer,
		EntityID:   t.ID,
	})
}

func bothBranches(t domain.StockTransfer, n domain.Notification) []domain.Notification {
	from, to := n, n
	from.BranchID = t.FromBranchID
	to.BranchID = t.ToBranchID
	return []domain.Notification{from, to}
}
