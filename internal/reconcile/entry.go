package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

const SourcePurchaseEntry = "purchase_entry"

// EntryPlan is everything a repository must persist for one purchase entry.
type EntryPlan struct {
	Items  []domain.PurchaseOrderItem
	Lines  []domain.PurchaseEntryLine
	Stock  []domain.StockAdjustment
	Losses []domain.LossEntry
	Status string
}

// MergeEntryLines upper-cases SKUs and sums duplicate lines, keeping the first
// occurrence order. Each raw line is validated before it is summed.
func MergeEntryLines(lines []domain.PurchaseEntryLineRequest) ([]domain.PurchaseEntryLineRequest, error) {
	index := make(map[string]int, len(lines))
	merged := make([]domain.PurchaseEntryLineRequest, 0, len(lines))
	for i, line := range lines {
		line.SKU = strings.ToUpper(strings.TrimSpace(line.SKU))
		if err := (Receipt{Received: line.Received, Spoiled: line.Spoiled, Damaged: line.Damaged}).Validate(); err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, line.SKU, err)
		}
		if pos, ok := index[line.SKU]; ok {
			merged[pos].Received = merged[pos].Received.Add(line.Received)
			merged[pos].Spoiled = merged[pos].Spoiled.Add(line.Spoiled)
			merged[pos].Damaged = merged[pos].Damaged.Add(line.Damaged)
			continue
		}
		index[line.SKU] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

// PlanEntry applies a purchase entry to a locked purchase order. The order must
// carry the counters as currently persisted.
func PlanEntry(po domain.PurchaseOrder, entryID string, at time.Time, lines []domain.PurchaseEntryLineRequest) (EntryPlan, error) {
	if !Receivable(po.Status) {
		return EntryPlan{}, fmt.Errorf("%w: purchase order is %s", store.ErrConflict, po.Status)
	}

	merged, err := MergeEntryLines(lines)
	if err != nil {
		return EntryPlan{}, err
	}
	if len(merged) == 0 {
		return EntryPlan{}, fmt.Errorf("%w: entry has no lines", store.ErrInvalidTransaction)
	}

	position := make(map[string]int, len(po.Items))
	for i, item := range po.Items {
		position[item.SKU] = i
	}

	plan := EntryPlan{
		Items: make([]domain.PurchaseOrderItem, len(po.Items)),
		Lines: make([]domain.PurchaseEntryLine, 0, len(merged)),
	}
	copy(plan.Items, po.Items)

	anyReceived := false
	for _, line := range merged {
		pos, ok := position[line.SKU]
		if !ok {
			return EntryPlan{}, fmt.Errorf("%w: sku %s is not on purchase order %s", store.ErrInvalidTransaction, line.SKU, po.ID)
		}
		item := plan.Items[pos]
		receipt := Receipt{Received: line.Received, Spoiled: line.Spoiled, Damaged: line.Damaged}
		next, err := CountersOf(item).Apply(receipt)
		if err != nil {
			return EntryPlan{}, fmt.Errorf("sku %s: %w", line.SKU, err)
		}
		next.Store(&item)
		plan.Items[pos] = item

		if line.Received.IsPositive() {
			anyReceived = true
		}

		usable := receipt.Usable()
		entryLine := domain.PurchaseEntryLine{
			SKU:               line.SKU,
			Received:          line.Received,
			Spoiled:           line.Spoiled,
			Damaged:           line.Damaged,
			Usable:            usable,
			UnitCostCents:     item.UnitCostCents,
			SpoiledValueCents: ValueCents(line.Spoiled, item.UnitCostCents),
			DamagedValueCents: ValueCents(line.Damaged, item.UnitCostCents),
		}
		plan.Lines = append(plan.Lines, entryLine)

		if usable.IsPositive() {
			plan.Stock = append(plan.Stock, domain.StockAdjustment{
				SKU:           line.SKU,
				Qty:           usable,
				UnitCostCents: item.UnitCostCents,
			})
		}
		if line.Spoiled.IsPositive() {
			plan.Losses = append(plan.Losses, lossEntry(po.BranchID, line.SKU, domain.LossReasonSpoiled, line.Spoiled, item.UnitCostCents, SourcePurchaseEntry, entryID, at))
		}
		if line.Damaged.IsPositive() {
			plan.Losses = append(plan.Losses, lossEntry(po.BranchID, line.SKU, domain.LossReasonDamaged, line.Damaged, item.UnitCostCents, SourcePurchaseEntry, entryID, at))
		}
	}
	if !anyReceived {
		return EntryPlan{}, fmt.Errorf("%w: entry must receive a positive quantity", store.ErrInvalidTransaction)
	}

	plan.Status = OrderStatus(po.Status, plan.Items)
	return plan, nil
}

// Drift rebuilds each line from the recorded entries and lists every counter
// that disagrees with what is stored on the order.
func Drift(po domain.PurchaseOrder, entries []domain.PurchaseEntry) ([]domain.LineDrift, error) {
	receipts := make(map[string][]Receipt, len(po.Items))
	for _, entry := range entries {
		for _, line := range entry.Lines {
			receipts[line.SKU] = append(receipts[line.SKU], Receipt{
				Received: line.Received,
				Spoiled:  line.Spoiled,
				Damaged:  line.Damaged,
			})
		}
	}

	drift := make([]domain.LineDrift, 0)
	for _, item := range po.Items {
		rebuilt, err := Rebuild(item.Ordered, receipts[item.SKU])
		if err != nil {
			return nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		stored := CountersOf(item)
		for _, field := range []struct {
			name       string
			stored     decimal.Decimal
			recomputed decimal.Decimal
		}{
			{"received", stored.Received, rebuilt.Received},
			{"spoiled", stored.Spoiled, rebuilt.Spoiled},
			{"damaged", stored.Damaged, rebuilt.Damaged},
			{"usable", stored.Usable, rebuilt.Usable},
		} {
			if !field.stored.Equal(field.recomputed) {
				drift = append(drift, domain.LineDrift{
					SKU:        item.SKU,
					Field:      field.name,
					Stored:     field.stored,
					Recomputed: field.recomputed,
				})
			}
		}
	}
	return drift, nil
}

func lossEntry(branchID, sku, reason string, qty decimal.Decimal, unitCost int64, sourceType, sourceID string, at time.Time) domain.LossEntry {
	return domain.LossEntry{
		ID:            xid.New("loss"),
		BranchID:      branchID,
		SKU:           sku,
		Reason:        reason,
		Qty:           qty,
		UnitCostCents: unitCost,
		ValueCents:    ValueCents(qty, unitCost),
		SourceType:    sourceType,
		SourceID:      sourceID,
		CreatedAt:     at,
	}
}
