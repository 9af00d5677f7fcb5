package reconcile

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

const (
	SourceTransfer = "stock_transfer"
	// SourceTransferDiscrepancy tags loss rows written when a discrepancy is
	// resolved; their source id is the discrepancy id.
	SourceTransferDiscrepancy = "transfer_discrepancy"
)

// NormalizeTransferItems upper-cases SKUs and rejects duplicate, unknown and
// non-positive lines. Progress fields start at zero.
func NormalizeTransferItems(items []domain.StockTransferItem, known func(sku string) bool) ([]domain.StockTransferItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: transfer has no items", store.ErrInvalidTransaction)
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]domain.StockTransferItem, 0, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if _, dup := seen[sku]; dup {
			return nil, fmt.Errorf("%w: sku %s listed twice", store.ErrInvalidTransaction, sku)
		}
		seen[sku] = struct{}{}
		if !known(sku) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, sku)
		}
		if err := CheckPositiveQty("requested qty", item.Requested); err != nil {
			return nil, fmt.Errorf("sku %s: %w", sku, err)
		}
		result = append(result, domain.StockTransferItem{SKU: sku, Requested: item.Requested})
	}
	return result, nil
}

// PlanDispatch fills the dispatched quantities of a requested transfer. Items
// absent from lines ship their requested quantity; an empty lines slice ships
// everything as requested.
func PlanDispatch(t domain.StockTransfer, lines []domain.TransferDispatchLine) ([]domain.StockTransferItem, error) {
	if t.Status != domain.TransferStatusRequested {
		return nil, fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
	}

	byLine := make(map[string]domain.TransferDispatchLine, len(lines))
	for _, line := range lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if _, dup := byLine[sku]; dup {
			return nil, fmt.Errorf("%w: sku %s dispatched twice", store.ErrInvalidTransaction, sku)
		}
		byLine[sku] = line
	}

	items := make([]domain.StockTransferItem, len(t.Items))
	anyDispatched := false
	for i, item := range t.Items {
		dispatched := item.Requested
		weight := decimal.Zero
		if line, ok := byLine[item.SKU]; ok {
			dispatched = line.Qty
			weight = line.WeightKg
			delete(byLine, item.SKU)
		}
		if err := CheckQty("dispatched qty", dispatched); err != nil {
			return nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		if err := CheckQty("dispatched weight", weight); err != nil {
			return nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		if dispatched.GreaterThan(item.Requested) {
			return nil, fmt.Errorf("%w: sku %s dispatched %s exceeds requested %s", store.ErrInvalidTransaction, item.SKU, dispatched, item.Requested)
		}
		if dispatched.IsPositive() {
			anyDispatched = true
		}
		item.Dispatched = dispatched
		item.DispatchedWeightKg = weight
		items[i] = item
	}
	if sku := firstKey(byLine); sku != "" {
		return nil, fmt.Errorf("%w: sku %s is not on transfer %s", store.ErrInvalidTransaction, sku, t.ID)
	}
	if !anyDispatched {
		return nil, fmt.Errorf("%w: transfer must dispatch a positive quantity", store.ErrInvalidTransaction)
	}
	return items, nil
}

// PlanReceipt records what arrived and opens one discrepancy per mismatched
// item. Every dispatched item must be reported.
func PlanReceipt(t domain.StockTransfer, lines []domain.TransferReceiveLine, weightTolerance decimal.Decimal, at time.Time) ([]domain.StockTransferItem, []domain.TransferDiscrepancy, error) {
	if t.Status != domain.TransferStatusInTransit {
		return nil, nil, fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
	}

	byLine := make(map[string]domain.TransferReceiveLine, len(lines))
	for _, line := range lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if _, dup := byLine[sku]; dup {
			return nil, nil, fmt.Errorf("%w: sku %s received twice", store.ErrInvalidTransaction, sku)
		}
		byLine[sku] = line
	}

	items := make([]domain.StockTransferItem, len(t.Items))
	discrepancies := make([]domain.TransferDiscrepancy, 0)
	for i, item := range t.Items {
		line, ok := byLine[item.SKU]
		if !ok {
			if item.Dispatched.IsPositive() {
				return nil, nil, fmt.Errorf("%w: sku %s missing from receipt", store.ErrInvalidTransaction, item.SKU)
			}
			items[i] = item
			continue
		}
		delete(byLine, item.SKU)
		if err := CheckQty("received qty", line.Qty); err != nil {
			return nil, nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		if err := CheckQty("received weight", line.WeightKg); err != nil {
			return nil, nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		item.Received = line.Qty
		item.ReceivedWeightKg = line.WeightKg
		items[i] = item

		if d, ok := discrepancyFor(t.ID, item, weightTolerance, at); ok {
			discrepancies = append(discrepancies, d)
		}
	}
	if sku := firstKey(byLine); sku != "" {
		return nil, nil, fmt.Errorf("%w: sku %s is not on transfer %s", store.ErrInvalidTransaction, sku, t.ID)
	}
	return items, discrepancies, nil
}

func discrepancyFor(transferID string, item domain.StockTransferItem, tolerance decimal.Decimal, at time.Time) (domain.TransferDiscrepancy, bool) {
	d := domain.TransferDiscrepancy{
		ID:               xid.New("disc"),
		TransferID:       transferID,
		SKU:              item.SKU,
		ExpectedQty:      item.Dispatched,
		ReceivedQty:      item.Received,
		ExpectedWeightKg: item.DispatchedWeightKg,
		ReceivedWeightKg: item.ReceivedWeightKg,
		UnitCostCents:    item.UnitCostCents,
		Status:           domain.DiscrepancyOpen,
		CreatedAt:        at,
	}
	switch item.Received.Cmp(item.Dispatched) {
	case -1:
		d.Kind = domain.DiscrepancyShortage
		d.DeltaQty = item.Dispatched.Sub(item.Received)
	case 1:
		d.Kind = domain.DiscrepancyOverage
		d.DeltaQty = item.Received.Sub(item.Dispatched)
	default:
		if !item.DispatchedWeightKg.IsPositive() || !item.ReceivedWeightKg.IsPositive() {
			return d, false
		}
		gap := item.ReceivedWeightKg.Sub(item.DispatchedWeightKg).Abs()
		if !gap.GreaterThan(tolerance) {
			return d, false
		}
		d.Kind = domain.DiscrepancyWeight
		d.DeltaQty = decimal.Zero
	}
	d.ValueCents = ValueCents(d.DeltaQty, d.UnitCostCents)
	return d, true
}

// ResolutionPlan is the ledger effect of resolving one discrepancy.
type ResolutionPlan struct {
	BranchID     string
	Adjustment   *domain.StockAdjustment
	MovementKind string
	Loss         *domain.LossEntry
}

// PlanResolution maps a discrepancy and a disposition to stock and loss entries.
func PlanResolution(t domain.StockTransfer, d domain.TransferDiscrepancy, resolution string, at time.Time) (ResolutionPlan, error) {
	if d.Status != domain.DiscrepancyOpen {
		return ResolutionPlan{}, fmt.Errorf("%w: discrepancy already resolved", store.ErrConflict)
	}
	if resolution != domain.ResolutionAdjustment && resolution != domain.ResolutionScrap {
		return ResolutionPlan{}, fmt.Errorf("%w: unknown resolution %q", store.ErrInvalidTransaction, resolution)
	}

	switch d.Kind {
	case domain.DiscrepancyWeight:
		return ResolutionPlan{}, nil
	case domain.DiscrepancyShortage:
		if resolution == domain.ResolutionAdjustment {
			return ResolutionPlan{
				BranchID:     t.FromBranchID,
				Adjustment:   &domain.StockAdjustment{SKU: d.SKU, Qty: d.DeltaQty, UnitCostCents: d.UnitCostCents},
				MovementKind: domain.MovementTransferAdjustment,
			}, nil
		}
		loss := lossEntry(t.FromBranchID, d.SKU, domain.LossReasonTransitLoss, d.DeltaQty, d.UnitCostCents, SourceTransferDiscrepancy, d.ID, at)
		return ResolutionPlan{BranchID: t.FromBranchID, Loss: &loss}, nil
	case domain.DiscrepancyOverage:
		if resolution == domain.ResolutionAdjustment {
			return ResolutionPlan{
				BranchID:     t.FromBranchID,
				Adjustment:   &domain.StockAdjustment{SKU: d.SKU, Qty: d.DeltaQty.Neg()},
				MovementKind: domain.MovementTransferAdjustment,
			}, nil
		}
		loss := lossEntry(t.ToBranchID, d.SKU, domain.LossReasonScrap, d.DeltaQty, d.UnitCostCents, SourceTransferDiscrepancy, d.ID, at)
		return ResolutionPlan{
			BranchID:     t.ToBranchID,
			Adjustment:   &domain.StockAdjustment{SKU: d.SKU, Qty: d.DeltaQty.Neg()},
			MovementKind: domain.MovementTransferScrap,
			Loss:         &loss,
		}, nil
	}
	return ResolutionPlan{}, fmt.Errorf("%w: unknown discrepancy kind %q", store.ErrInvalidTransaction, d.Kind)
}

// TransferStatusAfter is completed once no discrepancy is open.
func TransferStatusAfter(discrepancies []domain.TransferDiscrepancy) string {
	for _, d := range discrepancies {
		if d.Status == domain.DiscrepancyOpen {
			return domain.TransferStatusDiscrepancy
		}
	}
	return domain.TransferStatusCompleted
}

func firstKey[V any](m map[string]V) string {
	keys := slices.Sorted(maps.Keys(m))
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
