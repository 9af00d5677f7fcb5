package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

// Balance is the on-hand quantity and weighted unit cost of one SKU at one
// branch.
type Balance struct {
	Qty           decimal.Decimal
	UnitCostCents int64
}

// StockStep is one non-zero adjustment and the balance it leaves behind.
type StockStep struct {
	Adjustment domain.StockAdjustment
	After      Balance
}

// PlanStock replays adjustments over current balances in order. Inbound
// adjustments carrying a cost move the weighted cost. Any step that would
// take a balance below zero rejects the whole batch. current is not modified.
func PlanStock(current map[string]Balance, adjustments []domain.StockAdjustment) ([]StockStep, map[string]Balance, error) {
	next := make(map[string]Balance, len(current))
	for sku, b := range current {
		next[sku] = b
	}

	steps := make([]StockStep, 0, len(adjustments))
	for _, adj := range adjustments {
		if err := CheckQty("adjustment qty", adj.Qty.Abs()); err != nil {
			return nil, nil, fmt.Errorf("sku %s: %w", adj.SKU, err)
		}
		if adj.Qty.IsZero() {
			continue
		}
		b := next[adj.SKU]
		if adj.Qty.IsPositive() {
			b.UnitCostCents = WeightedCostCents(b.Qty, b.UnitCostCents, adj.Qty, adj.UnitCostCents)
		}
		after := b.Qty.Add(adj.Qty)
		if after.IsNegative() {
			return nil, nil, fmt.Errorf("%w: sku %s has %s, needs %s", store.ErrInsufficientStock, adj.SKU, b.Qty, adj.Qty.Neg())
		}
		b.Qty = after
		next[adj.SKU] = b
		steps = append(steps, StockStep{Adjustment: adj, After: b})
	}
	return steps, next, nil
}
