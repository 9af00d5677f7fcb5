package reconcile

import (
	"fmt"
	"strings"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

// NormalizeOrderItems upper-cases SKUs, rejects duplicates and unknown SKUs,
// and resets every line to a fresh accumulator.
func NormalizeOrderItems(items []domain.PurchaseOrderItem, known func(sku string) bool) ([]domain.PurchaseOrderItem, error) {
	seen := make(map[string]struct{}, len(items))
	result := make([]domain.PurchaseOrderItem, 0, len(items))
	for _, item := range items {
		item.SKU = strings.ToUpper(strings.TrimSpace(item.SKU))
		if item.SKU == "" {
			return nil, fmt.Errorf("%w: sku is required", store.ErrInvalidTransaction)
		}
		if _, dup := seen[item.SKU]; dup {
			return nil, fmt.Errorf("%w: sku %s listed twice", store.ErrInvalidTransaction, item.SKU)
		}
		seen[item.SKU] = struct{}{}
		if !known(item.SKU) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, item.SKU)
		}
		if err := CheckPositiveQty("ordered qty", item.Ordered); err != nil {
			return nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		if item.UnitCostCents < 0 {
			return nil, fmt.Errorf("%w: sku %s unit cost is negative", store.ErrInvalidTransaction, item.SKU)
		}
		Counters{Ordered: item.Ordered}.Store(&item)
		result = append(result, item)
	}
	return result, nil
}

// RouteCosts settles the unit cost of every line of a branch request. An
// explicit cost wins, then the cost already on the line, then the branch's
// current weighted cost. A line left without a cost rejects the routing.
func RouteCosts(items []domain.PurchaseOrderItem, costs map[string]int64, branchCost func(sku string) int64) ([]domain.PurchaseOrderItem, error) {
	onOrder := make(map[string]struct{}, len(items))
	for _, item := range items {
		onOrder[item.SKU] = struct{}{}
	}
	for sku := range costs {
		if _, ok := onOrder[sku]; !ok {
			return nil, fmt.Errorf("%w: sku %s is not on the purchase order", store.ErrInvalidTransaction, sku)
		}
	}

	routed := make([]domain.PurchaseOrderItem, len(items))
	for i, item := range items {
		switch cost := costs[item.SKU]; {
		case cost > 0:
			item.UnitCostCents = cost
		case item.UnitCostCents > 0:
		default:
			item.UnitCostCents = branchCost(item.SKU)
		}
		if item.UnitCostCents <= 0 {
			return nil, fmt.Errorf("%w: sku %s needs a unit cost", store.ErrInvalidTransaction, item.SKU)
		}
		routed[i] = item
	}
	return routed, nil
}
