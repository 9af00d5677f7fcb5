// Package reconcile holds the quantity arithmetic shared by every repository:
// purchase-order line accumulators, purchase-entry planning, transfer
// discrepancy detection and the compensating ledger entries they produce.
// Nothing here touches storage; callers run it inside their own transaction.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/store"
)

// Scale is the number of fractional digits a quantity may carry.
const Scale = 3

var hundred = decimal.NewFromInt(100)

// CheckQty rejects negative quantities and quantities finer than Scale.
func CheckQty(field string, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrInvalidTransaction, field)
	}
	if !qty.Equal(qty.Truncate(Scale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", store.ErrInvalidTransaction, field, Scale)
	}
	return nil
}

// CheckPositiveQty is CheckQty plus a strict > 0 requirement.
func CheckPositiveQty(field string, qty decimal.Decimal) error {
	if err := CheckQty(field, qty); err != nil {
		return err
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", store.ErrInvalidTransaction, field)
	}
	return nil
}

// ValueCents prices a quantity at a unit cost, rounding half away from zero.
func ValueCents(qty decimal.Decimal, unitCostCents int64) int64 {
	if unitCostCents <= 0 || qty.IsZero() {
		return 0
	}
	return qty.Mul(decimal.NewFromInt(unitCostCents)).Round(0).IntPart()
}

// Percent returns part/whole*100 rounded to two places, or zero when whole is
// not positive.
func Percent(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, 2)
}

// WeightedCostCents blends an incoming unit cost into the current one.
func WeightedCostCents(oldQty decimal.Decimal, oldCost int64, incomingQty decimal.Decimal, incomingCost int64) int64 {
	if !incomingQty.IsPositive() || incomingCost <= 0 {
		return oldCost
	}
	if !oldQty.IsPositive() || oldCost <= 0 {
		return incomingCost
	}
	totalQty := oldQty.Add(incomingQty)
	totalValue := oldQty.Mul(decimal.NewFromInt(oldCost)).Add(incomingQty.Mul(decimal.NewFromInt(incomingCost)))
	weighted := totalValue.DivRound(totalQty, 0).IntPart()
	if weighted < 1 {
		return 1
	}
	return weighted
}
