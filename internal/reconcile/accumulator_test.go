package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decimalEqual compares by value so 1.50 and 1.5 match.
var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestCheckQtyRejectsNegativeAndFinePrecision(t *testing.T) {
	require.NoError(t, CheckQty("qty", qty("1.125")))
	require.NoError(t, CheckQty("qty", decimal.Zero))
	assert.ErrorIs(t, CheckQty("qty", qty("-0.001")), store.ErrInvalidTransaction)
	assert.ErrorIs(t, CheckQty("qty", qty("0.0005")), store.ErrInvalidTransaction)
	assert.ErrorIs(t, CheckPositiveQty("qty", decimal.Zero), store.ErrInvalidTransaction)
}

func TestApplyAccumulatesPartialReceipts(t *testing.T) {
	c := Counters{Ordered: qty("10")}

	c, err := c.Apply(Receipt{Received: qty("4"), Spoiled: qty("0.5"), Damaged: qty("0.5")})
	require.NoError(t, err)
	assert.Equal(t, domain.LineStatusPartial, c.Status())
	assert.True(t, c.Usable.Equal(qty("3")), "usable = %s", c.Usable)

	c, err = c.Apply(Receipt{Received: qty("6"), Damaged: qty("1")})
	require.NoError(t, err)
	assert.Equal(t, domain.LineStatusComplete, c.Status())
	assert.True(t, c.Received.Equal(qty("10")))
	assert.True(t, c.Usable.Equal(qty("8")))
	assert.True(t, c.Damaged.Equal(qty("1.5")))
	require.NoError(t, c.Check())
	assert.True(t, c.Remaining().IsZero())
}

func TestApplyRejectsOverReceiptWithoutMutating(t *testing.T) {
	c := Counters{Ordered: qty("5"), Received: qty("4"), Usable: qty("4")}

	next, err := c.Apply(Receipt{Received: qty("1.5")})
	require.ErrorIs(t, err, store.ErrOverReceipt)
	assert.Equal(t, c, next)
}

func TestApplyRejectsLossesAboveReceived(t *testing.T) {
	c := Counters{Ordered: qty("5")}

	_, err := c.Apply(Receipt{Received: qty("2"), Spoiled: qty("1.5"), Damaged: qty("1")})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCheckDetectsBrokenInvariant(t *testing.T) {
	broken := Counters{Ordered: qty("5"), Received: qty("3"), Usable: qty("2")}
	assert.ErrorIs(t, broken.Check(), store.ErrConflict)

	over := Counters{Ordered: qty("2"), Received: qty("3"), Usable: qty("3")}
	assert.ErrorIs(t, over.Check(), store.ErrOverReceipt)
}

func TestStatusDerivation(t *testing.T) {
	cases := map[string]struct {
		received string
		want     string
	}{
		"none":    {"0", domain.LineStatusNotReceived},
		"some":    {"0.001", domain.LineStatusPartial},
		"all":     {"7", domain.LineStatusComplete},
		"almost":  {"6.999", domain.LineStatusPartial},
		"exactly": {"7.000", domain.LineStatusComplete},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := Counters{Ordered: qty("7"), Received: qty(tc.received)}
			assert.Equal(t, tc.want, c.Status())
		})
	}
}

func TestOrderStatus(t *testing.T) {
	line := func(ordered, received string) domain.PurchaseOrderItem {
		return domain.PurchaseOrderItem{Ordered: qty(ordered), Received: qty(received), Usable: qty(received)}
	}

	assert.Equal(t, domain.POStatusOrdered, OrderStatus(domain.POStatusOrdered, []domain.PurchaseOrderItem{line("2", "0"), line("3", "0")}))
	assert.Equal(t, domain.POStatusPartial, OrderStatus(domain.POStatusOrdered, []domain.PurchaseOrderItem{line("2", "2"), line("3", "0")}))
	assert.Equal(t, domain.POStatusReceived, OrderStatus(domain.POStatusPartial, []domain.PurchaseOrderItem{line("2", "2"), line("3", "3")}))
	assert.Equal(t, domain.POStatusClosed, OrderStatus(domain.POStatusClosed, []domain.PurchaseOrderItem{line("2", "2")}))
}

func TestRatesRoundToTwoPlacesAndGuardZero(t *testing.T) {
	c := Counters{Ordered: qty("3"), Received: qty("3"), Spoiled: qty("1"), Usable: qty("2")}
	rates := c.Rates()
	assert.Equal(t, "33.33", rates.SpoilagePct.StringFixed(2))
	assert.Equal(t, "66.67", rates.UsablePct.StringFixed(2))
	assert.Equal(t, "100.00", rates.FillPct.StringFixed(2))
	assert.True(t, rates.DamagePct.IsZero())

	empty := Counters{Ordered: qty("3")}.Rates()
	assert.True(t, empty.SpoilagePct.IsZero())
	assert.True(t, empty.FillPct.IsZero())
}

func TestRebuildMatchesIncrementalApply(t *testing.T) {
	receipts := []Receipt{
		{Received: qty("1.250"), Spoiled: qty("0.250")},
		{Received: qty("2"), Damaged: qty("0.1")},
		{Received: qty("0.75")},
	}
	rebuilt, err := Rebuild(qty("4"), receipts)
	require.NoError(t, err)
	assert.Equal(t, "4", rebuilt.Received.String())
	assert.Equal(t, "3.65", rebuilt.Usable.String())
	assert.Equal(t, domain.LineStatusComplete, rebuilt.Status())

	_, err = Rebuild(qty("1"), receipts)
	assert.ErrorIs(t, err, store.ErrOverReceipt)

	incremental := Counters{Ordered: qty("4.000")}
	for _, r := range receipts {
		incremental, err = incremental.Apply(r)
		require.NoError(t, err)
	}
	if diff := cmp.Diff(rebuilt, incremental, decimalEqual); diff != "" {
		t.Fatalf("rebuild drifted from incremental apply (-rebuilt +incremental):\n%s", diff)
	}
}

func TestWeightedCostCents(t *testing.T) {
	assert.Equal(t, int64(1200), WeightedCostCents(decimal.Zero, 0, qty("5"), 1200))
	assert.Equal(t, int64(1100), WeightedCostCents(qty("10"), 1000, qty("10"), 1200))
	assert.Equal(t, int64(1000), WeightedCostCents(qty("10"), 1000, qty("5"), 0))
	assert.Equal(t, int64(1050), WeightedCostCents(qty("1.5"), 1000, qty("0.5"), 1200))
}

func TestValueCentsRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(1500), ValueCents(qty("1.5"), 1000))
	assert.Equal(t, int64(13), ValueCents(qty("0.125"), 100))
	assert.Equal(t, int64(0), ValueCents(qty("3"), 0))
}
