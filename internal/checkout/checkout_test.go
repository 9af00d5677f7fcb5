package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

func catalog(sku string) (domain.Product, bool) {
	switch sku {
	case "SKU-TOMAT-01":
		return domain.Product{SKU: sku, PriceCents: 16000, MarginRate: 0.30}, true
	case "SKU-AIR-01":
		return domain.Product{SKU: sku, PriceCents: 3900, MarginRate: 0.18}, true
	}
	return domain.Product{}, false
}

func line(sku string, qty string) domain.TransactionLine {
	return domain.TransactionLine{SKU: sku, Qty: decimal.RequireFromString(qty)}
}

func TestPriceLinesMergesDuplicateSKUs(t *testing.T) {
	lines, subtotal, err := PriceLines([]domain.TransactionLine{
		line(" sku-tomat-01", "1.25"),
		line("SKU-AIR-01", "2"),
		line("SKU-TOMAT-01", "0.25"),
	}, catalog)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "SKU-TOMAT-01", lines[0].SKU)
	assert.Equal(t, "1.5", lines[0].Qty.String())
	assert.Equal(t, int64(24000), lines[0].LineTotalCents)
	assert.Equal(t, int64(7800), lines[1].LineTotalCents)
	assert.Equal(t, int64(31800), subtotal)
}

func TestPriceLinesRejectsUnknownAndBadQty(t *testing.T) {
	_, _, err := PriceLines([]domain.TransactionLine{line("SKU-DURIAN-01", "1")}, catalog)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = PriceLines([]domain.TransactionLine{line("SKU-AIR-01", "0")}, catalog)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, _, err = PriceLines([]domain.TransactionLine{line("SKU-TOMAT-01", "0.0001")}, catalog)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestSettleCash(t *testing.T) {
	tx := &domain.Transaction{TaxRatePercent: 11, CashReceivedCents: 50000}
	require.NoError(t, Settle(tx, 24000))
	assert.Equal(t, PaymentCash, tx.PaymentMethod)
	assert.Equal(t, int64(2640), tx.TaxCents)
	assert.Equal(t, int64(26640), tx.TotalCents)
	assert.Equal(t, int64(23360), tx.ChangeCents)

	short := &domain.Transaction{CashReceivedCents: 100}
	require.ErrorIs(t, Settle(short, 24000), store.ErrInvalidTransaction)
}

func TestSettleDiscountAndNonCash(t *testing.T) {
	require.ErrorIs(t, Settle(&domain.Transaction{DiscountCents: 30000}, 24000), store.ErrInvalidTransaction)
	require.ErrorIs(t, Settle(&domain.Transaction{TaxRatePercent: 101}, 24000), store.ErrInvalidTransaction)
	require.ErrorIs(t, Settle(&domain.Transaction{PaymentMethod: "qris"}, 24000), store.ErrInvalidTransaction)

	tx := &domain.Transaction{PaymentMethod: "qris", PaymentReference: "QR-778", CashReceivedCents: 99999, DiscountCents: 4000}
	require.NoError(t, Settle(tx, 24000))
	assert.Equal(t, int64(20000), tx.TotalCents)
	assert.Zero(t, tx.CashReceivedCents)
	assert.Zero(t, tx.ChangeCents)
}

func TestDailyTallySkipsVoided(t *testing.T) {
	tally := NewDailyTally("br-pusat")
	tally.Add(&domain.Transaction{
		TerminalID: "T-02", PaymentMethod: "qris", SubtotalCents: 10000, TotalCents: 11100, TaxCents: 1100,
		Status: domain.TxStatusPaid,
		Items:  []domain.TransactionLine{{LineTotalCents: 10000, MarginRate: 0.25}},
	})
	tally.Add(&domain.Transaction{TerminalID: "T-01", PaymentMethod: "cash", SubtotalCents: 5000, TotalCents: 5000, Status: domain.TxStatusPaid})
	tally.Add(&domain.Transaction{TerminalID: "T-01", PaymentMethod: "cash", SubtotalCents: 9000, TotalCents: 9000, Status: domain.TxStatusVoided})

	report := tally.Report()
	assert.Equal(t, "br-pusat", report.BranchID)
	assert.Equal(t, int64(2), report.Transactions)
	assert.Equal(t, int64(16100), report.NetSalesCents)
	assert.Equal(t, int64(2500), report.EstimatedMarginCents)
	require.Len(t, report.ByPayment, 2)
	assert.Equal(t, "cash", report.ByPayment[0].PaymentMethod)
	require.Len(t, report.ByTerminal, 2)
	assert.Equal(t, "T-01", report.ByTerminal[0].TerminalID)
	assert.Equal(t, int64(5000), report.ByTerminal[0].TotalCents)
}
