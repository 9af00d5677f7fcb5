// Package checkout prices POS carts and tallies sales. Both repositories run
// it under their own lock or transaction so the numbers agree across stores.
package checkout

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
)

const PaymentCash = "cash"

// PriceLines snapshots catalog prices onto each cart line. Duplicate SKUs are
// merged so stock is checked against the combined quantity.
func PriceLines(items []domain.TransactionLine, lookup func(sku string) (domain.Product, bool)) ([]domain.TransactionLine, int64, error) {
	index := make(map[string]int, len(items))
	lines := make([]domain.TransactionLine, 0, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if err := reconcile.CheckPositiveQty("qty", item.Qty); err != nil {
			return nil, 0, fmt.Errorf("sku %s: %w", sku, err)
		}
		if pos, ok := index[sku]; ok {
			lines[pos].Qty = lines[pos].Qty.Add(item.Qty)
			continue
		}
		product, ok := lookup(sku)
		if !ok {
			return nil, 0, fmt.Errorf("%w: sku %s unavailable", store.ErrNotFound, sku)
		}
		index[sku] = len(lines)
		lines = append(lines, domain.TransactionLine{
			SKU:            sku,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			MarginRate:     product.MarginRate,
		})
	}

	subtotal := int64(0)
	for i := range lines {
		lines[i].LineTotalCents = reconcile.ValueCents(lines[i].Qty, lines[i].UnitPriceCents)
		subtotal += lines[i].LineTotalCents
	}
	return lines, subtotal, nil
}

// Settle fills the money fields of tx from the cart subtotal.
func Settle(tx *domain.Transaction, subtotal int64) error {
	if tx.DiscountCents < 0 || tx.DiscountCents > subtotal {
		return fmt.Errorf("%w: discount out of range", store.ErrInvalidTransaction)
	}
	if tx.TaxRatePercent < 0 || tx.TaxRatePercent > 100 {
		return fmt.Errorf("%w: tax rate out of range", store.ErrInvalidTransaction)
	}

	taxBase := subtotal - tx.DiscountCents
	tx.SubtotalCents = subtotal
	tx.TaxCents = decimal.NewFromInt(taxBase).Mul(decimal.NewFromFloat(tx.TaxRatePercent)).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	tx.TotalCents = taxBase + tx.TaxCents

	if tx.PaymentMethod == "" {
		tx.PaymentMethod = PaymentCash
	}
	if tx.PaymentMethod == PaymentCash {
		if tx.CashReceivedCents < tx.TotalCents {
			return fmt.Errorf("%w: cash received is less than total", store.ErrInvalidTransaction)
		}
		tx.ChangeCents = tx.CashReceivedCents - tx.TotalCents
		return nil
	}
	if strings.TrimSpace(tx.PaymentReference) == "" {
		return fmt.Errorf("%w: %s payment requires a reference", store.ErrInvalidTransaction, tx.PaymentMethod)
	}
	tx.CashReceivedCents = 0
	tx.ChangeCents = 0
	return nil
}

// MarginCents estimates the margin earned on one line.
func MarginCents(line domain.TransactionLine) int64 {
	return decimal.NewFromInt(line.LineTotalCents).Mul(decimal.NewFromFloat(line.MarginRate)).Round(0).IntPart()
}

// DailyTally accumulates paid transactions into a DailyReport.
type DailyTally struct {
	report     domain.DailyReport
	byPayment  map[string]*domain.DailyReportPayment
	byTerminal map[string]*domain.DailyReportTerminal
}

func NewDailyTally(branchID string) *DailyTally {
	return &DailyTally{
		report:     domain.DailyReport{BranchID: branchID},
		byPayment:  map[string]*domain.DailyReportPayment{},
		byTerminal: map[string]*domain.DailyReportTerminal{},
	}
}

// Add counts tx unless it was voided.
func (d *DailyTally) Add(tx *domain.Transaction) {
	if tx.Status == domain.TxStatusVoided {
		return
	}
	d.report.Transactions++
	d.report.GrossSalesCents += tx.SubtotalCents
	d.report.DiscountCents += tx.DiscountCents
	d.report.TaxCents += tx.TaxCents
	d.report.NetSalesCents += tx.TotalCents
	for _, item := range tx.Items {
		d.report.EstimatedMarginCents += MarginCents(item)
	}

	payment := d.byPayment[tx.PaymentMethod]
	if payment == nil {
		payment = &domain.DailyReportPayment{PaymentMethod: tx.PaymentMethod}
		d.byPayment[tx.PaymentMethod] = payment
	}
	payment.Transactions++
	payment.TotalCents += tx.TotalCents

	terminal := d.byTerminal[tx.TerminalID]
	if terminal == nil {
		terminal = &domain.DailyReportTerminal{TerminalID: tx.TerminalID}
		d.byTerminal[tx.TerminalID] = terminal
	}
	terminal.Transactions++
	terminal.TotalCents += tx.TotalCents
}

func (d *DailyTally) Report() domain.DailyReport {
	report := d.report
	report.ByPayment = make([]domain.DailyReportPayment, 0, len(d.byPayment))
	for _, entry := range d.byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	report.ByTerminal = make([]domain.DailyReportTerminal, 0, len(d.byTerminal))
	for _, entry := range d.byTerminal {
		report.ByTerminal = append(report.ByTerminal, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return strings.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	slices.SortFunc(report.ByTerminal, func(a, b domain.DailyReportTerminal) int {
		return strings.Compare(a.TerminalID, b.TerminalID)
	})
	return report
}
