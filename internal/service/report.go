package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
)

func (s *Service) DailyReport(ctx context.Context, branchID string, date string) (domain.DailyReport, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.DailyReport{}, err
	}
	branchID, err := s.branchFor(ctx, branchID)
	if err != nil {
		return domain.DailyReport{}, err
	}
	day, err := s.parseDay(date)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report, err := s.repo.GetDailyReport(ctx, branchID, day, day.Add(24*time.Hour))
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.BranchID = branchID
	report.Date = day.Format(time.DateOnly)
	return report, nil
}

// LossReport totals written-off stock for the range, by reason and by SKU.
func (s *Service) LossReport(ctx context.Context, branchID string, from string, to string) (domain.LossReport, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.LossReport{}, err
	}
	branchID, err := s.scopeFor(ctx, branchID)
	if err != nil {
		return domain.LossReport{}, err
	}
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return domain.LossReport{}, err
	}

	losses, err := s.repo.ListLossEntries(ctx, branchID, start, end)
	if err != nil {
		return domain.LossReport{}, err
	}
	report := summarizeLosses(losses)
	report.BranchID = branchID
	report.From = start.Format(time.DateOnly)
	report.To = end.Add(-24 * time.Hour).Format(time.DateOnly)
	return report, nil
}

func summarizeLosses(losses []domain.LossEntry) domain.LossReport {
	byReason := make(map[string]*domain.LossReportReason)
	bySKU := make(map[string]*domain.LossReportSKU)
	report := domain.LossReport{}
	for _, l := range losses {
		report.TotalValueCents += l.ValueCents

		r, ok := byReason[l.Reason]
		if !ok {
			r = &domain.LossReportReason{Reason: l.Reason}
			byReason[l.Reason] = r
		}
		r.Entries++
		r.Qty = r.Qty.Add(l.Qty)
		r.ValueCents += l.ValueCents

		k, ok := bySKU[l.SKU]
		if !ok {
			k = &domain.LossReportSKU{SKU: l.SKU}
			bySKU[l.SKU] = k
		}
		k.Qty = k.Qty.Add(l.Qty)
		k.ValueCents += l.ValueCents
	}

	report.ByReason = make([]domain.LossReportReason, 0, len(byReason))
	for _, r := range byReason {
		report.ByReason = append(report.ByReason, *r)
	}
	slices.SortFunc(report.ByReason, func(a, b domain.LossReportReason) int {
		return cmp.Compare(a.Reason, b.Reason)
	})
	report.BySKU = make([]domain.LossReportSKU, 0, len(bySKU))
	for _, k := range bySKU {
		report.BySKU = append(report.BySKU, *k)
	}
	slices.SortFunc(report.BySKU, func(a, b domain.LossReportSKU) int {
		if c := cmp.Compare(b.ValueCents, a.ValueCents); c != 0 {
			return c
		}
		return cmp.Compare(a.SKU, b.SKU)
	})
	return report
}

// PurchaseReconciliationReport lists every order created in the range with
// its aggregate counters and rates. Cancelled orders are left out.
func (s *Service) PurchaseReconciliationReport(ctx context.Context, branchID string, from string, to string) (domain.PurchaseReconciliationReport, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.PurchaseReconciliationReport{}, err
	}
	branchID, err := s.scopeFor(ctx, branchID)
	if err != nil {
		return domain.PurchaseReconciliationReport{}, err
	}
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return domain.PurchaseReconciliationReport{}, err
	}

	orders, err := s.repo.ListPurchaseOrders(ctx, domain.PurchaseOrderFilter{BranchID: branchID, From: start, To: end})
	if err != nil {
		return domain.PurchaseReconciliationReport{}, err
	}
	report := buildReconciliationReport(orders)
	report.BranchID = branchID
	report.From = start.Format(time.DateOnly)
	report.To = end.Add(-24 * time.Hour).Format(time.DateOnly)
	return report, nil
}

func buildReconciliationReport(orders []domain.PurchaseOrder) domain.PurchaseReconciliationReport {
	report := domain.PurchaseReconciliationReport{Rows: make([]domain.ReconciliationRow, 0, len(orders))}
	var total reconcile.Counters
	for _, po := range orders {
		if po.Status == domain.POStatusCancelled {
			continue
		}
		counters := reconcile.Totals(po.Items)
		row := reconciliationRow(counters)
		row.PurchaseOrderID = po.ID
		row.BranchID = po.BranchID
		row.SupplierID = po.SupplierID
		row.Status = po.Status
		for _, item := range po.Items {
			row.ReceivedValueCents += reconcile.ValueCents(item.Received, item.UnitCostCents)
			row.LossValueCents += reconcile.ValueCents(item.Spoiled.Add(item.Damaged), item.UnitCostCents)
		}
		report.Rows = append(report.Rows, row)

		total = total.Plus(counters)
		report.Totals.ReceivedValueCents += row.ReceivedValueCents
		report.Totals.LossValueCents += row.LossValueCents
	}

	totals := reconciliationRow(total)
	totals.ReceivedValueCents = report.Totals.ReceivedValueCents
	totals.LossValueCents = report.Totals.LossValueCents
	report.Totals = totals
	return report
}

func reconciliationRow(c reconcile.Counters) domain.ReconciliationRow {
	return domain.ReconciliationRow{
		Ordered:  c.Ordered,
		Received: c.Received,
		Spoiled:  c.Spoiled,
		Damaged:  c.Damaged,
		Usable:   c.Usable,
		Rates:    c.Rates(),
	}
}

func (s *Service) StockValuation(ctx context.Context, branchID string) (domain.StockValuation, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.StockValuation{}, err
	}
	branchID, err := s.branchFor(ctx, branchID)
	if err != nil {
		return domain.StockValuation{}, err
	}
	stocks, err := s.repo.ListBranchStock(ctx, branchID)
	if err != nil {
		return domain.StockValuation{}, err
	}

	valuation := domain.StockValuation{BranchID: branchID, Lines: make([]domain.StockValuationLine, 0, len(stocks))}
	for _, st := range stocks {
		value := reconcile.ValueCents(st.Qty, st.UnitCostCents)
		valuation.Lines = append(valuation.Lines, domain.StockValuationLine{
			SKU:           st.SKU,
			Qty:           st.Qty,
			UnitCostCents: st.UnitCostCents,
			ValueCents:    value,
		})
		valuation.TotalValueCents += value
	}
	return valuation, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	branchID, err := s.scopeFor(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, branchID, day, day.Add(24*time.Hour), limit)
}

func lowStockCount(stocks []domain.BranchStock, threshold decimal.Decimal) int {
	n := 0
	for _, st := range stocks {
		if st.Qty.LessThan(threshold) {
			n++
		}
	}
	return n
}
