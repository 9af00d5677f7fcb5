package domain

import "github.com/shopspring/decimal"

type DailyReportPayment struct {
	PaymentMethod string `json:"payment_method"`
	Transactions  int64  `json:"transactions"`
	TotalCents    int64  `json:"total_cents"`
}

type DailyReportTerminal struct {
	TerminalID   string `json:"terminal_id"`
	Transactions int64  `json:"transactions"`
	TotalCents   int64  `json:"total_cents"`
}

type DailyReport struct {
	BranchID             string                `json:"branch_id"`
	Date                 string                `json:"date"`
	Transactions         int64                 `json:"transactions"`
	GrossSalesCents      int64                 `json:"gross_sales_cents"`
	DiscountCents        int64                 `json:"discount_cents"`
	TaxCents             int64                 `json:"tax_cents"`
	NetSalesCents        int64                 `json:"net_sales_cents"`
	EstimatedMarginCents int64                 `json:"estimated_margin_cents"`
	ByPayment            []DailyReportPayment  `json:"by_payment"`
	ByTerminal           []DailyReportTerminal `json:"by_terminal"`
}

type LossReportReason struct {
	Reason     string          `json:"reason"`
	Entries    int             `json:"entries"`
	Qty        decimal.Decimal `json:"qty"`
	ValueCents int64           `json:"value_cents"`
}

type LossReportSKU struct {
	SKU        string          `json:"sku"`
	Qty        decimal.Decimal `json:"qty"`
	ValueCents int64           `json:"value_cents"`
}

type LossReport struct {
	BranchID        string             `json:"branch_id,omitempty"`
	From            string             `json:"from"`
	To              string             `json:"to"`
	TotalValueCents int64              `json:"total_value_cents"`
	ByReason        []LossReportReason `json:"by_reason"`
	BySKU           []LossReportSKU    `json:"by_sku"`
}

// Rates are percentages rounded to two places.
type Rates struct {
	SpoilagePct decimal.Decimal `json:"spoilage_pct"`
	DamagePct   decimal.Decimal `json:"damage_pct"`
	UsablePct   decimal.Decimal `json:"usable_pct"`
	FillPct     decimal.Decimal `json:"fill_pct"`
}

type ReconciliationRow struct {
	PurchaseOrderID    string          `json:"purchase_order_id"`
	BranchID           string          `json:"branch_id"`
	SupplierID         string          `json:"supplier_id,omitempty"`
	Status             string          `json:"status"`
	Ordered            decimal.Decimal `json:"ordered"`
	Received           decimal.Decimal `json:"received"`
	Spoiled            decimal.Decimal `json:"spoiled"`
	Damaged            decimal.Decimal `json:"damaged"`
	Usable             decimal.Decimal `json:"usable"`
	Rates              Rates           `json:"rates"`
	ReceivedValueCents int64           `json:"received_value_cents"`
	LossValueCents     int64           `json:"loss_value_cents"`
}

type PurchaseReconciliationReport struct {
	BranchID string              `json:"branch_id,omitempty"`
	From     string              `json:"from"`
	To       string              `json:"to"`
	Rows     []ReconciliationRow `json:"rows"`
	Totals   ReconciliationRow   `json:"totals"`
}

type StockValuationLine struct {
	SKU           string          `json:"sku"`
	Qty           decimal.Decimal `json:"qty"`
	UnitCostCents int64           `json:"unit_cost_cents"`
	ValueCents    int64           `json:"value_cents"`
}

type StockValuation struct {
	BranchID        string               `json:"branch_id"`
	TotalValueCents int64                `json:"total_value_cents"`
	Lines           []StockValuationLine `json:"lines"`
}

type DashboardSummary struct {
	Scope               string `json:"scope"`
	Role                string `json:"role"`
	RequestedPOs        int    `json:"requested_purchase_orders"`
	OpenPOs             int    `json:"open_purchase_orders"`
	TransfersInTransit  int    `json:"transfers_in_transit"`
	OpenDiscrepancies   int    `json:"open_discrepancies"`
	TodayNetSalesCents  int64  `json:"today_net_sales_cents"`
	MonthLossValueCents int64  `json:"month_loss_value_cents"`
	LowStockSKUs        int    `json:"low_stock_skus"`
	UnreadNotifications int    `json:"unread_notifications"`
	GeneratedAt         string `json:"generated_at"`
}
