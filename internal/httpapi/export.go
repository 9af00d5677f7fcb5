package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"grocerp/backend/internal/domain"
)

var idPrinter = message.NewPrinter(language.Indonesian)

// rupiah renders an amount with Indonesian digit grouping, e.g. Rp16.000.
func rupiah(amount int64) string {
	return idPrinter.Sprintf("Rp%d", amount)
}

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(body)
}

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dailyReportToCSV(report domain.DailyReport) ([]byte, error) {
	itoa := func(v int64) string { return strconv.FormatInt(v, 10) }
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.Date},
		{"summary", "branch_id", report.BranchID},
		{"summary", "transactions", itoa(report.Transactions)},
		{"summary", "gross_sales_cents", itoa(report.GrossSalesCents)},
		{"summary", "discount_cents", itoa(report.DiscountCents)},
		{"summary", "tax_cents", itoa(report.TaxCents)},
		{"summary", "net_sales_cents", itoa(report.NetSalesCents)},
		{"summary", "estimated_margin_cents", itoa(report.EstimatedMarginCents)},
	}
	for _, payment := range report.ByPayment {
		rows = append(rows,
			[]string{"payment", payment.PaymentMethod + "_transactions", itoa(payment.Transactions)},
			[]string{"payment", payment.PaymentMethod + "_total_cents", itoa(payment.TotalCents)},
		)
	}
	for _, terminal := range report.ByTerminal {
		rows = append(rows,
			[]string{"terminal", terminal.TerminalID + "_transactions", itoa(terminal.Transactions)},
			[]string{"terminal", terminal.TerminalID + "_total_cents", itoa(terminal.TotalCents)},
		)
	}
	return encodeCSV(rows)
}

func lossReportToCSV(report domain.LossReport) ([]byte, error) {
	rows := [][]string{{"section", "key", "qty", "value_cents"}}
	for _, r := range report.ByReason {
		rows = append(rows, []string{"reason", r.Reason, r.Qty.String(), strconv.FormatInt(r.ValueCents, 10)})
	}
	for _, s := range report.BySKU {
		rows = append(rows, []string{"sku", s.SKU, s.Qty.String(), strconv.FormatInt(s.ValueCents, 10)})
	}
	rows = append(rows, []string{"total", "", "", strconv.FormatInt(report.TotalValueCents, 10)})
	return encodeCSV(rows)
}

func reconciliationToCSV(report domain.PurchaseReconciliationReport) ([]byte, error) {
	rows := [][]string{{
		"purchase_order_id", "branch_id", "supplier_id", "status",
		"ordered", "received", "spoiled", "damaged", "usable",
		"fill_pct", "spoilage_pct", "damage_pct", "usable_pct",
		"received_value_cents", "loss_value_cents",
	}}
	row := func(r domain.ReconciliationRow) []string {
		return []string{
			r.PurchaseOrderID, r.BranchID, r.SupplierID, r.Status,
			r.Ordered.String(), r.Received.String(), r.Spoiled.String(), r.Damaged.String(), r.Usable.String(),
			r.Rates.FillPct.String(), r.Rates.SpoilagePct.String(), r.Rates.DamagePct.String(), r.Rates.UsablePct.String(),
			strconv.FormatInt(r.ReceivedValueCents, 10), strconv.FormatInt(r.LossValueCents, 10),
		}
	}
	for _, r := range report.Rows {
		rows = append(rows, row(r))
	}
	totals := report.Totals
	totals.PurchaseOrderID = "TOTAL"
	rows = append(rows, row(totals))
	return encodeCSV(rows)
}

// dailyReportHTMLTmpl auto-escapes every field, terminal ids included.
var dailyReportHTMLTmpl = template.Must(template.New("daily-report").Funcs(template.FuncMap{
	"rupiah": rupiah,
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Laporan Harian {{.Date}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Laporan Harian {{.Date}}</h2>
  <p>Cabang: {{.BranchID}}</p>
  <p>Transaksi: {{.Transactions}}</p>
  <p>Bruto: {{rupiah .GrossSalesCents}} | Diskon: {{rupiah .DiscountCents}} | Pajak: {{rupiah .TaxCents}} | Neto: {{rupiah .NetSalesCents}} | Margin: {{rupiah .EstimatedMarginCents}}</p>

  <h3>Per Pembayaran</h3>
  <table>
    <thead><tr><th>Pembayaran</th><th>Transaksi</th><th>Total</th></tr></thead>
    <tbody>{{range .ByPayment}}<tr><td>{{.PaymentMethod}}</td><td style="text-align:right;">{{.Transactions}}</td><td style="text-align:right;">{{rupiah .TotalCents}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Per Terminal</h3>
  <table>
    <thead><tr><th>Terminal</th><th>Transaksi</th><th>Total</th></tr></thead>
    <tbody>{{range .ByTerminal}}<tr><td>{{.TerminalID}}</td><td style="text-align:right;">{{.Transactions}}</td><td style="text-align:right;">{{rupiah .TotalCents}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func dailyReportToPrintableHTML(report domain.DailyReport) string {
	var buf bytes.Buffer
	if err := dailyReportHTMLTmpl.Execute(&buf, report); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}
