package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"grocerp/backend/internal/checkout"
	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

type transactionRow struct {
	ID                string       `db:"id"`
	BranchID          string       `db:"branch_id"`
	TerminalID        string       `db:"terminal_id"`
	ShiftID           string       `db:"shift_id"`
	IdempotencyKey    string       `db:"idempotency_key"`
	PaymentMethod     string       `db:"payment_method"`
	PaymentReference  string       `db:"payment_reference"`
	SubtotalCents     int64        `db:"subtotal_cents"`
	DiscountCents     int64        `db:"discount_cents"`
	TaxRatePercent    float64      `db:"tax_rate_percent"`
	TaxCents          int64        `db:"tax_cents"`
	TotalCents        int64        `db:"total_cents"`
	CashReceivedCents int64        `db:"cash_received_cents"`
	ChangeCents       int64        `db:"change_cents"`
	Status            string       `db:"status"`
	VoidReason        string       `db:"void_reason"`
	VoidedAt          sql.NullTime `db:"voided_at"`
	CreatedAt         time.Time    `db:"created_at"`
}

func (r transactionRow) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:                r.ID,
		BranchID:          r.BranchID,
		TerminalID:        r.TerminalID,
		ShiftID:           r.ShiftID,
		IdempotencyKey:    r.IdempotencyKey,
		PaymentMethod:     r.PaymentMethod,
		PaymentReference:  r.PaymentReference,
		SubtotalCents:     r.SubtotalCents,
		DiscountCents:     r.DiscountCents,
		TaxRatePercent:    r.TaxRatePercent,
		TaxCents:          r.TaxCents,
		TotalCents:        r.TotalCents,
		CashReceivedCents: r.CashReceivedCents,
		ChangeCents:       r.ChangeCents,
		Status:            r.Status,
		VoidReason:        r.VoidReason,
		CreatedAt:         r.CreatedAt.UTC(),
	}
	if r.VoidedAt.Valid {
		at := r.VoidedAt.Time.UTC()
		tx.VoidedAt = &at
	}
	return tx
}

type transactionItemRow struct {
	TransactionID  string          `db:"transaction_id"`
	SKU            string          `db:"sku"`
	Qty            decimal.Decimal `db:"qty"`
	UnitPriceCents int64           `db:"unit_price_cents"`
	LineTotalCents int64           `db:"line_total_cents"`
	MarginRate     float64         `db:"margin_rate"`
}

const transactionColumns = `id, branch_id, terminal_id, COALESCE(shift_id, '') AS shift_id, idempotency_key,
	payment_method, payment_reference, subtotal_cents, discount_cents,
	tax_rate_percent, tax_cents, total_cents, cash_received_cents, change_cents,
	status, void_reason, voided_at, created_at`

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "idempotency_key", key)
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "id", id)
}

func findTransaction(ctx context.Context, q sqlx.QueryerContext, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var row transactionRow
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s = $1`, transactionColumns, column)
	if err := sqlx.GetContext(ctx, q, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx := row.toDomain()

	items, err := loadTransactionItems(ctx, q, []string{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	if tx.Items == nil {
		tx.Items = []domain.TransactionLine{}
	}
	return tx, nil
}

func loadTransactionItems(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string][]domain.TransactionLine, error) {
	rows := make([]transactionItemRow, 0, 8*len(ids))
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT transaction_id, sku, qty, unit_price_cents, line_total_cents, margin_rate
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]domain.TransactionLine, len(ids))
	for _, row := range rows {
		grouped[row.TransactionID] = append(grouped[row.TransactionID], domain.TransactionLine{
			SKU:            row.SKU,
			Qty:            row.Qty,
			UnitPriceCents: row.UnitPriceCents,
			LineTotalCents: row.LineTotalCents,
			MarginRate:     row.MarginRate,
		})
	}
	return grouped, nil
}

// CreateCheckout prices the cart from the catalog, settles payment and
// decrements stock in one serializable transaction. A replayed idempotency
// key returns the first transaction untouched.
func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.IdempotencyKey == "" {
		return nil, store.ErrInvalidTransaction
	}
	if existing, err := s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	var created domain.Transaction
	err := s.inTx(ctx, func(pgTx *sqlx.Tx) error {
		if err := branchExists(ctx, pgTx, tx.BranchID); err != nil {
			return err
		}

		skuSet := make(map[string]struct{}, len(tx.Items))
		for _, item := range tx.Items {
			skuSet[strings.ToUpper(strings.TrimSpace(item.SKU))] = struct{}{}
		}
		products := make([]domain.Product, 0, len(skuSet))
		err := pgTx.SelectContext(ctx, &products, `
			SELECT `+productColumns+`
			FROM products
			WHERE sku = ANY($1) AND active = true
		`, sortedKeys(skuSet))
		if err != nil {
			return err
		}
		catalog := make(map[string]domain.Product, len(products))
		for _, p := range products {
			catalog[p.SKU] = p
		}

		created = tx
		lines, subtotal, err := checkout.PriceLines(created.Items, func(sku string) (domain.Product, bool) {
			p, ok := catalog[sku]
			return p, ok
		})
		if err != nil {
			return err
		}
		if err := checkout.Settle(&created, subtotal); err != nil {
			return err
		}
		if created.ID == "" {
			created.ID = xid.New("tx")
		}
		if created.CreatedAt.IsZero() {
			created.CreatedAt = time.Now().UTC()
		}
		if created.Status == "" {
			created.Status = domain.TxStatusPaid
		}
		created.Items = lines

		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, branch_id, terminal_id, shift_id, idempotency_key, payment_method, payment_reference,
				subtotal_cents, discount_cents, tax_rate_percent, tax_cents, total_cents,
				cash_received_cents, change_cents, status, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`,
			created.ID, created.BranchID, created.TerminalID, nullIfEmpty(created.ShiftID), created.IdempotencyKey,
			created.PaymentMethod, created.PaymentReference, created.SubtotalCents, created.DiscountCents,
			created.TaxRatePercent, created.TaxCents, created.TotalCents, created.CashReceivedCents,
			created.ChangeCents, created.Status, created.CreatedAt,
		)
		if err != nil {
			return err
		}

		deductions := make([]domain.StockAdjustment, 0, len(lines))
		for _, line := range lines {
			_, err := pgTx.ExecContext(ctx, `
				INSERT INTO transaction_items (transaction_id, sku, qty, unit_price_cents, line_total_cents, margin_rate)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, created.ID, line.SKU, line.Qty, line.UnitPriceCents, line.LineTotalCents, line.MarginRate)
			if err != nil {
				return err
			}
			deductions = append(deductions, domain.StockAdjustment{SKU: line.SKU, Qty: line.Qty.Neg()})
		}
		_, err = applyStockTx(ctx, pgTx, created.BranchID, domain.MovementSale, "transaction", created.ID, deductions, created.CreatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey)
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	err := s.inTx(ctx, func(pgTx *sqlx.Tx) error {
		var current struct {
			BranchID string `db:"branch_id"`
			Status   string `db:"status"`
		}
		err := pgTx.GetContext(ctx, &current, `
			SELECT branch_id, status
			FROM transactions
			WHERE id = $1
			FOR UPDATE
		`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if current.Status != domain.TxStatusPaid {
			return fmt.Errorf("%w: transaction is %s", store.ErrConflict, current.Status)
		}

		items, err := loadTransactionItems(ctx, pgTx, []string{id})
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $2, void_reason = $3, voided_at = $4
			WHERE id = $1
		`, id, domain.TxStatusVoided, reason, at)
		if err != nil {
			return err
		}

		restock := make([]domain.StockAdjustment, 0, len(items[id]))
		for _, item := range items[id] {
			restock = append(restock, domain.StockAdjustment{SKU: item.SKU, Qty: item.Qty})
		}
		_, err = applyStockTx(ctx, pgTx, current.BranchID, domain.MovementSaleVoid, "transaction", id, restock, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.FindTransactionByID(ctx, id)
}

func (s *Store) GetDailyReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	rows := make([]transactionRow, 0, 128)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1 = '' OR branch_id = $1) AND created_at >= $2 AND created_at < $3 AND status = $4
	`, branchID, from, to, domain.TxStatusPaid)
	if err != nil {
		return domain.DailyReport{}, err
	}

	tally := checkout.NewDailyTally(branchID)
	if len(rows) == 0 {
		return tally.Report(), nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := loadTransactionItems(ctx, s.db, ids)
	if err != nil {
		return domain.DailyReport{}, err
	}
	for _, row := range rows {
		tx := row.toDomain()
		tx.Items = items[tx.ID]
		tally.Add(tx)
	}
	return tally.Report(), nil
}
