package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// Serializable transactions may be aborted by concurrent writers; the whole
// closure is replayed this many times before the error is returned.
const maxTxAttempts = 3

type Store struct {
	db *sqlx.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Tests use it with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	branch.Code = strings.ToUpper(strings.TrimSpace(branch.Code))
	branch.Name = strings.TrimSpace(branch.Name)
	if branch.Code == "" || branch.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO branches (id, code, name, address, active, created_at)
		VALUES (:id, :code, :name, :address, :active, :created_at)
	`, branch)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: branch code %s already exists", store.ErrConflict, branch.Code)
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.GetContext(ctx, &branch, `
		SELECT id, code, name, address, active, created_at
		FROM branches
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context, includeInactive bool) ([]domain.Branch, error) {
	branches := make([]domain.Branch, 0, 8)
	err := s.db.SelectContext(ctx, &branches, `
		SELECT id, code, name, address, active, created_at
		FROM branches
		WHERE $1 OR active
		ORDER BY code
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	var updated domain.Branch
	err := s.db.GetContext(ctx, &updated, `
		UPDATE branches
		SET name = $2, address = $3, active = $4
		WHERE id = $1
		RETURNING id, code, name, address, active, created_at
	`, branch.ID, strings.TrimSpace(branch.Name), branch.Address, branch.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

const productColumns = `sku, name, category, unit, price_cents, margin_rate, active`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	product.Active = true

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (sku, name, category, unit, price_cents, margin_rate, active, created_at, updated_at)
		VALUES (:sku, :name, :category, :unit, :price_cents, :margin_rate, :active, now(), now())
	`, product)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit = $4, price_cents = $5, margin_rate = $6, active = $7, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.Unit, product.PriceCents, product.MarginRate, product.Active)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	products := make([]domain.Product, 0, len(skus))
	err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = ANY($1) AND active = true
	`, skus)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.SKU] = p
	}
	return result, nil
}

func (s *Store) GetStockMap(ctx context.Context, branchID string, skus []string) (map[string]decimal.Decimal, error) {
	stockMap := make(map[string]decimal.Decimal, len(skus))
	for _, sku := range skus {
		stockMap[sku] = decimal.Zero
	}
	if len(skus) == 0 {
		return stockMap, nil
	}

	rows := make([]domain.BranchStock, 0, len(skus))
	err := s.db.SelectContext(ctx, &rows, `
		SELECT branch_id, sku, qty, unit_cost_cents, updated_at
		FROM branch_stocks
		WHERE branch_id = $1 AND sku = ANY($2)
	`, branchID, skus)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stockMap[row.SKU] = row.Qty
	}
	return stockMap, nil
}

func (s *Store) ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error) {
	if err := branchExists(ctx, s.db, branchID); err != nil {
		return nil, err
	}
	rows := make([]domain.BranchStock, 0, 64)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT branch_id, sku, qty, unit_cost_cents, updated_at
		FROM branch_stocks
		WHERE branch_id = $1
		ORDER BY sku
	`, branchID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) AdjustStock(ctx context.Context, branchID string, kind string, sourceType string, sourceID string, adjustments []domain.StockAdjustment) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		movements, err = applyStockTx(ctx, tx, branchID, kind, sourceType, sourceID, adjustments, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ApplyStockCount(ctx context.Context, branchID string, sourceID string, counts []domain.StockOpnameItem) ([]domain.StockOpnameAdjustment, error) {
	var result []domain.StockOpnameAdjustment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := branchExists(ctx, tx, branchID); err != nil {
			return err
		}

		skus := make([]string, 0, len(counts))
		seen := make(map[string]struct{}, len(counts))
		for _, count := range counts {
			sku := strings.ToUpper(strings.TrimSpace(count.SKU))
			if _, dup := seen[sku]; dup {
				return fmt.Errorf("%w: sku %s counted twice", store.ErrInvalidTransaction, sku)
			}
			seen[sku] = struct{}{}
			if err := reconcile.CheckQty("counted qty", count.CountedQty); err != nil {
				return err
			}
			skus = append(skus, sku)
		}
		if err := productsExist(ctx, tx, skus); err != nil {
			return err
		}
		current, err := lockBalances(ctx, tx, branchID, skus)
		if err != nil {
			return err
		}

		result = make([]domain.StockOpnameAdjustment, 0, len(counts))
		deltas := make([]domain.StockAdjustment, 0, len(counts))
		for i, count := range counts {
			system := current[skus[i]].Qty
			delta := count.CountedQty.Sub(system)
			result = append(result, domain.StockOpnameAdjustment{
				SKU:        skus[i],
				SystemQty:  system,
				CountedQty: count.CountedQty,
				DeltaQty:   delta,
			})
			if !delta.IsZero() {
				deltas = append(deltas, domain.StockAdjustment{SKU: skus[i], Qty: delta})
			}
		}
		_, err = applyStockTx(ctx, tx, branchID, domain.MovementOpname, "stock_opname", sourceID, deltas, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStockMovements(ctx context.Context, branchID string, sku string, limit int) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, 64)
	err := s.db.SelectContext(ctx, &movements, `
		SELECT id, branch_id, sku, kind, qty, balance_after, source_type, source_id, created_at
		FROM stock_movements
		WHERE ($1 = '' OR branch_id = $1) AND ($2 = '' OR sku = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`, branchID, sku, limit)
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ListLossEntries(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.LossEntry, error) {
	losses := make([]domain.LossEntry, 0, 64)
	err := s.db.SelectContext(ctx, &losses, `
		SELECT id, branch_id, sku, reason, qty, unit_cost_cents, value_cents, source_type, source_id, created_at
		FROM loss_entries
		WHERE ($1 = '' OR branch_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, branchID, from, to)
	if err != nil {
		return nil, err
	}
	return losses, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :branch_id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	logs := make([]domain.AuditLog, 0, 64)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($4::int, 0)
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

type shiftRow struct {
	ID                string       `db:"id"`
	BranchID          string       `db:"branch_id"`
	TerminalID        string       `db:"terminal_id"`
	CashierName       string       `db:"cashier_name"`
	OpeningFloatCents int64        `db:"opening_float_cents"`
	ClosingCashCents  int64        `db:"closing_cash_cents"`
	Status            string       `db:"status"`
	OpenedAt          time.Time    `db:"opened_at"`
	ClosedAt          sql.NullTime `db:"closed_at"`
}

func (r shiftRow) toDomain() *domain.Shift {
	shift := &domain.Shift{
		ID:                r.ID,
		BranchID:          r.BranchID,
		TerminalID:        r.TerminalID,
		CashierName:       r.CashierName,
		OpeningFloatCents: r.OpeningFloatCents,
		ClosingCashCents:  r.ClosingCashCents,
		Status:            r.Status,
		OpenedAt:          r.OpenedAt.UTC(),
	}
	if r.ClosedAt.Valid {
		at := r.ClosedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return shift
}

const shiftColumns = `id, branch_id, terminal_id, cashier_name, opening_float_cents, closing_cash_cents, status, opened_at, closed_at`

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.BranchID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCashCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, branch_id, terminal_id, cashier_name, opening_float_cents, closing_cash_cents, status, opened_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7)
	`, shift.ID, shift.BranchID, shift.TerminalID, shift.CashierName, shift.OpeningFloatCents, shift.Status, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: terminal %s already has an open shift", store.ErrConflict, shift.TerminalID)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, shift.BranchID)
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, branchID string, terminalID string, closingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(branchID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	var row shiftRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE shifts
		SET status = $3, closing_cash_cents = $4, closed_at = $5
		WHERE branch_id = $1 AND terminal_id = $2 AND status = $6
		RETURNING `+shiftColumns,
		branchID, terminalID, domain.ShiftStatusClosed, closingCashCents, closedAt, domain.ShiftStatusOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetActiveShift(ctx context.Context, branchID string, terminalID string) (*domain.Shift, error) {
	var row shiftRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE branch_id = $1 AND terminal_id = $2 AND status = $3
	`, branchID, terminalID, domain.ShiftStatusOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.Kind == "" || n.Title == "" {
		return store.ErrInvalidTransaction
	}
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, branch_id, role, kind, title, body, entity_type, entity_id, read_at, created_at)
		VALUES (:id, :branch_id, :role, :kind, :title, :body, :entity_type, :entity_id, :read_at, :created_at)
	`, n)
	return err
}

// ListNotifications treats an empty branch or role on either side as a
// wildcard, matching the in-memory store.
func (s *Store) ListNotifications(ctx context.Context, branchID string, role string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	notifications := make([]domain.Notification, 0, 32)
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, branch_id, role, kind, title, body, entity_type, entity_id, read_at, created_at
		FROM notifications
		WHERE ($1 = '' OR branch_id = '' OR branch_id = $1)
			AND ($2 = '' OR role = '' OR role = $2)
			AND (NOT $3 OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($4::int, 0)
	`, branchID, role, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.BranchID), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: branch %s", store.ErrNotFound, user.BranchID)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, password_hash, role, COALESCE(branch_id, '') AS branch_id, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// applyStockTx is the only writer of branch_stocks. It locks the touched
// balances, replays the batch through reconcile.PlanStock and writes one
// movement per non-zero adjustment.
func applyStockTx(ctx context.Context, tx *sqlx.Tx, branchID string, kind string, sourceType string, sourceID string, adjustments []domain.StockAdjustment, at time.Time) ([]domain.StockMovement, error) {
	if len(adjustments) == 0 {
		return []domain.StockMovement{}, nil
	}
	if err := branchExists(ctx, tx, branchID); err != nil {
		return nil, err
	}
	skus := adjustmentSKUs(adjustments)
	if err := productsExist(ctx, tx, skus); err != nil {
		return nil, err
	}
	current, err := lockBalances(ctx, tx, branchID, skus)
	if err != nil {
		return nil, err
	}
	steps, next, err := reconcile.PlanStock(current, adjustments)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		touched[step.Adjustment.SKU] = struct{}{}
	}
	for _, sku := range skus {
		if _, ok := touched[sku]; !ok {
			continue
		}
		balance := next[sku]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO branch_stocks (branch_id, sku, qty, unit_cost_cents, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (branch_id, sku)
			DO UPDATE SET qty = EXCLUDED.qty, unit_cost_cents = EXCLUDED.unit_cost_cents, updated_at = EXCLUDED.updated_at
		`, branchID, sku, balance.Qty, balance.UnitCostCents, at)
		if err != nil {
			return nil, err
		}
	}

	movements := make([]domain.StockMovement, 0, len(steps))
	for _, step := range steps {
		m := domain.StockMovement{
			ID:           xid.New("mv"),
			BranchID:     branchID,
			SKU:          step.Adjustment.SKU,
			Kind:         kind,
			Qty:          step.Adjustment.Qty,
			BalanceAfter: step.After.Qty,
			SourceType:   sourceType,
			SourceID:     sourceID,
			CreatedAt:    at,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO stock_movements (id, branch_id, sku, kind, qty, balance_after, source_type, source_id, created_at)
			VALUES (:id, :branch_id, :sku, :kind, :qty, :balance_after, :source_type, :source_id, :created_at)
		`, m)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func lockBalances(ctx context.Context, tx *sqlx.Tx, branchID string, skus []string) (map[string]reconcile.Balance, error) {
	rows := make([]domain.BranchStock, 0, len(skus))
	err := tx.SelectContext(ctx, &rows, `
		SELECT branch_id, sku, qty, unit_cost_cents, updated_at
		FROM branch_stocks
		WHERE branch_id = $1 AND sku = ANY($2)
		ORDER BY sku
		FOR UPDATE
	`, branchID, skus)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]reconcile.Balance, len(rows))
	for _, row := range rows {
		balances[row.SKU] = reconcile.Balance{Qty: row.Qty, UnitCostCents: row.UnitCostCents}
	}
	return balances, nil
}

func insertLosses(ctx context.Context, tx *sqlx.Tx, losses []domain.LossEntry) error {
	for _, loss := range losses {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO loss_entries (id, branch_id, sku, reason, qty, unit_cost_cents, value_cents, source_type, source_id, created_at)
			VALUES (:id, :branch_id, :sku, :reason, :qty, :unit_cost_cents, :value_cents, :source_type, :source_id, :created_at)
		`, loss)
		if err != nil {
			return err
		}
	}
	return nil
}

func branchExists(ctx context.Context, q sqlx.QueryerContext, branchID string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, branchID); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
	}
	return nil
}

// productsExist fails with ErrNotFound naming the first unknown sku.
func productsExist(ctx context.Context, q sqlx.QueryerContext, skus []string) error {
	if len(skus) == 0 {
		return nil
	}
	known := make([]string, 0, len(skus))
	if err := sqlx.SelectContext(ctx, q, &known, `SELECT sku FROM products WHERE sku = ANY($1)`, skus); err != nil {
		return err
	}
	found := make(map[string]struct{}, len(known))
	for _, sku := range known {
		found[sku] = struct{}{}
	}
	for _, sku := range skus {
		if _, ok := found[sku]; !ok {
			return fmt.Errorf("%w: sku %s unavailable", store.ErrNotFound, sku)
		}
	}
	return nil
}

func validateProduct(product domain.Product) error {
	if product.SKU == "" || product.Name == "" || product.Category == "" || product.PriceCents < 1 {
		return store.ErrInvalidTransaction
	}
	if product.MarginRate < 0 || product.MarginRate > 1 {
		return store.ErrInvalidTransaction
	}
	return nil
}

func adjustmentSKUs(adjustments []domain.StockAdjustment) []string {
	set := make(map[string]struct{}, len(adjustments))
	for _, adj := range adjustments {
		if adj.SKU == "" {
			continue
		}
		set[adj.SKU] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

// entryReferenceConstraint is the (purchase_order_id, reference) index that
// makes delivery notes idempotent per order.
const entryReferenceConstraint = "purchase_entries_purchase_order_id_reference_key"

func isEntryReferenceViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == entryReferenceConstraint
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func isSerializationFailure(err error) bool {
	code := pgErrorCode(err)
	return code == "40001" || code == "40P01"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullIfZero(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
