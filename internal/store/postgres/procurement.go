package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

type purchaseOrderRow struct {
	ID          string    `db:"id"`
	BranchID    string    `db:"branch_id"`
	SupplierID  string    `db:"supplier_id"`
	Source      string    `db:"source"`
	Status      string    `db:"status"`
	Notes       string    `db:"notes"`
	RequestedBy string    `db:"requested_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type purchaseOrderItemRow struct {
	PurchaseOrderID string          `db:"purchase_order_id"`
	LineNo          int             `db:"line_no"`
	SKU             string          `db:"sku"`
	UnitCostCents   int64           `db:"unit_cost_cents"`
	Ordered         decimal.Decimal `db:"ordered"`
	Received        decimal.Decimal `db:"received"`
	Spoiled         decimal.Decimal `db:"spoiled"`
	Damaged         decimal.Decimal `db:"damaged"`
	Usable          decimal.Decimal `db:"usable"`
	Status          string          `db:"status"`
}

type purchaseEntryRow struct {
	ID              string    `db:"id"`
	PurchaseOrderID string    `db:"purchase_order_id"`
	BranchID        string    `db:"branch_id"`
	Reference       string    `db:"reference"`
	ReceivedBy      string    `db:"received_by"`
	ReceivedAt      time.Time `db:"received_at"`
	Notes           string    `db:"notes"`
}

type purchaseEntryLineRow struct {
	EntryID           string          `db:"entry_id"`
	LineNo            int             `db:"line_no"`
	SKU               string          `db:"sku"`
	Received          decimal.Decimal `db:"received"`
	Spoiled           decimal.Decimal `db:"spoiled"`
	Damaged           decimal.Decimal `db:"damaged"`
	Usable            decimal.Decimal `db:"usable"`
	UnitCostCents     int64           `db:"unit_cost_cents"`
	SpoiledValueCents int64           `db:"spoiled_value_cents"`
	DamagedValueCents int64           `db:"damaged_value_cents"`
}

const purchaseOrderColumns = `id, branch_id, COALESCE(supplier_id, '') AS supplier_id, source, status, notes, requested_by, created_at, updated_at`

func (r purchaseOrderRow) toDomain(items []purchaseOrderItemRow) domain.PurchaseOrder {
	po := domain.PurchaseOrder{
		ID:          r.ID,
		BranchID:    r.BranchID,
		SupplierID:  r.SupplierID,
		Source:      r.Source,
		Status:      r.Status,
		Notes:       r.Notes,
		RequestedBy: r.RequestedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Items:       make([]domain.PurchaseOrderItem, 0, len(items)),
	}
	for _, item := range items {
		po.Items = append(po.Items, domain.PurchaseOrderItem{
			SKU:           item.SKU,
			UnitCostCents: item.UnitCostCents,
			Ordered:       item.Ordered,
			Received:      item.Received,
			Spoiled:       item.Spoiled,
			Damaged:       item.Damaged,
			Usable:        item.Usable,
			Status:        item.Status,
		})
	}
	return po
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES (:id, :name, :phone, :created_at)
	`, supplier)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supplier %s already exists", store.ErrConflict, supplier.ID)
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.GetContext(ctx, &supplier, `SELECT id, name, phone, created_at FROM suppliers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	suppliers := make([]domain.Supplier, 0, 32)
	if err := s.db.SelectContext(ctx, &suppliers, `SELECT id, name, phone, created_at FROM suppliers ORDER BY name`); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.BranchID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := branchExists(ctx, tx, po.BranchID); err != nil {
			return err
		}
		if po.SupplierID != "" {
			if err := supplierExists(ctx, tx, po.SupplierID); err != nil {
				return err
			}
		}

		requested := make(map[string]struct{}, len(po.Items))
		for _, item := range po.Items {
			requested[strings.ToUpper(strings.TrimSpace(item.SKU))] = struct{}{}
		}
		known := make([]string, 0, len(requested))
		if err := tx.SelectContext(ctx, &known, `SELECT sku FROM products WHERE sku = ANY($1)`, sortedKeys(requested)); err != nil {
			return err
		}
		items, err := reconcile.NormalizeOrderItems(po.Items, func(sku string) bool {
			return slices.Contains(known, sku)
		})
		if err != nil {
			return err
		}

		if po.ID == "" {
			po.ID = xid.New("po")
		}
		if po.CreatedAt.IsZero() {
			po.CreatedAt = time.Now().UTC()
		}
		po.UpdatedAt = po.CreatedAt
		po.Items = items

		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_orders (id, branch_id, supplier_id, source, status, notes, requested_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, po.ID, po.BranchID, nullIfEmpty(po.SupplierID), po.Source, po.Status, po.Notes, po.RequestedBy, po.CreatedAt, po.UpdatedAt)
		if err != nil {
			return err
		}
		for i, item := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_order_items (purchase_order_id, line_no, sku, unit_cost_cents, ordered, received, spoiled, damaged, usable, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, po.ID, i, item.SKU, item.UnitCostCents, item.Ordered, item.Received, item.Spoiled, item.Damaged, item.Usable, item.Status)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, err := loadPurchaseOrder(ctx, s.db, purchaseOrderID, false)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// loadPurchaseOrder reads the header and its lines. With forUpdate set q must
// be a transaction; the header and line rows stay locked until it ends.
func loadPurchaseOrder(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (domain.PurchaseOrder, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	var header purchaseOrderRow
	if err := sqlx.GetContext(ctx, q, &header, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1`+lock, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PurchaseOrder{}, store.ErrNotFound
		}
		return domain.PurchaseOrder{}, err
	}
	items := make([]purchaseOrderItemRow, 0, 8)
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT purchase_order_id, line_no, sku, unit_cost_cents, ordered, received, spoiled, damaged, usable, status
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY line_no`+lock, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return header.toDomain(items), nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	headers := make([]purchaseOrderRow, 0, 32)
	err := s.db.SelectContext(ctx, &headers, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR source = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($6::int, 0)
	`, filter.BranchID, strings.ToLower(strings.TrimSpace(filter.Status)), filter.Source, nullIfZero(filter.From), nullIfZero(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []domain.PurchaseOrder{}, nil
	}

	ids := make([]string, 0, len(headers))
	for _, h := range headers {
		ids = append(ids, h.ID)
	}
	items := make([]purchaseOrderItemRow, 0, 8*len(headers))
	err = s.db.SelectContext(ctx, &items, `
		SELECT purchase_order_id, line_no, sku, unit_cost_cents, ordered, received, spoiled, damaged, usable, status
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY purchase_order_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]purchaseOrderItemRow, len(headers))
	for _, item := range items {
		grouped[item.PurchaseOrderID] = append(grouped[item.PurchaseOrderID], item)
	}

	result := make([]domain.PurchaseOrder, 0, len(headers))
	for _, h := range headers {
		result = append(result, h.toDomain(grouped[h.ID]))
	}
	return result, nil
}

func (s *Store) RoutePurchaseOrder(ctx context.Context, purchaseOrderID string, supplierID string, costs map[string]int64, at time.Time) (*domain.PurchaseOrder, error) {
	var routed domain.PurchaseOrder
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		po, err := loadPurchaseOrder(ctx, tx, purchaseOrderID, true)
		if err != nil {
			return err
		}
		if po.Status != domain.POStatusRequested {
			return fmt.Errorf("%w: purchase order is %s", store.ErrConflict, po.Status)
		}
		if err := supplierExists(ctx, tx, supplierID); err != nil {
			return err
		}

		skus := make([]string, 0, len(po.Items))
		for _, item := range po.Items {
			skus = append(skus, item.SKU)
		}
		stock := make([]domain.BranchStock, 0, len(skus))
		err = tx.SelectContext(ctx, &stock, `
			SELECT branch_id, sku, qty, unit_cost_cents, updated_at
			FROM branch_stocks
			WHERE branch_id = $1 AND sku = ANY($2)
		`, po.BranchID, skus)
		if err != nil {
			return err
		}
		branchCost := make(map[string]int64, len(stock))
		for _, row := range stock {
			branchCost[row.SKU] = row.UnitCostCents
		}

		items, err := reconcile.RouteCosts(po.Items, costs, func(sku string) int64 {
			return branchCost[sku]
		})
		if err != nil {
			return err
		}
		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				UPDATE purchase_order_items SET unit_cost_cents = $3
				WHERE purchase_order_id = $1 AND sku = $2
			`, po.ID, item.SKU, item.UnitCostCents)
			if err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE purchase_orders SET supplier_id = $2, status = $3, updated_at = $4
			WHERE id = $1
		`, po.ID, supplierID, domain.POStatusOrdered, at)
		if err != nil {
			return err
		}

		po.Items = items
		po.SupplierID = supplierID
		po.Status = domain.POStatusOrdered
		po.UpdatedAt = at
		routed = po
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &routed, nil
}

func (s *Store) TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, from []string, to string, at time.Time) (*domain.PurchaseOrder, error) {
	var updated domain.PurchaseOrder
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		po, err := loadPurchaseOrder(ctx, tx, purchaseOrderID, true)
		if err != nil {
			return err
		}
		if !slices.Contains(from, po.Status) {
			return fmt.Errorf("%w: purchase order is %s", store.ErrConflict, po.Status)
		}
		_, err = tx.ExecContext(ctx, `UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1`, po.ID, to, at)
		if err != nil {
			return err
		}
		po.Status = to
		po.UpdatedAt = at
		updated = po
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// RecordPurchaseEntry locks the order, plans the receipt through
// reconcile.PlanEntry and writes counters, stock, losses and the entry in one
// serializable transaction.
func (s *Store) RecordPurchaseEntry(ctx context.Context, entry domain.PurchaseEntry, lines []domain.PurchaseEntryLineRequest) (*domain.PurchaseEntry, *domain.PurchaseOrder, bool, error) {
	entry.Reference = strings.TrimSpace(entry.Reference)
	if entry.Reference == "" {
		return nil, nil, false, fmt.Errorf("%w: reference is required", store.ErrInvalidTransaction)
	}
	if entry.ID == "" {
		entry.ID = xid.New("pe")
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	var (
		recorded  domain.PurchaseEntry
		updated   domain.PurchaseOrder
		duplicate bool
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		duplicate = false
		po, err := loadPurchaseOrder(ctx, tx, entry.PurchaseOrderID, true)
		if err != nil {
			return err
		}

		existing, err := findEntryByReference(ctx, tx, po.ID, entry.Reference)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil {
			recorded = *existing
			updated = po
			duplicate = true
			return nil
		}

		plan, err := reconcile.PlanEntry(po, entry.ID, entry.ReceivedAt, lines)
		if err != nil {
			return err
		}
		if _, err := applyStockTx(ctx, tx, po.BranchID, domain.MovementPurchaseReceipt, reconcile.SourcePurchaseEntry, entry.ID, plan.Stock, entry.ReceivedAt); err != nil {
			return err
		}
		if err := insertLosses(ctx, tx, plan.Losses); err != nil {
			return err
		}

		for _, item := range plan.Items {
			_, err := tx.ExecContext(ctx, `
				UPDATE purchase_order_items
				SET received = $3, spoiled = $4, damaged = $5, usable = $6, status = $7
				WHERE purchase_order_id = $1 AND sku = $2
			`, po.ID, item.SKU, item.Received, item.Spoiled, item.Damaged, item.Usable, item.Status)
			if err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1`, po.ID, plan.Status, entry.ReceivedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_entries (id, purchase_order_id, branch_id, reference, received_by, received_at, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, po.ID, po.BranchID, entry.Reference, entry.ReceivedBy, entry.ReceivedAt, entry.Notes)
		if err != nil {
			return err
		}
		for i, line := range plan.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_entry_lines (
					entry_id, line_no, sku, received, spoiled, damaged, usable,
					unit_cost_cents, spoiled_value_cents, damaged_value_cents
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, entry.ID, i, line.SKU, line.Received, line.Spoiled, line.Damaged, line.Usable,
				line.UnitCostCents, line.SpoiledValueCents, line.DamagedValueCents)
			if err != nil {
				return err
			}
		}

		recorded = entry
		recorded.PurchaseOrderID = po.ID
		recorded.BranchID = po.BranchID
		recorded.Lines = plan.Lines
		po.Items = plan.Items
		po.Status = plan.Status
		po.UpdatedAt = entry.ReceivedAt
		updated = po
		return nil
	})
	if err != nil {
		if isEntryReferenceViolation(err) {
			// A concurrent writer recorded the same delivery note first.
			return s.replayEntry(ctx, entry.PurchaseOrderID, entry.Reference)
		}
		if isUniqueViolation(err) {
			return nil, nil, false, fmt.Errorf("%w: purchase entry %s: %v", store.ErrConflict, entry.ID, err)
		}
		return nil, nil, false, err
	}
	return &recorded, &updated, duplicate, nil
}

func (s *Store) replayEntry(ctx context.Context, purchaseOrderID string, reference string) (*domain.PurchaseEntry, *domain.PurchaseOrder, bool, error) {
	existing, err := findEntryByReference(ctx, s.db, purchaseOrderID, reference)
	if err != nil {
		return nil, nil, false, err
	}
	po, err := loadPurchaseOrder(ctx, s.db, purchaseOrderID, false)
	if err != nil {
		return nil, nil, false, err
	}
	return existing, &po, true, nil
}

func findEntryByReference(ctx context.Context, q sqlx.QueryerContext, purchaseOrderID string, reference string) (*domain.PurchaseEntry, error) {
	var row purchaseEntryRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, purchase_order_id, branch_id, reference, received_by, received_at, notes
		FROM purchase_entries
		WHERE purchase_order_id = $1 AND reference = $2
	`, purchaseOrderID, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entries, err := attachEntryLines(ctx, q, []purchaseEntryRow{row})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) ListPurchaseEntries(ctx context.Context, purchaseOrderID string) ([]domain.PurchaseEntry, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1)`, purchaseOrderID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows := make([]purchaseEntryRow, 0, 8)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, purchase_order_id, branch_id, reference, received_by, received_at, notes
		FROM purchase_entries
		WHERE purchase_order_id = $1
		ORDER BY received_at, id
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	return attachEntryLines(ctx, s.db, rows)
}

func attachEntryLines(ctx context.Context, q sqlx.QueryerContext, rows []purchaseEntryRow) ([]domain.PurchaseEntry, error) {
	entries := make([]domain.PurchaseEntry, 0, len(rows))
	if len(rows) == 0 {
		return entries, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	lineRows := make([]purchaseEntryLineRow, 0, 8*len(rows))
	err := sqlx.SelectContext(ctx, q, &lineRows, `
		SELECT entry_id, line_no, sku, received, spoiled, damaged, usable, unit_cost_cents, spoiled_value_cents, damaged_value_cents
		FROM purchase_entry_lines
		WHERE entry_id = ANY($1)
		ORDER BY entry_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]domain.PurchaseEntryLine, len(rows))
	for _, l := range lineRows {
		grouped[l.EntryID] = append(grouped[l.EntryID], domain.PurchaseEntryLine{
			SKU:               l.SKU,
			Received:          l.Received,
			Spoiled:           l.Spoiled,
			Damaged:           l.Damaged,
			Usable:            l.Usable,
			UnitCostCents:     l.UnitCostCents,
			SpoiledValueCents: l.SpoiledValueCents,
			DamagedValueCents: l.DamagedValueCents,
		})
	}
	for _, row := range rows {
		entries = append(entries, domain.PurchaseEntry{
			ID:              row.ID,
			PurchaseOrderID: row.PurchaseOrderID,
			BranchID:        row.BranchID,
			Reference:       row.Reference,
			ReceivedBy:      row.ReceivedBy,
			ReceivedAt:      row.ReceivedAt.UTC(),
			Notes:           row.Notes,
			Lines:           grouped[row.ID],
		})
	}
	return entries, nil
}

func supplierExists(ctx context.Context, q sqlx.QueryerContext, supplierID string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, supplierID); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: supplier %s", store.ErrNotFound, supplierID)
	}
	return nil
}
