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

type transferRow struct {
	ID           string       `db:"id"`
	FromBranchID string       `db:"from_branch_id"`
	ToBranchID   string       `db:"to_branch_id"`
	Status       string       `db:"status"`
	Notes        string       `db:"notes"`
	RequestedBy  string       `db:"requested_by"`
	DispatchedBy string       `db:"dispatched_by"`
	ReceivedBy   string       `db:"received_by"`
	CreatedAt    time.Time    `db:"created_at"`
	DispatchedAt sql.NullTime `db:"dispatched_at"`
	ReceivedAt   sql.NullTime `db:"received_at"`
	CompletedAt  sql.NullTime `db:"completed_at"`
}

type transferItemRow struct {
	TransferID         string          `db:"transfer_id"`
	LineNo             int             `db:"line_no"`
	SKU                string          `db:"sku"`
	Requested          decimal.Decimal `db:"requested"`
	Dispatched         decimal.Decimal `db:"dispatched"`
	Received           decimal.Decimal `db:"received"`
	DispatchedWeightKg decimal.Decimal `db:"dispatched_weight_kg"`
	ReceivedWeightKg   decimal.Decimal `db:"received_weight_kg"`
	UnitCostCents      int64           `db:"unit_cost_cents"`
}

const transferColumns = `id, from_branch_id, to_branch_id, status, notes, requested_by, dispatched_by, received_by,
	created_at, dispatched_at, received_at, completed_at`

const transferItemColumns = `transfer_id, line_no, sku, requested, dispatched, received,
	dispatched_weight_kg, received_weight_kg, unit_cost_cents`

const discrepancyColumns = `id, transfer_id, sku, kind, expected_qty, received_qty, delta_qty,
	expected_weight_kg, received_weight_kg, unit_cost_cents, status, resolution, value_cents,
	notes, resolved_by, resolved_at, created_at`

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time.UTC()
	return &at
}

func (r transferRow) toDomain(items []transferItemRow, discrepancies []domain.TransferDiscrepancy) domain.StockTransfer {
	t := domain.StockTransfer{
		ID:            r.ID,
		FromBranchID:  r.FromBranchID,
		ToBranchID:    r.ToBranchID,
		Status:        r.Status,
		Notes:         r.Notes,
		RequestedBy:   r.RequestedBy,
		DispatchedBy:  r.DispatchedBy,
		ReceivedBy:    r.ReceivedBy,
		CreatedAt:     r.CreatedAt.UTC(),
		DispatchedAt:  nullableTime(r.DispatchedAt),
		ReceivedAt:    nullableTime(r.ReceivedAt),
		CompletedAt:   nullableTime(r.CompletedAt),
		Items:         make([]domain.StockTransferItem, 0, len(items)),
		Discrepancies: discrepancies,
	}
	if t.Discrepancies == nil {
		t.Discrepancies = []domain.TransferDiscrepancy{}
	}
	for _, item := range items {
		t.Items = append(t.Items, domain.StockTransferItem{
			SKU:                item.SKU,
			Requested:          item.Requested,
			Dispatched:         item.Dispatched,
			Received:           item.Received,
			DispatchedWeightKg: item.DispatchedWeightKg,
			ReceivedWeightKg:   item.ReceivedWeightKg,
			UnitCostCents:      item.UnitCostCents,
		})
	}
	return t
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.FromBranchID == "" || transfer.ToBranchID == "" || transfer.FromBranchID == transfer.ToBranchID {
		return nil, fmt.Errorf("%w: transfer needs two distinct branches", store.ErrInvalidTransaction)
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range []string{transfer.FromBranchID, transfer.ToBranchID} {
			var active bool
			err := tx.GetContext(ctx, &active, `SELECT active FROM branches WHERE id = $1`, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: branch %s", store.ErrNotFound, id)
				}
				return err
			}
			if !active {
				return fmt.Errorf("%w: branch %s is inactive", store.ErrConflict, id)
			}
		}

		requested := make(map[string]struct{}, len(transfer.Items))
		for _, item := range transfer.Items {
			requested[strings.ToUpper(strings.TrimSpace(item.SKU))] = struct{}{}
		}
		known := make([]string, 0, len(requested))
		if err := tx.SelectContext(ctx, &known, `SELECT sku FROM products WHERE sku = ANY($1)`, sortedKeys(requested)); err != nil {
			return err
		}
		items, err := reconcile.NormalizeTransferItems(transfer.Items, func(sku string) bool {
			return slices.Contains(known, sku)
		})
		if err != nil {
			return err
		}

		if transfer.ID == "" {
			transfer.ID = xid.New("trf")
		}
		if transfer.CreatedAt.IsZero() {
			transfer.CreatedAt = time.Now().UTC()
		}
		transfer.Status = domain.TransferStatusRequested
		transfer.Items = items
		transfer.Discrepancies = []domain.TransferDiscrepancy{}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_transfers (id, from_branch_id, to_branch_id, status, notes, requested_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, transfer.ID, transfer.FromBranchID, transfer.ToBranchID, transfer.Status, transfer.Notes, transfer.RequestedBy, transfer.CreatedAt)
		if err != nil {
			return err
		}
		for i, item := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO stock_transfer_items (transfer_id, line_no, sku, requested)
				VALUES ($1,$2,$3,$4)
			`, transfer.ID, i, item.SKU, item.Requested)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	t, err := loadTransfer(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func loadTransfer(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (domain.StockTransfer, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}
	var header transferRow
	if err := sqlx.GetContext(ctx, q, &header, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`+lock, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockTransfer{}, store.ErrNotFound
		}
		return domain.StockTransfer{}, err
	}
	items, discrepancies, err := loadTransferChildren(ctx, q, []string{id})
	if err != nil {
		return domain.StockTransfer{}, err
	}
	return header.toDomain(items[id], discrepancies[id]), nil
}

func loadTransferChildren(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string][]transferItemRow, map[string][]domain.TransferDiscrepancy, error) {
	itemRows := make([]transferItemRow, 0, 8*len(ids))
	err := sqlx.SelectContext(ctx, q, &itemRows, `
		SELECT `+transferItemColumns+`
		FROM stock_transfer_items
		WHERE transfer_id = ANY($1)
		ORDER BY transfer_id, line_no
	`, ids)
	if err != nil {
		return nil, nil, err
	}
	discrepancyRows := make([]domain.TransferDiscrepancy, 0, len(ids))
	err = sqlx.SelectContext(ctx, q, &discrepancyRows, `
		SELECT `+discrepancyColumns+`
		FROM transfer_discrepancies
		WHERE transfer_id = ANY($1)
		ORDER BY transfer_id, created_at, id
	`, ids)
	if err != nil {
		return nil, nil, err
	}

	items := make(map[string][]transferItemRow, len(ids))
	for _, row := range itemRows {
		items[row.TransferID] = append(items[row.TransferID], row)
	}
	discrepancies := make(map[string][]domain.TransferDiscrepancy, len(ids))
	for _, d := range discrepancyRows {
		discrepancies[d.TransferID] = append(discrepancies[d.TransferID], d)
	}
	return items, discrepancies, nil
}

func (s *Store) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error) {
	headers := make([]transferRow, 0, 32)
	err := s.db.SelectContext(ctx, &headers, `
		SELECT `+transferColumns+`
		FROM stock_transfers
		WHERE ($1 = '' OR from_branch_id = $1 OR to_branch_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`, filter.BranchID, strings.ToLower(strings.TrimSpace(filter.Status)), filter.Limit)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []domain.StockTransfer{}, nil
	}

	ids := make([]string, 0, len(headers))
	for _, h := range headers {
		ids = append(ids, h.ID)
	}
	items, discrepancies, err := loadTransferChildren(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	result := make([]domain.StockTransfer, 0, len(headers))
	for _, h := range headers {
		result = append(result, h.toDomain(items[h.ID], discrepancies[h.ID]))
	}
	return result, nil
}

func (s *Store) DispatchTransfer(ctx context.Context, id string, lines []domain.TransferDispatchLine, dispatchedBy string, at time.Time) (*domain.StockTransfer, error) {
	var updated domain.StockTransfer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := loadTransfer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		items, err := reconcile.PlanDispatch(t, lines)
		if err != nil {
			return err
		}

		skus := make([]string, 0, len(items))
		for _, item := range items {
			skus = append(skus, item.SKU)
		}
		source, err := lockBalances(ctx, tx, t.FromBranchID, skus)
		if err != nil {
			return err
		}
		out := make([]domain.StockAdjustment, 0, len(items))
		for i := range items {
			items[i].UnitCostCents = source[items[i].SKU].UnitCostCents
			out = append(out, domain.StockAdjustment{SKU: items[i].SKU, Qty: items[i].Dispatched.Neg()})
		}
		if _, err := applyStockTx(ctx, tx, t.FromBranchID, domain.MovementTransferOut, reconcile.SourceTransfer, t.ID, out, at); err != nil {
			return err
		}

		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				UPDATE stock_transfer_items
				SET dispatched = $3, dispatched_weight_kg = $4, unit_cost_cents = $5
				WHERE transfer_id = $1 AND sku = $2
			`, t.ID, item.SKU, item.Dispatched, item.DispatchedWeightKg, item.UnitCostCents)
			if err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_transfers SET status = $2, dispatched_by = $3, dispatched_at = $4
			WHERE id = $1
		`, t.ID, domain.TransferStatusInTransit, dispatchedBy, at)
		if err != nil {
			return err
		}

		t.Items = items
		t.Status = domain.TransferStatusInTransit
		t.DispatchedBy = dispatchedBy
		t.DispatchedAt = &at
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ReceiveTransfer(ctx context.Context, id string, lines []domain.TransferReceiveLine, weightTolerance decimal.Decimal, receivedBy string, at time.Time) (*domain.StockTransfer, error) {
	var updated domain.StockTransfer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := loadTransfer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		items, discrepancies, err := reconcile.PlanReceipt(t, lines, weightTolerance, at)
		if err != nil {
			return err
		}

		in := make([]domain.StockAdjustment, 0, len(items))
		for _, item := range items {
			in = append(in, domain.StockAdjustment{SKU: item.SKU, Qty: item.Received, UnitCostCents: item.UnitCostCents})
		}
		if _, err := applyStockTx(ctx, tx, t.ToBranchID, domain.MovementTransferIn, reconcile.SourceTransfer, t.ID, in, at); err != nil {
			return err
		}

		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				UPDATE stock_transfer_items
				SET received = $3, received_weight_kg = $4
				WHERE transfer_id = $1 AND sku = $2
			`, t.ID, item.SKU, item.Received, item.ReceivedWeightKg)
			if err != nil {
				return err
			}
		}
		for _, d := range discrepancies {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO transfer_discrepancies (
					id, transfer_id, sku, kind, expected_qty, received_qty, delta_qty,
					expected_weight_kg, received_weight_kg, unit_cost_cents, status, resolution,
					value_cents, notes, resolved_by, resolved_at, created_at
				)
				VALUES (
					:id, :transfer_id, :sku, :kind, :expected_qty, :received_qty, :delta_qty,
					:expected_weight_kg, :received_weight_kg, :unit_cost_cents, :status, :resolution,
					:value_cents, :notes, :resolved_by, :resolved_at, :created_at
				)
			`, d)
			if err != nil {
				return err
			}
		}

		status := reconcile.TransferStatusAfter(discrepancies)
		var completedAt *time.Time
		if status == domain.TransferStatusCompleted {
			completedAt = &at
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_transfers SET status = $2, received_by = $3, received_at = $4, completed_at = $5
			WHERE id = $1
		`, t.ID, status, receivedBy, at, nullTime(completedAt))
		if err != nil {
			return err
		}

		t.Items = items
		t.Discrepancies = discrepancies
		t.ReceivedBy = receivedBy
		t.ReceivedAt = &at
		t.Status = status
		t.CompletedAt = completedAt
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ResolveDiscrepancy(ctx context.Context, transferID string, discrepancyID string, resolution string, notes string, resolvedBy string, at time.Time) (*domain.StockTransfer, error) {
	var updated domain.StockTransfer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := loadTransfer(ctx, tx, transferID, true)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferStatusDiscrepancy {
			return fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
		}
		idx := slices.IndexFunc(t.Discrepancies, func(d domain.TransferDiscrepancy) bool {
			return d.ID == discrepancyID
		})
		if idx < 0 {
			return store.ErrNotFound
		}

		plan, err := reconcile.PlanResolution(t, t.Discrepancies[idx], resolution, at)
		if err != nil {
			return err
		}
		if plan.Adjustment != nil {
			if _, err := applyStockTx(ctx, tx, plan.BranchID, plan.MovementKind, reconcile.SourceTransfer, t.ID, []domain.StockAdjustment{*plan.Adjustment}, at); err != nil {
				return err
			}
		}
		if plan.Loss != nil {
			if err := insertLosses(ctx, tx, []domain.LossEntry{*plan.Loss}); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE transfer_discrepancies
			SET status = $3, resolution = $4, notes = $5, resolved_by = $6, resolved_at = $7
			WHERE transfer_id = $1 AND id = $2 AND status = $8
		`, t.ID, discrepancyID, domain.DiscrepancyResolved, resolution, notes, resolvedBy, at, domain.DiscrepancyOpen)
		if err != nil {
			return err
		}
		if err := expectAffected(res); err != nil {
			return fmt.Errorf("%w: discrepancy already resolved", store.ErrConflict)
		}

		discrepancies := slices.Clone(t.Discrepancies)
		discrepancies[idx].Status = domain.DiscrepancyResolved
		discrepancies[idx].Resolution = resolution
		discrepancies[idx].Notes = notes
		discrepancies[idx].ResolvedBy = resolvedBy
		discrepancies[idx].ResolvedAt = &at

		status := reconcile.TransferStatusAfter(discrepancies)
		var completedAt *time.Time
		if status == domain.TransferStatusCompleted {
			completedAt = &at
		}
		_, err = tx.ExecContext(ctx, `UPDATE stock_transfers SET status = $2, completed_at = $3 WHERE id = $1`, t.ID, status, nullTime(completedAt))
		if err != nil {
			return err
		}

		t.Discrepancies = discrepancies
		t.Status = status
		t.CompletedAt = completedAt
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CancelTransfer(ctx context.Context, id string, at time.Time) (*domain.StockTransfer, error) {
	var updated domain.StockTransfer
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := loadTransfer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferStatusRequested {
			return fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
		}
		_, err = tx.ExecContext(ctx, `UPDATE stock_transfers SET status = $2, completed_at = $3 WHERE id = $1`, t.ID, domain.TransferStatusCancelled, at)
		if err != nil {
			return err
		}
		t.Status = domain.TransferStatusCancelled
		t.CompletedAt = &at
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
