package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

func (s *Store) CreateTransfer(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.FromBranchID == "" || transfer.ToBranchID == "" || transfer.FromBranchID == transfer.ToBranchID {
		return nil, fmt.Errorf("%w: transfer needs two distinct branches", store.ErrInvalidTransaction)
	}
	for _, id := range []string{transfer.FromBranchID, transfer.ToBranchID} {
		branch, ok := s.branchesByID[id]
		if !ok {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, id)
		}
		if !branch.Active {
			return nil, fmt.Errorf("%w: branch %s is inactive", store.ErrConflict, id)
		}
	}
	items, err := reconcile.NormalizeTransferItems(transfer.Items, func(sku string) bool {
		_, ok := s.products[sku]
		return ok
	})
	if err != nil {
		return nil, err
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

	s.transfersByID[transfer.ID] = cloneTransfer(transfer)
	created := cloneTransfer(transfer)
	return &created, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneTransfer(transfer)
	return &found, nil
}

func (s *Store) ListTransfers(_ context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := strings.ToLower(strings.TrimSpace(filter.Status))
	result := make([]domain.StockTransfer, 0, len(s.transfersByID))
	for _, t := range s.transfersByID {
		if filter.BranchID != "" && t.FromBranchID != filter.BranchID && t.ToBranchID != filter.BranchID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, cloneTransfer(t))
	}
	slices.SortFunc(result, func(a, b domain.StockTransfer) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DispatchTransfer(_ context.Context, id string, lines []domain.TransferDispatchLine, dispatchedBy string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	items, err := reconcile.PlanDispatch(t, lines)
	if err != nil {
		return nil, err
	}

	source := s.stock[t.FromBranchID]
	out := make([]domain.StockAdjustment, 0, len(items))
	for i := range items {
		if row := source[items[i].SKU]; row != nil {
			items[i].UnitCostCents = row.unitCost
		}
		out = append(out, domain.StockAdjustment{SKU: items[i].SKU, Qty: items[i].Dispatched.Neg()})
	}
	if _, err := s.applyLocked(t.FromBranchID, domain.MovementTransferOut, reconcile.SourceTransfer, t.ID, out, at); err != nil {
		return nil, err
	}

	t.Items = items
	t.Status = domain.TransferStatusInTransit
	t.DispatchedBy = dispatchedBy
	t.DispatchedAt = &at
	s.transfersByID[t.ID] = t
	updated := cloneTransfer(t)
	return &updated, nil
}

func (s *Store) ReceiveTransfer(_ context.Context, id string, lines []domain.TransferReceiveLine, weightTolerance decimal.Decimal, receivedBy string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	items, discrepancies, err := reconcile.PlanReceipt(t, lines, weightTolerance, at)
	if err != nil {
		return nil, err
	}

	in := make([]domain.StockAdjustment, 0, len(items))
	for _, item := range items {
		in = append(in, domain.StockAdjustment{SKU: item.SKU, Qty: item.Received, UnitCostCents: item.UnitCostCents})
	}
	if _, err := s.applyLocked(t.ToBranchID, domain.MovementTransferIn, reconcile.SourceTransfer, t.ID, in, at); err != nil {
		return nil, err
	}

	t.Items = items
	t.Discrepancies = discrepancies
	t.ReceivedBy = receivedBy
	t.ReceivedAt = &at
	t.Status = reconcile.TransferStatusAfter(discrepancies)
	if t.Status == domain.TransferStatusCompleted {
		t.CompletedAt = &at
	}
	s.transfersByID[t.ID] = t
	updated := cloneTransfer(t)
	return &updated, nil
}

func (s *Store) ResolveDiscrepancy(_ context.Context, transferID string, discrepancyID string, resolution string, notes string, resolvedBy string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfersByID[transferID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != domain.TransferStatusDiscrepancy {
		return nil, fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
	}
	idx := slices.IndexFunc(t.Discrepancies, func(d domain.TransferDiscrepancy) bool {
		return d.ID == discrepancyID
	})
	if idx < 0 {
		return nil, store.ErrNotFound
	}

	plan, err := reconcile.PlanResolution(t, t.Discrepancies[idx], resolution, at)
	if err != nil {
		return nil, err
	}
	if plan.Adjustment != nil {
		if _, err := s.applyLocked(plan.BranchID, plan.MovementKind, reconcile.SourceTransfer, t.ID, []domain.StockAdjustment{*plan.Adjustment}, at); err != nil {
			return nil, err
		}
	}
	if plan.Loss != nil {
		s.losses = append(s.losses, *plan.Loss)
	}

	discrepancies := slices.Clone(t.Discrepancies)
	discrepancies[idx].Status = domain.DiscrepancyResolved
	discrepancies[idx].Resolution = resolution
	discrepancies[idx].Notes = notes
	discrepancies[idx].ResolvedBy = resolvedBy
	discrepancies[idx].ResolvedAt = &at
	t.Discrepancies = discrepancies
	t.Status = reconcile.TransferStatusAfter(discrepancies)
	if t.Status == domain.TransferStatusCompleted {
		t.CompletedAt = &at
	}
	s.transfersByID[t.ID] = t
	updated := cloneTransfer(t)
	return &updated, nil
}

func (s *Store) CancelTransfer(_ context.Context, id string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.Status != domain.TransferStatusRequested {
		return nil, fmt.Errorf("%w: transfer is %s", store.ErrConflict, t.Status)
	}
	t.Status = domain.TransferStatusCancelled
	t.CompletedAt = &at
	s.transfersByID[t.ID] = t
	updated := cloneTransfer(t)
	return &updated, nil
}

func cloneTransfer(src domain.StockTransfer) domain.StockTransfer {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.Discrepancies = make([]domain.TransferDiscrepancy, len(src.Discrepancies))
	copy(dup.Discrepancies, src.Discrepancies)
	return dup
}
