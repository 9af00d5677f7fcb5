package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.BranchID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.branchesByID[po.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, po.BranchID)
	}
	if po.SupplierID != "" {
		if _, exists := s.suppliersByID[po.SupplierID]; !exists {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
		}
	}
	items, err := reconcile.NormalizeOrderItems(po.Items, func(sku string) bool {
		_, ok := s.products[sku]
		return ok
	})
	if err != nil {
		return nil, err
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.UpdatedAt = po.CreatedAt
	po.Items = items

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPO := clonePurchaseOrder(po)
	return &copyPO, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := strings.ToLower(strings.TrimSpace(filter.Status))
	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if filter.BranchID != "" && po.BranchID != filter.BranchID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		if filter.Source != "" && po.Source != filter.Source {
			continue
		}
		if !filter.From.IsZero() && po.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !po.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) RoutePurchaseOrder(_ context.Context, purchaseOrderID string, supplierID string, costs map[string]int64, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.POStatusRequested {
		return nil, fmt.Errorf("%w: purchase order is %s", store.ErrConflict, po.Status)
	}
	if _, ok := s.suppliersByID[supplierID]; !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, supplierID)
	}

	items, err := reconcile.RouteCosts(po.Items, costs, func(sku string) int64 {
		if row := s.stock[po.BranchID][sku]; row != nil {
			return row.unitCost
		}
		return 0
	})
	if err != nil {
		return nil, err
	}

	po.Items = items
	po.SupplierID = supplierID
	po.Status = domain.POStatusOrdered
	po.UpdatedAt = at
	s.purchaseOrdersByID[po.ID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) TransitionPurchaseOrder(_ context.Context, purchaseOrderID string, from []string, to string, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(from, po.Status) {
		return nil, fmt.Errorf("%w: purchase order is %s", store.ErrConflict, po.Status)
	}
	po.Status = to
	po.UpdatedAt = at
	s.purchaseOrdersByID[po.ID] = po
	updated := clonePurchaseOrder(po)
	return &updated, nil
}

func (s *Store) RecordPurchaseEntry(_ context.Context, entry domain.PurchaseEntry, lines []domain.PurchaseEntryLineRequest) (*domain.PurchaseEntry, *domain.PurchaseOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[entry.PurchaseOrderID]
	if !exists {
		return nil, nil, false, store.ErrNotFound
	}
	entry.Reference = strings.TrimSpace(entry.Reference)
	if entry.Reference == "" {
		return nil, nil, false, fmt.Errorf("%w: reference is required", store.ErrInvalidTransaction)
	}
	for _, existing := range s.entriesByPO[po.ID] {
		if existing.Reference == entry.Reference {
			recorded := clonePurchaseEntry(existing)
			current := clonePurchaseOrder(po)
			return &recorded, &current, true, nil
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New("pe")
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	plan, err := reconcile.PlanEntry(po, entry.ID, entry.ReceivedAt, lines)
	if err != nil {
		return nil, nil, false, err
	}
	if _, err := s.applyLocked(po.BranchID, domain.MovementPurchaseReceipt, reconcile.SourcePurchaseEntry, entry.ID, plan.Stock, entry.ReceivedAt); err != nil {
		return nil, nil, false, err
	}
	s.losses = append(s.losses, plan.Losses...)

	po.Items = plan.Items
	po.Status = plan.Status
	po.UpdatedAt = entry.ReceivedAt
	s.purchaseOrdersByID[po.ID] = po

	entry.BranchID = po.BranchID
	entry.Lines = plan.Lines
	s.entriesByPO[po.ID] = append(s.entriesByPO[po.ID], clonePurchaseEntry(entry))

	recorded := clonePurchaseEntry(entry)
	updated := clonePurchaseOrder(po)
	return &recorded, &updated, false, nil
}

func (s *Store) ListPurchaseEntries(_ context.Context, purchaseOrderID string) ([]domain.PurchaseEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.purchaseOrdersByID[purchaseOrderID]; !exists {
		return nil, store.ErrNotFound
	}
	entries := s.entriesByPO[purchaseOrderID]
	result := make([]domain.PurchaseEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, clonePurchaseEntry(entry))
	}
	return result, nil
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	items := make([]domain.PurchaseOrderItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func clonePurchaseEntry(src domain.PurchaseEntry) domain.PurchaseEntry {
	dup := src
	lines := make([]domain.PurchaseEntryLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
