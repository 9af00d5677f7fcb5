package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/notify"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Supplier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.check(req); err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "", "supplier_create", "supplier", saved.ID, saved.Name)
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreatePurchaseOrder opens a vendor order when an admin names a supplier and
// a branch request when a manager asks for goods. Branch requests carry no
// costs until an admin routes them.
func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if err := s.check(req); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	po := domain.PurchaseOrder{
		ID:          xid.New("po"),
		BranchID:    branchID,
		Notes:       strings.TrimSpace(req.Notes),
		RequestedBy: actor.Username,
		CreatedAt:   s.now(),
	}
	if actor.Role == domain.RoleAdmin {
		if req.SupplierID == "" {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: supplier_id is required for vendor orders", store.ErrInvalidTransaction)
		}
		po.Source = domain.POSourceVendor
		po.Status = domain.POStatusOrdered
		po.SupplierID = req.SupplierID
	} else {
		if req.SupplierID != "" {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: branch requests are routed to a supplier by an admin", store.ErrInvalidTransaction)
		}
		po.Source = domain.POSourceBranchRequest
		po.Status = domain.POStatusRequested
	}

	po.Items = make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		cost := item.UnitCostCents
		if po.Source == domain.POSourceVendor && cost < 1 {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: sku %s needs a unit cost", store.ErrInvalidTransaction, normalizeSKU(item.SKU))
		}
		po.Items = append(po.Items, domain.PurchaseOrderItem{
			SKU:           normalizeSKU(item.SKU),
			Ordered:       item.Qty,
			UnitCostCents: cost,
		})
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, branchID, "purchase_order_create", "purchase_order", created.ID, fmt.Sprintf("source=%s,items=%d", created.Source, len(created.Items)))
	if created.Source == domain.POSourceBranchRequest {
		s.notify(notify.PORequested(*created))
	}
	s.invalidateDashboard(ctx, branchID)
	return domain.PurchaseOrderResponse{PurchaseOrder: *created}, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrderResponse, error) {
	po, err := s.visiblePurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	return domain.PurchaseOrderResponse{PurchaseOrder: *po}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, filter domain.PurchaseOrderFilter) (domain.PurchaseOrderListResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	branchID, err := s.scopeFor(ctx, filter.BranchID)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	filter.BranchID = branchID
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	filter.Source = strings.ToLower(strings.TrimSpace(filter.Source))
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	orders, err := s.repo.ListPurchaseOrders(ctx, filter)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: orders}, nil
}

// RoutePurchaseOrder assigns a supplier to a branch request and settles the
// line costs, moving it to ordered.
func (s *Service) RoutePurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderRouteRequest) (domain.PurchaseOrderResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if err := s.check(req); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	costs := make(map[string]int64, len(req.Costs))
	for _, c := range req.Costs {
		sku := normalizeSKU(c.SKU)
		if _, dup := costs[sku]; dup {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("%w: sku %s priced twice", store.ErrInvalidTransaction, sku)
		}
		costs[sku] = c.UnitCostCents
	}

	routed, err := s.repo.RoutePurchaseOrder(ctx, strings.TrimSpace(id), req.SupplierID, costs, s.now())
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	s.logAudit(ctx, routed.BranchID, "purchase_order_route", "purchase_order", routed.ID, "supplier="+routed.SupplierID)
	s.notify(notify.PORouted(*routed))
	s.invalidateDashboard(ctx, routed.BranchID)
	return domain.PurchaseOrderResponse{PurchaseOrder: *routed}, nil
}

// CancelPurchaseOrder is only possible before anything was received.
func (s *Service) CancelPurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderStatusRequest) (domain.PurchaseOrderResponse, error) {
	return s.transitionPurchaseOrder(ctx, id, req, "purchase_order_cancel",
		[]string{domain.POStatusRequested, domain.POStatusOrdered}, domain.POStatusCancelled)
}

// ClosePurchaseOrder short-closes a partially received order. Counters stay
// as they are and no further entries are accepted.
func (s *Service) ClosePurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderStatusRequest) (domain.PurchaseOrderResponse, error) {
	return s.transitionPurchaseOrder(ctx, id, req, "purchase_order_close",
		[]string{domain.POStatusPartial}, domain.POStatusClosed)
}

func (s *Service) transitionPurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderStatusRequest, action string, from []string, to string) (domain.PurchaseOrderResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if _, err := s.visiblePurchaseOrder(ctx, id); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	updated, err := s.repo.TransitionPurchaseOrder(ctx, strings.TrimSpace(id), from, to, s.now())
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, updated.BranchID, action, "purchase_order", updated.ID, defaultString(req.Reason, to))
	s.invalidateDashboard(ctx, updated.BranchID)
	return domain.PurchaseOrderResponse{PurchaseOrder: *updated}, nil
}

// RecordPurchaseEntry books one delivery note against an order. Replaying a
// reference returns the first booking with Duplicate set.
func (s *Service) RecordPurchaseEntry(ctx context.Context, purchaseOrderID string, req domain.PurchaseEntryRequest) (domain.PurchaseEntryResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.PurchaseEntryResponse{}, err
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if err := s.check(req); err != nil {
		s.countEntry("rejected")
		return domain.PurchaseEntryResponse{}, err
	}
	if _, err := s.visiblePurchaseOrder(ctx, purchaseOrderID); err != nil {
		return domain.PurchaseEntryResponse{}, err
	}
	for i := range req.Lines {
		req.Lines[i].SKU = normalizeSKU(req.Lines[i].SKU)
	}

	entry, po, duplicate, err := s.repo.RecordPurchaseEntry(ctx, domain.PurchaseEntry{
		ID:              xid.New("pe"),
		PurchaseOrderID: strings.TrimSpace(purchaseOrderID),
		Reference:       req.Reference,
		ReceivedBy:      actor.Username,
		ReceivedAt:      s.now(),
		Notes:           strings.TrimSpace(req.Notes),
	}, req.Lines)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.countEntry("rejected")
		}
		return domain.PurchaseEntryResponse{}, err
	}
	if duplicate {
		s.countEntry("duplicate")
		return domain.PurchaseEntryResponse{Entry: *entry, PurchaseOrder: *po, Duplicate: true}, nil
	}

	s.countEntry("recorded")
	s.countLoss(entryLosses(*entry))
	s.logAudit(ctx, po.BranchID, "purchase_entry_record", "purchase_entry", entry.ID, fmt.Sprintf("po=%s,reference=%s,status=%s", po.ID, entry.Reference, po.Status))
	s.notify(notify.PurchaseEntryRecorded(*entry, *po))
	s.invalidateDashboard(ctx, po.BranchID)
	return domain.PurchaseEntryResponse{Entry: *entry, PurchaseOrder: *po}, nil
}

func (s *Service) ListPurchaseEntries(ctx context.Context, purchaseOrderID string) (domain.PurchaseEntryListResponse, error) {
	po, err := s.visiblePurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseEntryListResponse{}, err
	}
	entries, err := s.repo.ListPurchaseEntries(ctx, po.ID)
	if err != nil {
		return domain.PurchaseEntryListResponse{}, err
	}
	return domain.PurchaseEntryListResponse{Entries: entries}, nil
}

// ReconcilePurchaseOrder rebuilds every line accumulator from the stored
// entries and reports where the persisted counters disagree. It never writes.
func (s *Service) ReconcilePurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.ReconciliationCheck, error) {
	po, err := s.visiblePurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return domain.ReconciliationCheck{}, err
	}
	entries, err := s.repo.ListPurchaseEntries(ctx, po.ID)
	if err != nil {
		return domain.ReconciliationCheck{}, err
	}
	drift, err := reconcile.Drift(*po, entries)
	if err != nil {
		return domain.ReconciliationCheck{}, err
	}
	if len(drift) > 0 {
		s.logger.Warn().Str("purchase_order_id", po.ID).Int("fields", len(drift)).Msg("purchase order counters drifted from entries")
	}
	return domain.ReconciliationCheck{
		PurchaseOrderID: po.ID,
		Entries:         len(entries),
		Consistent:      len(drift) == 0,
		Drift:           drift,
		CheckedAt:       s.now().Format(time.RFC3339),
	}, nil
}

func (s *Service) visiblePurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidTransaction
	}
	po, err := s.repo.GetPurchaseOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTouch(actor, po.BranchID) {
		return nil, fmt.Errorf("%w: forbidden branch", store.ErrForbidden)
	}
	return po, nil
}

func (s *Service) countEntry(result string) {
	if s.metrics != nil {
		s.metrics.PurchaseEntries.WithLabelValues(result).Inc()
	}
}

func entryLosses(entry domain.PurchaseEntry) []domain.LossEntry {
	losses := make([]domain.LossEntry, 0, 2*len(entry.Lines))
	for _, line := range entry.Lines {
		if line.SpoiledValueCents > 0 {
			losses = append(losses, domain.LossEntry{SKU: line.SKU, Reason: domain.LossReasonSpoiled, ValueCents: line.SpoiledValueCents})
		}
		if line.DamagedValueCents > 0 {
			losses = append(losses, domain.LossEntry{SKU: line.SKU, Reason: domain.LossReasonDamaged, ValueCents: line.DamagedValueCents})
		}
	}
	return losses
}
