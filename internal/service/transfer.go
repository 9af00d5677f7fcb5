package service

import (
	"context"
	"fmt"
	"strings"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/notify"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

// CreateTransfer requests goods to move out of the source branch. Managers
// can only ship from their own branch.
func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.StockTransferResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	fromBranchID, err := s.branchFor(ctx, req.FromBranchID)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	req.ToBranchID = strings.TrimSpace(req.ToBranchID)
	if err := s.check(req); err != nil {
		return domain.StockTransferResponse{}, err
	}
	if fromBranchID == req.ToBranchID {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: source and destination must differ", store.ErrInvalidTransaction)
	}

	items := make([]domain.StockTransferItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.StockTransferItem{SKU: normalizeSKU(item.SKU), Requested: item.Qty})
	}

	created, err := s.repo.CreateTransfer(ctx, domain.StockTransfer{
		ID:           xid.New("trf"),
		FromBranchID: fromBranchID,
		ToBranchID:   req.ToBranchID,
		Notes:        strings.TrimSpace(req.Notes),
		RequestedBy:  actor.Username,
		CreatedAt:    s.now(),
		Items:        items,
	})
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	s.logAudit(ctx, fromBranchID, "transfer_create", reconcile.SourceTransfer, created.ID, fmt.Sprintf("to=%s,items=%d", created.ToBranchID, len(created.Items)))
	return domain.StockTransferResponse{Transfer: *created}, nil
}

func (s *Service) GetTransfer(ctx context.Context, id string) (domain.StockTransferResponse, error) {
	t, err := s.visibleTransfer(ctx, id)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	return domain.StockTransferResponse{Transfer: *t}, nil
}

func (s *Service) ListTransfers(ctx context.Context, filter domain.TransferFilter) (domain.StockTransferListResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.StockTransferListResponse{}, err
	}
	branchID, err := s.scopeFor(ctx, filter.BranchID)
	if err != nil {
		return domain.StockTransferListResponse{}, err
	}
	filter.BranchID = branchID
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	transfers, err := s.repo.ListTransfers(ctx, filter)
	if err != nil {
		return domain.StockTransferListResponse{}, err
	}
	return domain.StockTransferListResponse{Transfers: transfers}, nil
}

func (s *Service) DispatchTransfer(ctx context.Context, id string, req domain.TransferDispatchRequest) (domain.StockTransferResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockTransferResponse{}, err
	}
	current, err := s.visibleTransfer(ctx, id)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if !canTouch(actor, current.FromBranchID) {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: only the source branch can dispatch", store.ErrForbidden)
	}
	for i := range req.Lines {
		req.Lines[i].SKU = normalizeSKU(req.Lines[i].SKU)
	}

	dispatched, err := s.repo.DispatchTransfer(ctx, current.ID, req.Lines, actor.Username, s.now())
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	s.logAudit(ctx, dispatched.FromBranchID, "transfer_dispatch", reconcile.SourceTransfer, dispatched.ID, "to="+dispatched.ToBranchID)
	s.notify(notify.TransferDispatched(*dispatched))
	s.invalidateDashboard(ctx, dispatched.FromBranchID, dispatched.ToBranchID)
	return domain.StockTransferResponse{Transfer: *dispatched}, nil
}

// ReceiveTransfer books what arrived at the destination and opens a
// discrepancy for every line that does not match the dispatch.
func (s *Service) ReceiveTransfer(ctx context.Context, id string, req domain.TransferReceiveRequest) (domain.StockTransferResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockTransferResponse{}, err
	}
	current, err := s.visibleTransfer(ctx, id)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if !canTouch(actor, current.ToBranchID) {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: only the destination branch can receive", store.ErrForbidden)
	}
	for i := range req.Lines {
		req.Lines[i].SKU = normalizeSKU(req.Lines[i].SKU)
	}

	received, err := s.repo.ReceiveTransfer(ctx, current.ID, req.Lines, s.weightTolerance, actor.Username, s.now())
	if err != nil {
		return domain.StockTransferResponse{}, err
	}

	if s.metrics != nil {
		for _, d := range received.Discrepancies {
			s.metrics.Discrepancies.WithLabelValues(d.Kind, "opened").Inc()
		}
	}
	s.logAudit(ctx, received.ToBranchID, "transfer_receive", reconcile.SourceTransfer, received.ID, fmt.Sprintf("status=%s,discrepancies=%d", received.Status, len(received.Discrepancies)))
	s.notify(notify.DiscrepanciesOpened(*received)...)
	s.invalidateDashboard(ctx, received.FromBranchID, received.ToBranchID)
	return domain.StockTransferResponse{Transfer: *received}, nil
}

// ResolveDiscrepancy settles one open discrepancy. Only the destination
// branch manager or an admin may decide where the difference went.
func (s *Service) ResolveDiscrepancy(ctx context.Context, transferID string, discrepancyID string, req domain.DiscrepancyResolveRequest) (domain.StockTransferResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	req.Resolution = strings.ToLower(strings.TrimSpace(req.Resolution))
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.check(req); err != nil {
		return domain.StockTransferResponse{}, err
	}
	current, err := s.visibleTransfer(ctx, transferID)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if !canTouch(actor, current.ToBranchID) {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: only the destination branch can resolve discrepancies", store.ErrForbidden)
	}

	discrepancyID = strings.TrimSpace(discrepancyID)
	resolved, err := s.repo.ResolveDiscrepancy(ctx, current.ID, discrepancyID, req.Resolution, req.Notes, actor.Username, s.now())
	if err != nil {
		return domain.StockTransferResponse{}, err
	}

	var settled domain.TransferDiscrepancy
	for _, d := range resolved.Discrepancies {
		if d.ID == discrepancyID {
			settled = d
			break
		}
	}
	if s.metrics != nil {
		s.metrics.Discrepancies.WithLabelValues(settled.Kind, "resolved").Inc()
		if settled.Kind != domain.DiscrepancyWeight && settled.Resolution == domain.ResolutionScrap {
			reason := domain.LossReasonTransitLoss
			if settled.Kind == domain.DiscrepancyOverage {
				reason = domain.LossReasonScrap
			}
			s.metrics.LossValueCents.WithLabelValues(reason).Add(float64(settled.ValueCents))
		}
	}
	s.logAudit(ctx, resolved.ToBranchID, "transfer_discrepancy_resolve", reconcile.SourceTransfer, resolved.ID,
		fmt.Sprintf("discrepancy=%s,kind=%s,resolution=%s,status=%s", discrepancyID, settled.Kind, req.Resolution, resolved.Status))
	s.notify(notify.DiscrepancyResolved(*resolved, settled)...)
	s.invalidateDashboard(ctx, resolved.FromBranchID, resolved.ToBranchID)
	return domain.StockTransferResponse{Transfer: *resolved}, nil
}

func (s *Service) CancelTransfer(ctx context.Context, id string) (domain.StockTransferResponse, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	current, err := s.visibleTransfer(ctx, id)
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	if !canTouch(actor, current.FromBranchID) {
		return domain.StockTransferResponse{}, fmt.Errorf("%w: only the source branch can cancel", store.ErrForbidden)
	}

	cancelled, err := s.repo.CancelTransfer(ctx, current.ID, s.now())
	if err != nil {
		return domain.StockTransferResponse{}, err
	}
	s.logAudit(ctx, cancelled.FromBranchID, "transfer_cancel", reconcile.SourceTransfer, cancelled.ID, "")
	return domain.StockTransferResponse{Transfer: *cancelled}, nil
}

func (s *Service) visibleTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	actor, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidTransaction
	}
	t, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTouch(actor, t.FromBranchID) && !canTouch(actor, t.ToBranchID) {
		return nil, fmt.Errorf("%w: forbidden branch", store.ErrForbidden)
	}
	return t, nil
}
