package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/checkout"
	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CashierName = defaultString(strings.TrimSpace(req.CashierName), s.actor(ctx).Username)
	if err := s.check(req); err != nil {
		return domain.ShiftResponse{}, err
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:                xid.New("shift"),
		BranchID:          branchID,
		TerminalID:        req.TerminalID,
		CashierName:       req.CashierName,
		OpeningFloatCents: req.OpeningFloatCents,
		Status:            domain.ShiftStatusOpen,
		OpenedAt:          s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ShiftResponse{}, fmt.Errorf("%w: shift already open on terminal %s", store.ErrConflict, req.TerminalID)
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, branchID, "shift_open", "shift", saved.ID, req.CashierName)
	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if err := s.check(req); err != nil {
		return domain.ShiftResponse{}, err
	}

	closed, err := s.repo.CloseActiveShift(ctx, branchID, req.TerminalID, req.ClosingCashCents, s.now())
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	s.logAudit(ctx, branchID, "shift_close", "shift", closed.ID, fmt.Sprintf("closing_cash=%d", req.ClosingCashCents))
	return domain.ShiftResponse{Shift: *closed}, nil
}

func (s *Service) GetActiveShift(ctx context.Context, branchID string, terminalID string) (domain.ShiftResponse, error) {
	branchID, err := s.branchFor(ctx, branchID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return domain.ShiftResponse{}, store.ErrInvalidTransaction
	}

	shift, err := s.repo.GetActiveShift(ctx, branchID, terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

// Checkout records a paid sale against the terminal's open shift. Pricing,
// settlement and the stock decrement happen inside the repository so they
// commit together.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = checkout.PaymentCash
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if err := s.check(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	if existing, err := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return toCheckoutResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	shift, err := s.repo.GetActiveShift(ctx, branchID, req.TerminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: active shift required", store.ErrConflict)
		}
		return domain.CheckoutResponse{}, err
	}

	lines := make([]domain.TransactionLine, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		lines = append(lines, domain.TransactionLine{SKU: normalizeSKU(item.SKU), Qty: item.Qty})
	}

	tx := domain.Transaction{
		ID:                xid.New("tx"),
		BranchID:          branchID,
		TerminalID:        req.TerminalID,
		ShiftID:           shift.ID,
		IdempotencyKey:    req.IdempotencyKey,
		PaymentMethod:     req.PaymentMethod,
		PaymentReference:  strings.TrimSpace(req.PaymentReference),
		CashReceivedCents: req.CashReceivedCents,
		DiscountCents:     req.DiscountCents,
		TaxRatePercent:    req.TaxRatePercent,
		Status:            domain.TxStatusPaid,
		CreatedAt:         s.now(),
		Items:             lines,
	}
	created, err := s.repo.CreateCheckout(ctx, tx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	// a concurrent request with the same key won the insert
	if created.ID != tx.ID {
		return toCheckoutResponse(created, true), nil
	}

	s.logAudit(ctx, branchID, "checkout", "transaction", created.ID, fmt.Sprintf("total=%d,method=%s,lines=%d", created.TotalCents, created.PaymentMethod, len(created.Items)))
	s.invalidateDashboard(ctx, branchID)
	return toCheckoutResponse(created, false), nil
}

func (s *Service) LookupCheckoutByIdempotency(ctx context.Context, idempotencyKey string) (domain.CheckoutLookupResponse, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.CheckoutLookupResponse{}, store.ErrInvalidTransaction
	}

	tx, err := s.repo.FindTransactionByIdempotency(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutLookupResponse{Found: false}, nil
		}
		return domain.CheckoutLookupResponse{}, err
	}
	if _, err := s.branchFor(ctx, tx.BranchID); err != nil {
		return domain.CheckoutLookupResponse{Found: false}, nil
	}
	resp := toCheckoutResponse(tx, false)
	return domain.CheckoutLookupResponse{Found: true, Checkout: &resp}, nil
}

// VoidTransaction reverses a paid sale. The manager PIN is checked by the
// transport layer before this is called.
func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidTransactionRequest) (domain.VoidTransactionResponse, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return domain.VoidTransactionResponse{}, store.ErrInvalidTransaction
	}
	req.Reason = defaultString(strings.TrimSpace(req.Reason), "unspecified")

	existing, err := s.repo.FindTransactionByID(ctx, req.TransactionID)
	if err != nil {
		return domain.VoidTransactionResponse{}, err
	}
	if _, err := s.branchFor(ctx, existing.BranchID); err != nil {
		return domain.VoidTransactionResponse{}, err
	}

	voidedAt := s.now()
	tx, err := s.repo.VoidTransaction(ctx, req.TransactionID, req.Reason, voidedAt)
	if err != nil {
		return domain.VoidTransactionResponse{}, err
	}

	s.logAudit(ctx, tx.BranchID, "void_transaction", "transaction", tx.ID, req.Reason)
	s.invalidateDashboard(ctx, tx.BranchID)
	return domain.VoidTransactionResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		VoidedAt:      voidedAt.Format(time.RFC3339),
	}, nil
}

func toCheckoutResponse(tx *domain.Transaction, duplicate bool) domain.CheckoutResponse {
	itemQty := decimal.Zero
	for _, item := range tx.Items {
		itemQty = itemQty.Add(item.Qty)
	}

	return domain.CheckoutResponse{
		TransactionID: tx.ID,
		BranchID:      tx.BranchID,
		Status:        tx.Status,
		PaymentMethod: tx.PaymentMethod,
		SubtotalCents: tx.SubtotalCents,
		DiscountCents: tx.DiscountCents,
		TaxCents:      tx.TaxCents,
		TotalCents:    tx.TotalCents,
		CashReceived:  tx.CashReceivedCents,
		ChangeCents:   tx.ChangeCents,
		ItemQty:       itemQty,
		ShiftID:       tx.ShiftID,
		Duplicate:     duplicate,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
}
