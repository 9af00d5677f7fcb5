package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Branch{}, err
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.check(req); err != nil {
		return domain.Branch{}, err
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New("br"),
		Code:      req.Code,
		Name:      req.Name,
		Address:   req.Address,
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Branch{}, err
	}
	s.logAudit(ctx, created.ID, "branch_create", "branch", created.ID, "code="+created.Code)
	return *created, nil
}

func (s *Service) ListBranches(ctx context.Context, includeInactive bool) ([]domain.Branch, error) {
	branches, err := s.repo.ListBranches(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleAdmin {
		return branches, nil
	}
	own := make([]domain.Branch, 0, 1)
	for _, b := range branches {
		if b.ID == actor.BranchID {
			own = append(own, b)
		}
	}
	return own, nil
}

func (s *Service) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	branchID, err := s.branchFor(ctx, id)
	if err != nil {
		return domain.Branch{}, err
	}
	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

func (s *Service) UpdateBranch(ctx context.Context, id string, req domain.BranchUpdateRequest) (domain.Branch, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Branch{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Branch{}, err
	}
	existing, err := s.repo.GetBranch(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Branch{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Branch{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateBranch(ctx, updated)
	if err != nil {
		return domain.Branch{}, err
	}
	s.logAudit(ctx, saved.ID, "branch_update", "branch", saved.ID, fmt.Sprintf("active=%t", saved.Active))
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.SKU = normalizeSKU(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.ToLower(strings.TrimSpace(req.Unit))
	if req.Unit == "" {
		req.Unit = "pcs"
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if err := reconcile.CheckQty("initial_stock", req.InitialStock); err != nil {
		return domain.Product{}, err
	}
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		Unit:       req.Unit,
		PriceCents: req.PriceCents,
		MarginRate: req.MarginRate,
		Active:     true,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock.IsPositive() {
		_, err := s.repo.AdjustStock(ctx, branchID, domain.MovementInitial, "product", created.SKU, []domain.StockAdjustment{{
			SKU:           created.SKU,
			Qty:           req.InitialStock,
			UnitCostCents: deriveUnitCost(*created),
		}})
		if err != nil {
			return domain.Product{}, err
		}
		s.invalidateDashboard(ctx, branchID)
	}

	s.logAudit(ctx, branchID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%s", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	sku = normalizeSKU(sku)
	if sku == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Category = category
	}
	if req.Unit != nil {
		updated.Unit = *req.Unit
	}
	if req.PriceCents != nil {
		updated.PriceCents = *req.PriceCents
	}
	if req.MarginRate != nil {
		updated.MarginRate = *req.MarginRate
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "", "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%d,margin=%.4f", saved.Active, saved.PriceCents, saved.MarginRate))
	return *saved, nil
}

func (s *Service) ListBranchStock(ctx context.Context, branchID string) (domain.StockListResponse, error) {
	branchID, err := s.branchFor(ctx, branchID)
	if err != nil {
		return domain.StockListResponse{}, err
	}
	stocks, err := s.repo.ListBranchStock(ctx, branchID)
	if err != nil {
		return domain.StockListResponse{}, err
	}
	return domain.StockListResponse{BranchID: branchID, Stocks: stocks}, nil
}

func (s *Service) ListStockMovements(ctx context.Context, branchID string, sku string, limit int) (domain.StockMovementListResponse, error) {
	branchID, err := s.branchFor(ctx, branchID)
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	if limit < 1 {
		limit = 100
	}
	movements, err := s.repo.ListStockMovements(ctx, branchID, normalizeSKU(sku), limit)
	if err != nil {
		return domain.StockMovementListResponse{}, err
	}
	return domain.StockMovementListResponse{Movements: movements}, nil
}

// StockOpname overwrites system quantities with counted ones. The repository
// writes one opname movement per changed SKU.
func (s *Service) StockOpname(ctx context.Context, req domain.StockOpnameRequest) (domain.StockOpnameResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.StockOpnameResponse{}, err
	}
	branchID, err := s.branchFor(ctx, req.BranchID)
	if err != nil {
		return domain.StockOpnameResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.StockOpnameResponse{}, err
	}
	for i := range req.Items {
		req.Items[i].SKU = normalizeSKU(req.Items[i].SKU)
	}

	opnameID := xid.New("opname")
	adjustments, err := s.repo.ApplyStockCount(ctx, branchID, opnameID, req.Items)
	if err != nil {
		return domain.StockOpnameResponse{}, err
	}

	changed := 0
	for _, adj := range adjustments {
		if !adj.DeltaQty.IsZero() {
			changed++
		}
	}
	s.logAudit(ctx, branchID, "stock_opname", "inventory", opnameID, fmt.Sprintf("items=%d,changed=%d,notes=%s", len(req.Items), changed, req.Notes))
	s.invalidateDashboard(ctx, branchID)

	return domain.StockOpnameResponse{
		OpnameID:    opnameID,
		BranchID:    branchID,
		Notes:       req.Notes,
		Adjustments: adjustments,
		CreatedAt:   s.now().Format(time.RFC3339),
	}, nil
}

func deriveUnitCost(product domain.Product) int64 {
	if product.PriceCents < 1 {
		return 0
	}
	estimated := decimal.NewFromInt(product.PriceCents).Mul(decimal.NewFromFloat(1 - product.MarginRate)).Round(0).IntPart()
	if estimated < 1 {
		return 1
	}
	return estimated
}
