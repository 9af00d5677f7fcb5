package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"grocerp/backend/internal/checkout"
	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/reconcile"
	"grocerp/backend/internal/store"
	"grocerp/backend/internal/xid"
)

const (
	SeedBranchPusat   = "br-pusat"
	SeedBranchSelatan = "br-selatan"
)

type stockRow struct {
	qty       decimal.Decimal
	unitCost  int64
	updatedAt time.Time
}

type Store struct {
	mu                 sync.RWMutex
	branchesByID       map[string]domain.Branch
	products           map[string]domain.Product
	stock              map[string]map[string]*stockRow
	movements          []domain.StockMovement
	losses             []domain.LossEntry
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]*domain.Transaction
	auditLogs          []domain.AuditLog
	shiftsByID         map[string]domain.Shift
	activeShiftByKey   map[string]string
	suppliersByID      map[string]domain.Supplier
	purchaseOrdersByID map[string]domain.PurchaseOrder
	entriesByPO        map[string][]domain.PurchaseEntry
	transfersByID      map[string]domain.StockTransfer
	notifications      []domain.Notification
	usersByUsername    map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, hardcoded dev defaults are used with a
// warning. These accounts never exist in production, where DATABASE_URL
// selects the PostgreSQL store.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_*_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"manager", managerPwd, domain.RoleManager, SeedBranchPusat},
		{"cashier", cashierPwd, domain.RoleCashier, SeedBranchPusat},
		{"manager-selatan", managerPwd, domain.RoleManager, SeedBranchSelatan},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with two branches, a grocery catalog stocked in
// both, one supplier and the dev accounts.
func NewSeeded() *Store {
	now := time.Now().UTC()
	branches := []domain.Branch{
		{ID: SeedBranchPusat, Code: "PUSAT", Name: "Toko Pusat", Address: "Jl. Merdeka 1", Active: true, CreatedAt: now},
		{ID: SeedBranchSelatan, Code: "SELATAN", Name: "Cabang Selatan", Address: "Jl. Fatmawati 20", Active: true, CreatedAt: now},
	}
	products := []domain.Product{
		{SKU: "SKU-BERAS-01", Name: "Beras Premium", Category: "grocery", Unit: "kg", PriceCents: 14500, MarginRate: 0.12, Active: true},
		{SKU: "SKU-TELUR-01", Name: "Telur Ayam", Category: "grocery", Unit: "kg", PriceCents: 28500, MarginRate: 0.13, Active: true},
		{SKU: "SKU-TOMAT-01", Name: "Tomat Merah", Category: "produce", Unit: "kg", PriceCents: 16000, MarginRate: 0.30, Active: true},
		{SKU: "SKU-BAYAM-01", Name: "Bayam Ikat", Category: "produce", Unit: "pcs", PriceCents: 4500, MarginRate: 0.35, Active: true},
		{SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", Unit: "pcs", PriceCents: 18900, MarginRate: 0.28, Active: true},
		{SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", Unit: "pcs", PriceCents: 17800, MarginRate: 0.30, Active: true},
		{SKU: "SKU-GULA-01", Name: "Gula Pasir", Category: "grocery", Unit: "kg", PriceCents: 17400, MarginRate: 0.12, Active: true},
		{SKU: "SKU-MINYAK-01", Name: "Minyak Goreng 2L", Category: "grocery", Unit: "pcs", PriceCents: 36500, MarginRate: 0.10, Active: true},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", Unit: "pcs", PriceCents: 3900, MarginRate: 0.18, Active: true},
		{SKU: "SKU-AYAM-01", Name: "Daging Ayam", Category: "meat", Unit: "kg", PriceCents: 38000, MarginRate: 0.15, Active: true},
	}

	s := &Store{
		branchesByID:       make(map[string]domain.Branch, len(branches)),
		products:           make(map[string]domain.Product, len(products)),
		stock:              make(map[string]map[string]*stockRow, len(branches)),
		movements:          make([]domain.StockMovement, 0, 256),
		losses:             make([]domain.LossEntry, 0, 64),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]*domain.Transaction),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		shiftsByID:         make(map[string]domain.Shift),
		activeShiftByKey:   make(map[string]string),
		suppliersByID:      make(map[string]domain.Supplier),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		entriesByPO:        make(map[string][]domain.PurchaseEntry),
		transfersByID:      make(map[string]domain.StockTransfer),
		notifications:      make([]domain.Notification, 0, 64),
		usersByUsername:    seedUsers(),
	}
	for _, b := range branches {
		s.branchesByID[b.ID] = b
		s.stock[b.ID] = make(map[string]*stockRow, len(products))
	}
	opening := map[string]decimal.Decimal{
		SeedBranchPusat:   decimal.NewFromInt(120),
		SeedBranchSelatan: decimal.NewFromInt(40),
	}
	for _, p := range products {
		s.products[p.SKU] = p
		cost := decimal.NewFromInt(p.PriceCents).Mul(decimal.NewFromFloat(1 - p.MarginRate)).Round(0).IntPart()
		for branchID, qty := range opening {
			if _, err := s.applyLocked(branchID, domain.MovementInitial, "seed", "seed", []domain.StockAdjustment{
				{SKU: p.SKU, Qty: qty, UnitCostCents: cost},
			}, now); err != nil {
				log.Fatal().Err(err).Str("sku", p.SKU).Msg("failed to seed stock")
			}
		}
	}
	s.suppliersByID["sup-tani-makmur"] = domain.Supplier{ID: "sup-tani-makmur", Name: "CV Tani Makmur", Phone: "0211234567", CreatedAt: now}
	return s
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch.Code = strings.ToUpper(strings.TrimSpace(branch.Code))
	branch.Name = strings.TrimSpace(branch.Name)
	if branch.Code == "" || branch.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.branchesByID {
		if existing.Code == branch.Code {
			return nil, fmt.Errorf("%w: branch code %s already exists", store.ErrConflict, branch.Code)
		}
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	branch.Active = true

	s.branchesByID[branch.ID] = branch
	s.stock[branch.ID] = make(map[string]*stockRow)
	created := branch
	return &created, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branchesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context, includeInactive bool) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branchesByID))
	for _, b := range s.branchesByID {
		if !includeInactive && !b.Active {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int {
		return strings.Compare(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) UpdateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.branchesByID[branch.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	existing.Name = strings.TrimSpace(branch.Name)
	existing.Address = branch.Address
	existing.Active = branch.Active
	s.branchesByID[branch.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}

	product.Active = true
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.SKU]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok && p.Active {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, branchID string, skus []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]decimal.Decimal, len(skus))
	branchStock := s.stock[branchID]
	for _, sku := range skus {
		if row := branchStock[sku]; row != nil {
			stockMap[sku] = row.qty
			continue
		}
		stockMap[sku] = decimal.Zero
	}
	return stockMap, nil
}

func (s *Store) ListBranchStock(_ context.Context, branchID string) ([]domain.BranchStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branchStock, ok := s.stock[branchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.BranchStock, 0, len(branchStock))
	for sku, row := range branchStock {
		result = append(result, domain.BranchStock{
			BranchID:      branchID,
			SKU:           sku,
			Qty:           row.qty,
			UnitCostCents: row.unitCost,
			UpdatedAt:     row.updatedAt,
		})
	}
	slices.SortFunc(result, func(a, b domain.BranchStock) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, branchID string, kind string, sourceType string, sourceID string, adjustments []domain.StockAdjustment) ([]domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(branchID, kind, sourceType, sourceID, adjustments, time.Now().UTC())
}

func (s *Store) ApplyStockCount(_ context.Context, branchID string, sourceID string, counts []domain.StockOpnameItem) ([]domain.StockOpnameAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branchesByID[branchID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.StockOpnameAdjustment, 0, len(counts))
	deltas := make([]domain.StockAdjustment, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, count := range counts {
		sku := strings.ToUpper(strings.TrimSpace(count.SKU))
		if _, dup := seen[sku]; dup {
			return nil, fmt.Errorf("%w: sku %s counted twice", store.ErrInvalidTransaction, sku)
		}
		seen[sku] = struct{}{}
		if err := reconcile.CheckQty("counted qty", count.CountedQty); err != nil {
			return nil, err
		}
		if _, ok := s.products[sku]; !ok {
			return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, sku)
		}
		system := decimal.Zero
		if row := s.stock[branchID][sku]; row != nil {
			system = row.qty
		}
		delta := count.CountedQty.Sub(system)
		result = append(result, domain.StockOpnameAdjustment{
			SKU:        sku,
			SystemQty:  system,
			CountedQty: count.CountedQty,
			DeltaQty:   delta,
		})
		if !delta.IsZero() {
			deltas = append(deltas, domain.StockAdjustment{SKU: sku, Qty: delta})
		}
	}
	if _, err := s.applyLocked(branchID, domain.MovementOpname, "stock_opname", sourceID, deltas, time.Now().UTC()); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStockMovements(_ context.Context, branchID string, sku string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 64)
	for _, m := range s.movements {
		if branchID != "" && m.BranchID != branchID {
			continue
		}
		if sku != "" && m.SKU != sku {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListLossEntries(_ context.Context, branchID string, from time.Time, to time.Time) ([]domain.LossEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LossEntry, 0, len(s.losses))
	for _, l := range s.losses {
		if branchID != "" && l.BranchID != branchID {
			continue
		}
		if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
			continue
		}
		result = append(result, l)
	}
	slices.SortFunc(result, func(a, b domain.LossEntry) int {
		return newestFirst(b.CreatedAt, a.CreatedAt, b.ID, a.ID)
	})
	return result, nil
}

// applyLocked validates every adjustment before touching any balance, so a
// rejected batch leaves stock and the movement ledger unchanged. Callers must
// hold s.mu.
func (s *Store) applyLocked(branchID string, kind string, sourceType string, sourceID string, adjustments []domain.StockAdjustment, at time.Time) ([]domain.StockMovement, error) {
	branchStock, ok := s.stock[branchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
	}

	current := make(map[string]reconcile.Balance, len(adjustments))
	for _, adj := range adjustments {
		if _, exists := s.products[adj.SKU]; !exists {
			return nil, fmt.Errorf("%w: sku %s unavailable", store.ErrNotFound, adj.SKU)
		}
		if row := branchStock[adj.SKU]; row != nil {
			current[adj.SKU] = reconcile.Balance{Qty: row.qty, UnitCostCents: row.unitCost}
		}
	}
	steps, _, err := reconcile.PlanStock(current, adjustments)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(steps))
	for _, step := range steps {
		sku := step.Adjustment.SKU
		row := branchStock[sku]
		if row == nil {
			row = &stockRow{}
			branchStock[sku] = row
		}
		row.qty = step.After.Qty
		row.unitCost = step.After.UnitCostCents
		row.updatedAt = at
		m := domain.StockMovement{
			ID:           xid.New("mv"),
			BranchID:     branchID,
			SKU:          sku,
			Kind:         kind,
			Qty:          step.Adjustment.Qty,
			BalanceAfter: step.After.Qty,
			SourceType:   sourceType,
			SourceID:     sourceID,
			CreatedAt:    at,
		}
		s.movements = append(s.movements, m)
		movements = append(movements, m)
	}
	return movements, nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) CreateCheckout(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey == "" {
		return nil, store.ErrInvalidTransaction
	}

	if existing, ok := s.transactionsByIdem[tx.IdempotencyKey]; ok {
		return cloneTransaction(existing), nil
	}

	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.branchesByID[tx.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, tx.BranchID)
	}

	lines, subtotal, err := checkout.PriceLines(tx.Items, func(sku string) (domain.Product, bool) {
		p, ok := s.products[sku]
		return p, ok && p.Active
	})
	if err != nil {
		return nil, err
	}
	if err := checkout.Settle(&tx, subtotal); err != nil {
		return nil, err
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Items = lines
	if tx.Status == "" {
		tx.Status = domain.TxStatusPaid
	}

	deductions := make([]domain.StockAdjustment, 0, len(lines))
	for _, line := range lines {
		deductions = append(deductions, domain.StockAdjustment{SKU: line.SKU, Qty: line.Qty.Neg()})
	}
	if _, err := s.applyLocked(tx.BranchID, domain.MovementSale, "transaction", tx.ID, deductions, tx.CreatedAt); err != nil {
		return nil, err
	}

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy
	s.transactionsByIdem[tx.IdempotencyKey] = txCopy

	return cloneTransaction(txCopy), nil
}

func (s *Store) VoidTransaction(_ context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusPaid {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrConflict, tx.Status)
	}

	restock := make([]domain.StockAdjustment, 0, len(tx.Items))
	for _, item := range tx.Items {
		restock = append(restock, domain.StockAdjustment{SKU: item.SKU, Qty: item.Qty})
	}
	if _, err := s.applyLocked(tx.BranchID, domain.MovementSaleVoid, "transaction", tx.ID, restock, at); err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatusVoided
	tx.VoidReason = reason
	tx.VoidedAt = &at

	return cloneTransaction(tx), nil
}

func (s *Store) GetDailyReport(_ context.Context, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tally := checkout.NewDailyTally(branchID)
	for _, tx := range s.transactionsByID {
		if branchID != "" && tx.BranchID != branchID {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		tally.Add(tx)
	}
	return tally.Report(), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.BranchID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branchesByID[shift.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, shift.BranchID)
	}
	key := shiftMapKey(shift.BranchID, shift.TerminalID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, fmt.Errorf("%w: terminal %s already has an open shift", store.ErrConflict, shift.TerminalID)
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

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, branchID string, terminalID string, closingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(branchID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(branchID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCashCents = closingCashCents
	shift.ClosedAt = &closedAt

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, branchID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(branchID, terminalID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Kind == "" || n.Title == "" {
		return store.ErrInvalidTransaction
	}
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, branchID string, role string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Notification, 0, 32)
	for _, n := range s.notifications {
		if !notificationVisible(n, branchID, role) {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	slices.SortFunc(result, func(a, b domain.Notification) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != id {
			continue
		}
		if s.notifications[i].ReadAt == nil {
			readAt := at
			s.notifications[i].ReadAt = &readAt
		}
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username %s already exists", store.ErrConflict, username)
	}
	if user.BranchID != "" {
		if _, ok := s.branchesByID[user.BranchID]; !ok {
			return fmt.Errorf("%w: branch %s", store.ErrNotFound, user.BranchID)
		}
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
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

func notificationVisible(n domain.Notification, branchID string, role string) bool {
	if n.BranchID != "" && branchID != "" && n.BranchID != branchID {
		return false
	}
	if n.Role != "" && role != "" && n.Role != role {
		return false
	}
	return true
}

func shiftMapKey(branchID string, terminalID string) string {
	return branchID + "::" + terminalID
}

// newestFirst orders by time descending, then by id descending.
func newestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return strings.Compare(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionLine, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}

func cloneNotification(src domain.Notification) domain.Notification {
	dup := src
	if src.ReadAt != nil {
		readAt := *src.ReadAt
		dup.ReadAt = &readAt
	}
	return dup
}
