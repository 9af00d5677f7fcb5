package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("state conflict")
	ErrOverReceipt        = errors.New("received quantity exceeds ordered")
	ErrForbidden          = errors.New("forbidden")
)

// Repository is the persistence contract shared by the in-memory and
// PostgreSQL stores. Every method that changes stock writes the matching
// movement rows in the same transaction.
type Repository interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context, includeInactive bool) ([]domain.Branch, error)
	UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)

	GetStockMap(ctx context.Context, branchID string, skus []string) (map[string]decimal.Decimal, error)
	ListBranchStock(ctx context.Context, branchID string) ([]domain.BranchStock, error)
	AdjustStock(ctx context.Context, branchID string, kind string, sourceType string, sourceID string, adjustments []domain.StockAdjustment) ([]domain.StockMovement, error)
	ApplyStockCount(ctx context.Context, branchID string, sourceID string, counts []domain.StockOpnameItem) ([]domain.StockOpnameAdjustment, error)
	ListStockMovements(ctx context.Context, branchID string, sku string, limit int) ([]domain.StockMovement, error)
	ListLossEntries(ctx context.Context, branchID string, from time.Time, to time.Time) ([]domain.LossEntry, error)

	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error)
	GetDailyReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DailyReport, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, branchID string, terminalID string, closingCashCents int64, closedAt time.Time) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, branchID string, terminalID string) (*domain.Shift, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error)
	RoutePurchaseOrder(ctx context.Context, purchaseOrderID string, supplierID string, costs map[string]int64, at time.Time) (*domain.PurchaseOrder, error)
	TransitionPurchaseOrder(ctx context.Context, purchaseOrderID string, from []string, to string, at time.Time) (*domain.PurchaseOrder, error)
	// RecordPurchaseEntry applies the entry to the order's line counters,
	// credits usable stock and writes spoiled/damaged losses atomically. A
	// reference already recorded for the order returns the stored entry and
	// duplicate=true without changing anything.
	RecordPurchaseEntry(ctx context.Context, entry domain.PurchaseEntry, lines []domain.PurchaseEntryLineRequest) (*domain.PurchaseEntry, *domain.PurchaseOrder, bool, error)
	ListPurchaseEntries(ctx context.Context, purchaseOrderID string) ([]domain.PurchaseEntry, error)

	CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error)
	DispatchTransfer(ctx context.Context, id string, lines []domain.TransferDispatchLine, dispatchedBy string, at time.Time) (*domain.StockTransfer, error)
	ReceiveTransfer(ctx context.Context, id string, lines []domain.TransferReceiveLine, weightTolerance decimal.Decimal, receivedBy string, at time.Time) (*domain.StockTransfer, error)
	ResolveDiscrepancy(ctx context.Context, transferID string, discrepancyID string, resolution string, notes string, resolvedBy string, at time.Time) (*domain.StockTransfer, error)
	CancelTransfer(ctx context.Context, id string, at time.Time) (*domain.StockTransfer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, branchID string, role string, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
