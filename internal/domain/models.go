package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Actor struct {
	Username string
	Role     string
	BranchID string
}

type Branch struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	Address   string    `json:"address" db:"address"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type BranchCreateRequest struct {
	Code    string `json:"code" validate:"required,max=16,alphanumunicode"`
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=255"`
}

type BranchUpdateRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=255"`
	Active  *bool   `json:"active,omitempty"`
}

type Product struct {
	SKU        string  `json:"sku" db:"sku"`
	Name       string  `json:"name" db:"name"`
	Category   string  `json:"category" db:"category"`
	Unit       string  `json:"unit" db:"unit"`
	PriceCents int64   `json:"price_cents" db:"price_cents"`
	MarginRate float64 `json:"margin_rate" db:"margin_rate"`
	Active     bool    `json:"active" db:"active"`
}

type ProductCreateRequest struct {
	BranchID     string          `json:"branch_id"`
	SKU          string          `json:"sku" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=160"`
	Category     string          `json:"category" validate:"required,max=64"`
	Unit         string          `json:"unit" validate:"omitempty,oneof=pcs kg l pack"`
	PriceCents   int64           `json:"price_cents" validate:"gte=1"`
	MarginRate   float64         `json:"margin_rate" validate:"gte=0,lte=1"`
	InitialStock decimal.Decimal `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Category   *string  `json:"category,omitempty" validate:"omitempty,min=1,max=64"`
	Unit       *string  `json:"unit,omitempty" validate:"omitempty,oneof=pcs kg l pack"`
	PriceCents *int64   `json:"price_cents,omitempty" validate:"omitempty,gte=1"`
	MarginRate *float64 `json:"margin_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	Active     *bool    `json:"active,omitempty"`
}

// BranchStock is the per-branch pivot row for a product.
type BranchStock struct {
	BranchID      string          `json:"branch_id" db:"branch_id"`
	SKU           string          `json:"sku" db:"sku"`
	Qty           decimal.Decimal `json:"qty" db:"qty"`
	UnitCostCents int64           `json:"unit_cost_cents" db:"unit_cost_cents"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// StockAdjustment is one signed stock change applied by the repository.
// UnitCostCents is only used on inbound adjustments to move the weighted cost.
type StockAdjustment struct {
	SKU           string          `json:"sku"`
	Qty           decimal.Decimal `json:"qty"`
	UnitCostCents int64           `json:"unit_cost_cents,omitempty"`
}

type StockMovement struct {
	ID           string          `json:"id" db:"id"`
	BranchID     string          `json:"branch_id" db:"branch_id"`
	SKU          string          `json:"sku" db:"sku"`
	Kind         string          `json:"kind" db:"kind"`
	Qty          decimal.Decimal `json:"qty" db:"qty"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	SourceType   string          `json:"source_type" db:"source_type"`
	SourceID     string          `json:"source_id" db:"source_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type StockListResponse struct {
	BranchID string        `json:"branch_id"`
	Stocks   []BranchStock `json:"stocks"`
}

type StockMovementListResponse struct {
	Movements []StockMovement `json:"movements"`
}

type StockOpnameItem struct {
	SKU        string          `json:"sku" validate:"required"`
	CountedQty decimal.Decimal `json:"counted_qty" validate:"gte=0"`
}

type StockOpnameRequest struct {
	BranchID string            `json:"branch_id"`
	Notes    string            `json:"notes" validate:"max=500"`
	Items    []StockOpnameItem `json:"items" validate:"required,min=1,dive"`
}

type StockOpnameAdjustment struct {
	SKU        string          `json:"sku"`
	SystemQty  decimal.Decimal `json:"system_qty"`
	CountedQty decimal.Decimal `json:"counted_qty"`
	DeltaQty   decimal.Decimal `json:"delta_qty"`
}

type StockOpnameResponse struct {
	OpnameID    string                  `json:"opname_id"`
	BranchID    string                  `json:"branch_id"`
	Notes       string                  `json:"notes"`
	Adjustments []StockOpnameAdjustment `json:"adjustments"`
	CreatedAt   string                  `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	BranchID  string    `db:"branch_id"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type CartItem struct {
	SKU string          `json:"sku"`
	Qty decimal.Decimal `json:"qty"`
}

type CheckoutRequest struct {
	BranchID          string     `json:"branch_id"`
	TerminalID        string     `json:"terminal_id" validate:"required"`
	IdempotencyKey    string     `json:"idempotency_key"`
	PaymentMethod     string     `json:"payment_method" validate:"omitempty,oneof=cash card qris ewallet"`
	PaymentReference  string     `json:"payment_reference,omitempty"`
	CashReceivedCents int64      `json:"cash_received_cents" validate:"gte=0"`
	DiscountCents     int64      `json:"discount_cents" validate:"gte=0"`
	TaxRatePercent    float64    `json:"tax_rate_percent" validate:"gte=0,lte=100"`
	CartItems         []CartItem `json:"cart_items" validate:"required,min=1"`
}

type CheckoutResponse struct {
	TransactionID string          `json:"transaction_id"`
	BranchID      string          `json:"branch_id"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	SubtotalCents int64           `json:"subtotal_cents"`
	DiscountCents int64           `json:"discount_cents"`
	TaxCents      int64           `json:"tax_cents"`
	TotalCents    int64           `json:"total_cents"`
	CashReceived  int64           `json:"cash_received_cents"`
	ChangeCents   int64           `json:"change_cents"`
	ItemQty       decimal.Decimal `json:"item_qty"`
	ShiftID       string          `json:"shift_id,omitempty"`
	Duplicate     bool            `json:"duplicate"`
	CreatedAt     string          `json:"created_at"`
}

type CheckoutLookupResponse struct {
	Found    bool              `json:"found"`
	Checkout *CheckoutResponse `json:"checkout,omitempty"`
}

type Shift struct {
	ID                string     `json:"id"`
	BranchID          string     `json:"branch_id"`
	TerminalID        string     `json:"terminal_id"`
	CashierName       string     `json:"cashier_name"`
	OpeningFloatCents int64      `json:"opening_float_cents"`
	ClosingCashCents  int64      `json:"closing_cash_cents,omitempty"`
	Status            string     `json:"status"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	BranchID          string `json:"branch_id"`
	TerminalID        string `json:"terminal_id" validate:"required"`
	CashierName       string `json:"cashier_name"`
	OpeningFloatCents int64  `json:"opening_float_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	BranchID         string `json:"branch_id"`
	TerminalID       string `json:"terminal_id" validate:"required"`
	ClosingCashCents int64  `json:"closing_cash_cents" validate:"gte=0"`
	Notes            string `json:"notes"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type VoidTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
	ManagerPIN    string `json:"manager_pin"`
}

type VoidTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	VoidedAt      string `json:"voided_at"`
}

type TransactionLine struct {
	SKU            string
	Qty            decimal.Decimal
	UnitPriceCents int64
	LineTotalCents int64
	MarginRate     float64
}

type Transaction struct {
	ID                string
	BranchID          string
	TerminalID        string
	ShiftID           string
	IdempotencyKey    string
	PaymentMethod     string
	PaymentReference  string
	SubtotalCents     int64
	DiscountCents     int64
	TaxRatePercent    float64
	TaxCents          int64
	TotalCents        int64
	CashReceivedCents int64
	ChangeCents       int64
	Status            string
	VoidReason        string
	VoidedAt          *time.Time
	CreatedAt         time.Time
	Items             []TransactionLine
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	BranchID      string    `json:"branch_id" db:"branch_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type Notification struct {
	ID         string     `json:"id" db:"id"`
	BranchID   string     `json:"branch_id,omitempty" db:"branch_id"`
	Role       string     `json:"role,omitempty" db:"role"`
	Kind       string     `json:"kind" db:"kind"`
	Title      string     `json:"title" db:"title"`
	Body       string     `json:"body" db:"body"`
	EntityType string     `json:"entity_type" db:"entity_type"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	ReadAt     *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
}

const (
	TxStatusPaid   = "paid"
	TxStatusVoided = "voided"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	MovementInitial            = "initial"
	MovementPurchaseReceipt    = "purchase_receipt"
	MovementSale               = "sale"
	MovementSaleVoid           = "sale_void"
	MovementTransferOut        = "transfer_out"
	MovementTransferIn         = "transfer_in"
	MovementTransferAdjustment = "transfer_adjustment"
	MovementTransferScrap      = "transfer_scrap"
	MovementOpname             = "opname"
)

const (
	NotifyPORequested         = "po_requested"
	NotifyPORouted            = "po_routed"
	NotifyPurchaseEntry       = "purchase_entry_recorded"
	NotifyTransferDispatched  = "transfer_dispatched"
	NotifyDiscrepancyOpened   = "discrepancy_opened"
	NotifyDiscrepancyResolved = "discrepancy_resolved"
)
