package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	POSourceVendor        = "vendor"
	POSourceBranchRequest = "branch_request"
)

const (
	POStatusRequested = "requested"
	POStatusOrdered   = "ordered"
	POStatusPartial   = "partial"
	POStatusReceived  = "received"
	POStatusClosed    = "closed"
	POStatusCancelled = "cancelled"
)

const (
	LineStatusNotReceived = "not_received"
	LineStatusPartial     = "partial"
	LineStatusComplete    = "complete"
)

const (
	LossReasonSpoiled     = "spoiled"
	LossReasonDamaged     = "damaged"
	LossReasonTransitLoss = "transit_loss"
	LossReasonScrap       = "scrap"
)

type Supplier struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=160"`
	Phone string `json:"phone" validate:"max=32"`
}

type PurchaseOrder struct {
	ID          string              `json:"id"`
	BranchID    string              `json:"branch_id"`
	SupplierID  string              `json:"supplier_id,omitempty"`
	Source      string              `json:"source"`
	Status      string              `json:"status"`
	Notes       string              `json:"notes,omitempty"`
	RequestedBy string              `json:"requested_by"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Items       []PurchaseOrderItem `json:"items"`
}

// PurchaseOrderItem carries the line's reconciliation counters next to the
// ordered quantity. The counters only move forward through purchase entries.
type PurchaseOrderItem struct {
	SKU           string          `json:"sku"`
	UnitCostCents int64           `json:"unit_cost_cents"`
	Ordered       decimal.Decimal `json:"ordered"`
	Received      decimal.Decimal `json:"received"`
	Spoiled       decimal.Decimal `json:"spoiled"`
	Damaged       decimal.Decimal `json:"damaged"`
	Usable        decimal.Decimal `json:"usable"`
	Status        string          `json:"status"`
}

type PurchaseOrderItemRequest struct {
	SKU           string          `json:"sku" validate:"required"`
	Qty           decimal.Decimal `json:"qty" validate:"gt=0"`
	UnitCostCents int64           `json:"unit_cost_cents" validate:"gte=0"`
}

type PurchaseOrderCreateRequest struct {
	BranchID   string                     `json:"branch_id"`
	SupplierID string                     `json:"supplier_id"`
	Notes      string                     `json:"notes" validate:"max=500"`
	Items      []PurchaseOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type PurchaseOrderRouteCost struct {
	SKU           string `json:"sku" validate:"required"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gte=1"`
}

type PurchaseOrderRouteRequest struct {
	SupplierID string                   `json:"supplier_id" validate:"required"`
	Costs      []PurchaseOrderRouteCost `json:"costs" validate:"dive"`
}

type PurchaseOrderStatusRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type PurchaseOrderFilter struct {
	BranchID string
	Status   string
	Source   string
	From     time.Time
	To       time.Time
	Limit    int
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type PurchaseEntry struct {
	ID              string              `json:"id"`
	PurchaseOrderID string              `json:"purchase_order_id"`
	BranchID        string              `json:"branch_id"`
	Reference       string              `json:"reference"`
	ReceivedBy      string              `json:"received_by"`
	ReceivedAt      time.Time           `json:"received_at"`
	Notes           string              `json:"notes,omitempty"`
	Lines           []PurchaseEntryLine `json:"lines"`
}

type PurchaseEntryLine struct {
	SKU               string          `json:"sku"`
	Received          decimal.Decimal `json:"received"`
	Spoiled           decimal.Decimal `json:"spoiled"`
	Damaged           decimal.Decimal `json:"damaged"`
	Usable            decimal.Decimal `json:"usable"`
	UnitCostCents     int64           `json:"unit_cost_cents"`
	SpoiledValueCents int64           `json:"spoiled_value_cents"`
	DamagedValueCents int64           `json:"damaged_value_cents"`
}

type PurchaseEntryLineRequest struct {
	SKU      string          `json:"sku" validate:"required"`
	Received decimal.Decimal `json:"received" validate:"gte=0"`
	Spoiled  decimal.Decimal `json:"spoiled" validate:"gte=0"`
	Damaged  decimal.Decimal `json:"damaged" validate:"gte=0"`
}

type PurchaseEntryRequest struct {
	Reference string                     `json:"reference" validate:"required,max=64"`
	Notes     string                     `json:"notes" validate:"max=500"`
	Lines     []PurchaseEntryLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type PurchaseEntryResponse struct {
	Entry         PurchaseEntry `json:"entry"`
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
	Duplicate     bool          `json:"duplicate"`
}

type PurchaseEntryListResponse struct {
	Entries []PurchaseEntry `json:"entries"`
}

type LossEntry struct {
	ID            string          `json:"id" db:"id"`
	BranchID      string          `json:"branch_id" db:"branch_id"`
	SKU           string          `json:"sku" db:"sku"`
	Reason        string          `json:"reason" db:"reason"`
	Qty           decimal.Decimal `json:"qty" db:"qty"`
	UnitCostCents int64           `json:"unit_cost_cents" db:"unit_cost_cents"`
	ValueCents    int64           `json:"value_cents" db:"value_cents"`
	SourceType    string          `json:"source_type" db:"source_type"`
	SourceID      string          `json:"source_id" db:"source_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// LineDrift reports a PO line whose stored counters disagree with the sum of
// its purchase entries.
type LineDrift struct {
	SKU        string          `json:"sku"`
	Field      string          `json:"field"`
	Stored     decimal.Decimal `json:"stored"`
	Recomputed decimal.Decimal `json:"recomputed"`
}

type ReconciliationCheck struct {
	PurchaseOrderID string      `json:"purchase_order_id"`
	Entries         int         `json:"entries"`
	Consistent      bool        `json:"consistent"`
	Drift           []LineDrift `json:"drift"`
	CheckedAt       string      `json:"checked_at"`
}
