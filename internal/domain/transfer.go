package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransferStatusRequested   = "requested"
	TransferStatusInTransit   = "in_transit"
	TransferStatusDiscrepancy = "discrepancy"
	TransferStatusCompleted   = "completed"
	TransferStatusCancelled   = "cancelled"
)

const (
	DiscrepancyShortage = "shortage"
	DiscrepancyOverage  = "overage"
	DiscrepancyWeight   = "weight"
)

const (
	DiscrepancyOpen     = "open"
	DiscrepancyResolved = "resolved"
)

const (
	ResolutionAdjustment = "adjustment"
	ResolutionScrap      = "scrap"
)

type StockTransfer struct {
	ID            string                `json:"id"`
	FromBranchID  string                `json:"from_branch_id"`
	ToBranchID    string                `json:"to_branch_id"`
	Status        string                `json:"status"`
	Notes         string                `json:"notes,omitempty"`
	RequestedBy   string                `json:"requested_by"`
	DispatchedBy  string                `json:"dispatched_by,omitempty"`
	ReceivedBy    string                `json:"received_by,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	DispatchedAt  *time.Time            `json:"dispatched_at,omitempty"`
	ReceivedAt    *time.Time            `json:"received_at,omitempty"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	Items         []StockTransferItem   `json:"items"`
	Discrepancies []TransferDiscrepancy `json:"discrepancies"`
}

type StockTransferItem struct {
	SKU                string          `json:"sku"`
	Requested          decimal.Decimal `json:"requested"`
	Dispatched         decimal.Decimal `json:"dispatched"`
	Received           decimal.Decimal `json:"received"`
	DispatchedWeightKg decimal.Decimal `json:"dispatched_weight_kg"`
	ReceivedWeightKg   decimal.Decimal `json:"received_weight_kg"`
	UnitCostCents      int64           `json:"unit_cost_cents"`
}

type TransferDiscrepancy struct {
	ID               string          `json:"id" db:"id"`
	TransferID       string          `json:"transfer_id" db:"transfer_id"`
	SKU              string          `json:"sku" db:"sku"`
	Kind             string          `json:"kind" db:"kind"`
	ExpectedQty      decimal.Decimal `json:"expected_qty" db:"expected_qty"`
	ReceivedQty      decimal.Decimal `json:"received_qty" db:"received_qty"`
	DeltaQty         decimal.Decimal `json:"delta_qty" db:"delta_qty"`
	ExpectedWeightKg decimal.Decimal `json:"expected_weight_kg" db:"expected_weight_kg"`
	ReceivedWeightKg decimal.Decimal `json:"received_weight_kg" db:"received_weight_kg"`
	UnitCostCents    int64           `json:"unit_cost_cents" db:"unit_cost_cents"`
	Status           string          `json:"status" db:"status"`
	Resolution       string          `json:"resolution,omitempty" db:"resolution"`
	ValueCents       int64           `json:"value_cents" db:"value_cents"`
	Notes            string          `json:"notes,omitempty" db:"notes"`
	ResolvedBy       string          `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

type TransferItemRequest struct {
	SKU string          `json:"sku" validate:"required"`
	Qty decimal.Decimal `json:"qty" validate:"gt=0"`
}

type TransferCreateRequest struct {
	FromBranchID string                `json:"from_branch_id"`
	ToBranchID   string                `json:"to_branch_id" validate:"required"`
	Notes        string                `json:"notes" validate:"max=500"`
	Items        []TransferItemRequest `json:"items" validate:"required,min=1,dive"`
}

type TransferDispatchLine struct {
	SKU      string          `json:"sku" validate:"required"`
	Qty      decimal.Decimal `json:"qty" validate:"gte=0"`
	WeightKg decimal.Decimal `json:"weight_kg" validate:"gte=0"`
}

type TransferDispatchRequest struct {
	Lines []TransferDispatchLine `json:"lines" validate:"dive"`
}

type TransferReceiveLine struct {
	SKU      string          `json:"sku" validate:"required"`
	Qty      decimal.Decimal `json:"qty" validate:"gte=0"`
	WeightKg decimal.Decimal `json:"weight_kg" validate:"gte=0"`
}

type TransferReceiveRequest struct {
	Lines []TransferReceiveLine `json:"lines" validate:"required,min=1,dive"`
}

type DiscrepancyResolveRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=adjustment scrap"`
	Notes      string `json:"notes" validate:"max=500"`
}

type TransferFilter struct {
	BranchID string
	Status   string
	Limit    int
}

type StockTransferResponse struct {
	Transfer StockTransfer `json:"transfer"`
}

type StockTransferListResponse struct {
	Transfers []StockTransfer `json:"transfers"`
}
