package inventory

import (
	"errors"
	"math"
	"time"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Movement reasons written by the console. Callers may use other values.
const (
	ReasonPurchase    = "purchase"
	ReasonSale        = "sale"
	ReasonReturn      = "return"
	ReasonAdjustment  = "adjustment"
	ReasonTransferOut = "transfer_out"
	ReasonTransferIn  = "transfer_in"
)

// StockKey identifies a stock level.
type StockKey struct {
	ProductID   int64
	WarehouseID int64
}

// Less orders keys by product then warehouse. Locks are always taken in this order.
func (k StockKey) Less(o StockKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.WarehouseID < o.WarehouseID
}

// StockLevel is the current quantity of a product in a warehouse. Never negative.
type StockLevel struct {
	ProductID    int64     `json:"product_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	CurrentStock int64     `json:"current_stock"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the level key.
func (l StockLevel) Key() StockKey {
	return StockKey{ProductID: l.ProductID, WarehouseID: l.WarehouseID}
}

// MovementRecord is one immutable entry of the movement log.
type MovementRecord struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	WarehouseID    int64     `json:"warehouse_id"`
	QuantityChange int64     `json:"quantity_change"`
	Reason         string    `json:"reason"`
	ReferenceType  string    `json:"reference_type,omitempty"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	UnitCost       *float64  `json:"unit_cost,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MovementInput describes a single stock movement request.
type MovementInput struct {
	ProductID      int64    `json:"product_id" validate:"required,gt=0"`
	WarehouseID    int64    `json:"warehouse_id" validate:"required,gt=0"`
	QuantityChange int64    `json:"quantity_change" validate:"required"`
	Reason         string   `json:"reason" validate:"required,max=64"`
	ReferenceType  string   `json:"reference_type" validate:"omitempty,max=64"`
	ReferenceID    string   `json:"reference_id" validate:"omitempty,max=128"`
	UnitCost       *float64 `json:"unit_cost" validate:"omitempty,gte=0"`
	UserID         string   `json:"-"`
	IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,max=128"`
}

// BatchItem is one product line of a batch movement.
type BatchItem struct {
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	QuantityChange  int64   `json:"quantity_change" validate:"required"`
	UnitCostWithVAT float64 `json:"unit_cost_with_vat" validate:"gte=0"`
}

// Settlement asks a batch to post the matching ledger transaction in the same unit.
type Settlement struct {
	PaymentAccountID   int64  `json:"payment_account_id" validate:"required,gt=0"`
	InventoryAccountID int64  `json:"inventory_account_id" validate:"omitempty,gt=0"`
	Description        string `json:"description" validate:"omitempty,max=500"`
}

// BatchInput describes a multi-product movement into one warehouse.
type BatchInput struct {
	WarehouseID    int64       `json:"warehouse_id" validate:"required,gt=0"`
	Items          []BatchItem `json:"items" validate:"required,min=1,dive"`
	Reason         string      `json:"reason" validate:"required,max=64"`
	ReferenceType  string      `json:"reference_type" validate:"omitempty,max=64"`
	ReferenceID    string      `json:"reference_id" validate:"omitempty,max=128"`
	UserID         string      `json:"-"`
	IdempotencyKey string      `json:"idempotency_key" validate:"omitempty,max=128"`
	Settlement     *Settlement `json:"settlement" validate:"omitempty"`
}

// BatchResult reports everything a batch committed.
type BatchResult struct {
	Movements   []MovementRecord `json:"movements"`
	Levels      []StockLevel     `json:"levels"`
	Transaction *LedgerRef       `json:"transaction,omitempty"`
}

// LedgerRef identifies the settlement transaction of a batch.
type LedgerRef struct {
	ID     int64   `json:"id"`
	Amount float64 `json:"amount"`
}

// TransferInput moves stock between two warehouses in one unit.
type TransferInput struct {
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64  `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64  `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	Quantity        int64  `json:"quantity" validate:"required,gt=0"`
	ReferenceID     string `json:"reference_id" validate:"omitempty,max=128"`
	UserID          string `json:"-"`
	IdempotencyKey  string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out  MovementRecord `json:"out"`
	In   MovementRecord `json:"in"`
	From StockLevel     `json:"from"`
	To   StockLevel     `json:"to"`
}

// MovementFilter narrows a movement listing.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// StockDiscrepancy reports a key whose level differs from the sum of its movements.
type StockDiscrepancy struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
	Level       int64 `json:"level"`
	MovementSum int64 `json:"movement_sum"`
}

var (
	// ErrInsufficientStock indicates an outbound movement larger than the stock on hand.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a zero or out of range quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero and within range")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidKey indicates a missing product or warehouse.
	ErrInvalidKey = errors.New("inventory: product and warehouse required")
	// ErrSameWarehouse indicates a transfer onto its own source.
	ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")
	// ErrSettlementAccount indicates a settlement without resolvable accounts.
	ErrSettlementAccount = errors.New("inventory: settlement accounts required")
)

// Validate checks a single movement request.
func (in MovementInput) Validate() error {
	if in.ProductID <= 0 || in.WarehouseID <= 0 {
		return shared.Validation(ErrInvalidKey, shared.Detail{Field: "product_id/warehouse_id", Value: StockKey{in.ProductID, in.WarehouseID}, Expected: "positive ids"})
	}
	if in.QuantityChange == 0 {
		return shared.Validation(ErrInvalidQuantity, shared.Detail{Field: "quantity_change", Value: in.QuantityChange, Expected: "non-zero integer"})
	}
	if in.Reason == "" {
		return shared.Validation(errors.New("inventory: reason required"), shared.Detail{Field: "reason"})
	}
	if in.UnitCost != nil && !validCost(*in.UnitCost) {
		return shared.Validation(ErrInvalidUnitCost, shared.Detail{Field: "unit_cost", Value: *in.UnitCost, Expected: "finite amount >= 0"})
	}
	return nil
}

// Validate checks every item before anything is written.
func (in BatchInput) Validate() error {
	if in.WarehouseID <= 0 {
		return shared.Validation(ErrInvalidKey, shared.Detail{Field: "warehouse_id", Value: in.WarehouseID, Expected: "positive id"})
	}
	if len(in.Items) == 0 {
		return shared.Validation(errors.New("inventory: batch has no items"), shared.Detail{Field: "items", Expected: "at least one item"})
	}
	if in.Reason == "" {
		return shared.Validation(errors.New("inventory: reason required"), shared.Detail{Field: "reason"})
	}
	for idx, item := range in.Items {
		row := idx + 1
		if item.ProductID <= 0 {
			return shared.Validation(ErrInvalidKey, shared.Detail{Row: row, Field: "product_id", Value: item.ProductID, Expected: "positive id"})
		}
		if item.QuantityChange == 0 {
			return shared.Validation(ErrInvalidQuantity, shared.Detail{Row: row, Field: "quantity_change", Value: item.QuantityChange, Expected: "non-zero integer"})
		}
		if !validCost(item.UnitCostWithVAT) {
			return shared.Validation(ErrInvalidUnitCost, shared.Detail{Row: row, Field: "unit_cost_with_vat", Value: item.UnitCostWithVAT, Expected: "finite amount >= 0"})
		}
		if in.Settlement != nil && item.QuantityChange < 0 {
			return shared.Validation(ErrInvalidQuantity, shared.Detail{Row: row, Field: "quantity_change", Value: item.QuantityChange, Expected: "positive quantity for a settled purchase"})
		}
	}
	return nil
}

// Validate checks a transfer request.
func (in TransferInput) Validate() error {
	if in.ProductID <= 0 || in.FromWarehouseID <= 0 || in.ToWarehouseID <= 0 {
		return shared.Validation(ErrInvalidKey, shared.Detail{Field: "product_id/from_warehouse_id/to_warehouse_id", Expected: "positive ids"})
	}
	if in.FromWarehouseID == in.ToWarehouseID {
		return shared.Validation(ErrSameWarehouse, shared.Detail{Field: "to_warehouse_id", Value: in.ToWarehouseID})
	}
	if in.Quantity <= 0 {
		return shared.Validation(ErrInvalidQuantity, shared.Detail{Field: "quantity", Value: in.Quantity, Expected: "positive integer"})
	}
	return nil
}

// Normalize applies listing defaults.
func (f MovementFilter) Normalize() MovementFilter {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 200
	}
	return f
}

func validCost(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
