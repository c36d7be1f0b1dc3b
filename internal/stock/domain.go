package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/shared"
)

// Product is the per-product aggregate: running on-hand quantity and current prices.
type Product struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	Brand          string          `json:"brand,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	Quantity       int64           `json:"quantity"`
	AlertQuantity  int64           `json:"alertQuantity"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	RetailPrice    decimal.Decimal `json:"retailPrice"`
	WholesalePrice decimal.Decimal `json:"wholesalePrice"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// LowStock reports whether the quantity reached the alert threshold.
func (p Product) LowStock() bool {
	return p.Quantity <= p.AlertQuantity
}

// Batch is one received purchase line in the FIFO ledger.
// ID is assigned in insertion order and breaks ties between equal purchase dates.
type Batch struct {
	ID                int64           `json:"id"`
	ProductID         uuid.UUID       `json:"productId"`
	PurchaseID        int64           `json:"purchaseId,omitempty"`
	PurchasePrice     decimal.Decimal `json:"purchasePrice"`
	RetailPrice       decimal.Decimal `json:"retailPrice"`
	WholesalePrice    decimal.Decimal `json:"wholesalePrice"`
	Quantity          int64           `json:"quantity"`
	RemainingQuantity int64           `json:"remainingQuantity"`
	PurchaseDate      time.Time       `json:"purchaseDate"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Exhausted batches are kept for history but never selected again.
func (b Batch) Exhausted() bool {
	return b.RemainingQuantity <= 0
}

// CostLine records what one batch contributed to a deduction.
type CostLine struct {
	BatchID        int64           `json:"batchId"`
	Quantity       int64           `json:"quantity"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	RetailPrice    decimal.Decimal `json:"retailPrice"`
	WholesalePrice decimal.Decimal `json:"wholesalePrice"`
}

// Cost is quantity times purchase price.
func (c CostLine) Cost() decimal.Decimal {
	return c.PurchasePrice.Mul(decimal.NewFromInt(c.Quantity))
}

// DeductionResult reports what a deduction consumed.
// Success is true only when RemainingToDeduct is zero.
type DeductionResult struct {
	ProductID         uuid.UUID  `json:"productId"`
	Requested         int64      `json:"requested"`
	RemainingToDeduct int64      `json:"remainingToDeduct"`
	Success           bool       `json:"success"`
	DeductedBatches   []CostLine `json:"deductedBatches"`
}

// Deducted is the quantity actually taken from the ledger.
func (r DeductionResult) Deducted() int64 {
	return r.Requested - r.RemainingToDeduct
}

// CostOfGoods sums the purchase cost of every consumed unit.
func (r DeductionResult) CostOfGoods() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.DeductedBatches {
		total = total.Add(line.Cost())
	}
	return total
}

// Summary compares the aggregate with the ledger for one product.
type Summary struct {
	ProductID      uuid.UUID       `json:"productId"`
	Quantity       int64           `json:"quantity"`
	LedgerQuantity int64           `json:"ledgerQuantity"`
	OpenBatches    int             `json:"openBatches"`
	Consistent     bool            `json:"consistent"`
	InventoryValue decimal.Decimal `json:"inventoryValue"`
}

// Mismatch is a product whose aggregate quantity differs from its ledger.
type Mismatch struct {
	ProductID      uuid.UUID `json:"productId"`
	Name           string    `json:"name"`
	Quantity       int64     `json:"quantity"`
	LedgerQuantity int64     `json:"ledgerQuantity"`
}

// Difference is aggregate minus ledger.
func (m Mismatch) Difference() int64 {
	return m.Quantity - m.LedgerQuantity
}

// ReceiveInput describes one intake line. A nil ProductID or an unknown one creates the product.
type ReceiveInput struct {
	ProductID      uuid.UUID
	Name           string
	Category       string
	Brand          string
	Unit           string
	Quantity       int64
	PurchasePrice  decimal.Decimal
	RetailPrice    *decimal.Decimal
	WholesalePrice *decimal.Decimal
	PurchaseID     int64
	PurchaseDate   time.Time
}

// Receipt is the outcome of one intake line.
type Receipt struct {
	Product Product
	Batch   Batch
	Created bool
}

// ReturnInput sends units of a purchase back to the supplier.
type ReturnInput struct {
	ProductID  uuid.UUID
	PurchaseID int64
	Quantity   int64
}

// ReturnResult lists the batches a supplier return drew from.
type ReturnResult struct {
	Product  Product
	Consumed []CostLine
}

var (
	// ErrNotFound indicates a missing product.
	ErrNotFound = fmt.Errorf("stock: product %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("stock: quantity must be positive: %w", shared.ErrValidation)
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = fmt.Errorf("stock: price must be >= 0: %w", shared.ErrValidation)
	// ErrInvalidProduct indicates a new product without a name.
	ErrInvalidProduct = fmt.Errorf("stock: product name required: %w", shared.ErrValidation)
	// ErrNegativeQuantity indicates the aggregate would drop below zero.
	ErrNegativeQuantity = fmt.Errorf("stock: quantity would become negative: %w", shared.ErrValidation)
	// ErrReturnExceedsBatch indicates the purchase's batches no longer hold the returned units.
	ErrReturnExceedsBatch = fmt.Errorf("stock: return exceeds units left in purchase batches: %w", shared.ErrValidation)
	// ErrConflict indicates a concurrent writer changed the row; retry the request.
	ErrConflict = fmt.Errorf("stock: concurrent update: %w", shared.ErrConflict)
)

// IsConflict reports whether err is a retryable concurrent-modification error.
func IsConflict(err error) bool {
	return errors.Is(err, shared.ErrConflict)
}
