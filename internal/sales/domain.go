// Package sales records POS invoices and drives FIFO stock consumption for them.
package sales

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/shared"
	"github.com/retailpos/retailpos/internal/stock"
)

// SaleSystem selects which product price list an invoice sells at.
type SaleSystem string

const (
	RetailSale SaleSystem = "retailSale"
	WholeSale  SaleSystem = "wholeSale"
)

func (s SaleSystem) valid() bool {
	return s == RetailSale || s == WholeSale
}

// PaymentMethod accepted at the till.
type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodBKash PaymentMethod = "bkash"
	MethodNagad PaymentMethod = "nagad"
	MethodBank  PaymentMethod = "bank"
	MethodCard  PaymentMethod = "card"
)

func (m PaymentMethod) valid() bool {
	switch m {
	case MethodCash, MethodBKash, MethodNagad, MethodBank, MethodCard:
		return true
	}
	return false
}

// Customer is who the invoice was issued to.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Totals summarises an invoice's money.
type Totals struct {
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"discount"`
	Payable  decimal.Decimal `json:"payable"`
	Paid     decimal.Decimal `json:"paid"`
	Due      decimal.Decimal `json:"due"`
	Change   decimal.Decimal `json:"change"`
}

// Invoice is a completed sale.
type Invoice struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transactionId"`
	SaleSystem    SaleSystem      `json:"saleSystem"`
	Customer      Customer        `json:"customer"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Items         []InvoiceLine   `json:"items"`
	Totals        Totals          `json:"totals"`
	CostOfGoods   decimal.Decimal `json:"costOfGoods"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// InvoiceLine is one sold product with the batches it was taken from.
type InvoiceLine struct {
	ID        int64            `json:"id"`
	LineNo    int              `json:"lineNo"`
	ProductID uuid.UUID        `json:"productId"`
	Name      string           `json:"name"`
	Quantity  int64            `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Total     decimal.Decimal  `json:"total"`
	Costs     []stock.CostLine `json:"costs"`
}

// CostOfGoods sums the purchase cost of the line's batches.
func (l InvoiceLine) CostOfGoods() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range l.Costs {
		sum = sum.Add(c.Cost())
	}
	return sum
}

// ListFilter narrows invoice listings. Empty SaleSystem lists all.
type ListFilter struct {
	SaleSystem SaleSystem
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates a missing invoice.
	ErrNotFound = fmt.Errorf("sales: invoice %w", shared.ErrNotFound)
	// ErrValidation indicates a rejected request.
	ErrValidation = fmt.Errorf("sales: %w", shared.ErrValidation)
	// ErrInsufficientStock indicates a line asked for more than the ledger holds.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrValidation)
)

// InsufficientStockError names the line that could not be filled.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("sales: insufficient stock for %s (%s): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

// Unwrap exposes ErrInsufficientStock to errors.Is.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AsInsufficientStock extracts the shortfall details from err.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	ok := errors.As(err, &target)
	return target, ok
}
