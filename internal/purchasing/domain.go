package purchasing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/shared"
)

// Status of a purchase.
type Status string

const (
	StatusOrder    Status = "Order"
	StatusPending  Status = "Pending"
	StatusReceived Status = "Received"
)

// PaymentMethod accepted for purchases and supplier payments.
type PaymentMethod string

const (
	MethodCash  PaymentMethod = "Cash"
	MethodBank  PaymentMethod = "Bank"
	MethodBKash PaymentMethod = "bKash"
	MethodNagad PaymentMethod = "Nagad"
	MethodOther PaymentMethod = "Other"
)

func (m PaymentMethod) valid() bool {
	switch m {
	case MethodCash, MethodBank, MethodBKash, MethodNagad, MethodOther:
		return true
	}
	return false
}

func (s Status) valid() bool {
	switch s {
	case StatusOrder, StatusPending, StatusReceived:
		return true
	}
	return false
}

// Supplier is the directory entry a purchase references.
type Supplier struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// Purchase is a received supplier invoice.
type Purchase struct {
	ID              int64           `json:"id"`
	InvoiceNumber   int64           `json:"invoiceNumber"`
	Supplier        Supplier        `json:"supplier"`
	Lines           []PurchaseLine  `json:"items"`
	Total           decimal.Decimal `json:"total"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Discount        decimal.Decimal `json:"discount"`
	ShippingCost    decimal.Decimal `json:"shippingCost"`
	GrandTotal      decimal.Decimal `json:"grandTotal"`
	Paid            decimal.Decimal `json:"paid"`
	Due             decimal.Decimal `json:"due"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Status          Status          `json:"status"`
	PurchaseDate    time.Time       `json:"purchaseDate"`
	DueDate         *time.Time      `json:"dueDate,omitempty"`
	Note            string          `json:"note,omitempty"`
	Payments        []Payment       `json:"payments"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// PurchaseLine is one product on a purchase.
type PurchaseLine struct {
	ID             int64            `json:"id"`
	LineNo         int              `json:"lineNo"`
	ProductID      uuid.UUID        `json:"productId"`
	ProductName    string           `json:"productName"`
	Category       string           `json:"category,omitempty"`
	Quantity       int64            `json:"quantity"`
	ReturnedQty    int64            `json:"returnedQty"`
	PurchasePrice  decimal.Decimal  `json:"purchasePrice"`
	RetailPrice    *decimal.Decimal `json:"retailPrice,omitempty"`
	WholesalePrice *decimal.Decimal `json:"wholesalePrice,omitempty"`
}

// Returnable is what can still go back to the supplier.
func (l PurchaseLine) Returnable() int64 {
	return l.Quantity - l.ReturnedQty
}

// Payment is one settlement against a purchase's due amount.
type Payment struct {
	ID         int64           `json:"id"`
	PurchaseID int64           `json:"purchaseId"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Note       string          `json:"note,omitempty"`
	PaidAt     time.Time       `json:"paidAt"`
}

// PurchaseReturn records goods sent back to the supplier.
type PurchaseReturn struct {
	ID                int64           `json:"id"`
	PurchaseID        int64           `json:"purchaseId"`
	SupplierID        int64           `json:"supplierId"`
	InvoiceNumber     int64           `json:"invoiceNumber"`
	Lines             []ReturnLine    `json:"items"`
	TotalReturnAmount decimal.Decimal `json:"totalReturnAmount"`
	Reason            string          `json:"reason,omitempty"`
	ReturnDate        time.Time       `json:"returnDate"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// ReturnLine is one product on a return.
type ReturnLine struct {
	ProductID   uuid.UUID       `json:"productId"`
	ProductName string          `json:"productName"`
	Qty         int64           `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	SupplierID int64
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates a missing purchase.
	ErrNotFound = fmt.Errorf("purchasing: purchase %w", shared.ErrNotFound)
	// ErrValidation indicates a rejected request.
	ErrValidation = fmt.Errorf("purchasing: %w", shared.ErrValidation)
	// ErrSupplierNotFound indicates the referenced supplier does not exist.
	ErrSupplierNotFound = fmt.Errorf("%w: supplier not found", ErrValidation)
	// ErrLineNotInPurchase indicates a return names a product the purchase never had.
	ErrLineNotInPurchase = fmt.Errorf("%w: item not found in purchase", ErrValidation)
	// ErrReturnExceedsRemaining indicates a return larger than the un-returned quantity.
	ErrReturnExceedsRemaining = fmt.Errorf("%w: return exceeds remaining quantity", ErrValidation)
	// ErrPaymentExceedsDue indicates a payment larger than the due amount.
	ErrPaymentExceedsDue = fmt.Errorf("%w: payment exceeds due", ErrValidation)
)
