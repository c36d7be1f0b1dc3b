package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreatePurchaseRequest is the body of POST /api/purchases.
type CreatePurchaseRequest struct {
	Supplier        int64                 `json:"supplier" validate:"required,gt=0"`
	Items           []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
	Total           *decimal.Decimal      `json:"total"`
	DiscountPercent decimal.Decimal       `json:"discountPercent"`
	Discount        *decimal.Decimal      `json:"discount"`
	ShippingCost    decimal.Decimal       `json:"shippingCost"`
	GrandTotal      *decimal.Decimal      `json:"grandTotal"`
	Paid            decimal.Decimal       `json:"paid"`
	Due             *decimal.Decimal      `json:"due"`
	PaymentMethod   string                `json:"paymentMethod" validate:"omitempty,oneof=Cash Bank bKash Nagad Other"`
	Status          string                `json:"status" validate:"omitempty,oneof=Order Pending Received"`
	PurchaseDate    *time.Time            `json:"purchaseDate"`
	DueDate         *time.Time            `json:"dueDate"`
	Note            string                `json:"note" validate:"max=1000"`
}

// PurchaseItemRequest is one line of CreatePurchaseRequest.
type PurchaseItemRequest struct {
	Product        string           `json:"product" validate:"required,max=200"`
	Name           string           `json:"name" validate:"max=200"`
	Category       string           `json:"category" validate:"max=100"`
	Quantity       int64            `json:"quantity" validate:"gt=0"`
	PurchasePrice  decimal.Decimal  `json:"purchasePrice"`
	RetailPrice    *decimal.Decimal `json:"retailPrice"`
	WholesalePrice *decimal.Decimal `json:"wholesalePrice"`
}

func (r CreatePurchaseRequest) toInput() CreatePurchaseInput {
	in := CreatePurchaseInput{
		SupplierID:      r.Supplier,
		Total:           r.Total,
		DiscountPercent: r.DiscountPercent,
		Discount:        r.Discount,
		ShippingCost:    r.ShippingCost,
		GrandTotal:      r.GrandTotal,
		Paid:            r.Paid,
		Due:             r.Due,
		PaymentMethod:   PaymentMethod(r.PaymentMethod),
		Status:          Status(r.Status),
		DueDate:         r.DueDate,
		Note:            r.Note,
	}
	if r.PurchaseDate != nil {
		in.PurchaseDate = *r.PurchaseDate
	}
	for _, item := range r.Items {
		in.Lines = append(in.Lines, LineInput{
			Product:        item.Product,
			Name:           item.Name,
			Category:       item.Category,
			Quantity:       item.Quantity,
			PurchasePrice:  item.PurchasePrice,
			RetailPrice:    item.RetailPrice,
			WholesalePrice: item.WholesalePrice,
		})
	}
	return in
}

// PaymentRequest is the body of PUT /api/purchases/{id}/pay.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"omitempty,oneof=Cash Bank bKash Nagad Other"`
	Note   string          `json:"note" validate:"max=500"`
}

// ReturnRequest is the body of POST /api/purchases/return.
type ReturnRequest struct {
	PurchaseID        int64               `json:"purchaseId"`
	Items             []ReturnItemRequest `json:"items"`
	InvoiceNumber     int64               `json:"invoiceNumber"`
	SupplierID        int64               `json:"supplierId"`
	TotalReturnAmount *decimal.Decimal    `json:"totalReturnAmount"`
	Reason            string              `json:"reason" validate:"max=500"`
	ReturnDate        *time.Time          `json:"returnDate"`
}

// ReturnItemRequest is one line of ReturnRequest.
type ReturnItemRequest struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Qty         int64           `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

func (r ReturnRequest) toInput() CreateReturnInput {
	in := CreateReturnInput{
		PurchaseID:        r.PurchaseID,
		InvoiceNumber:     r.InvoiceNumber,
		SupplierID:        r.SupplierID,
		TotalReturnAmount: r.TotalReturnAmount,
		Reason:            r.Reason,
	}
	if r.ReturnDate != nil {
		in.ReturnDate = *r.ReturnDate
	}
	for _, item := range r.Items {
		in.Lines = append(in.Lines, ReturnLineInput(item))
	}
	return in
}
