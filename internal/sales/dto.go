package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateInvoiceRequest is the body of POST /api/invoices.
type CreateInvoiceRequest struct {
	SaleSystem    string               `json:"saleSystem" validate:"omitempty,oneof=retailSale wholeSale"`
	Customer      CustomerRequest      `json:"customer"`
	PaymentMethod string               `json:"paymentMethod" validate:"omitempty,oneof=cash bkash nagad bank card"`
	Items         []InvoiceItemRequest `json:"items" validate:"required,min=1,dive"`
	Totals        TotalsRequest        `json:"totals"`
	DueDate       *time.Time           `json:"dueDate"`
}

// CustomerRequest identifies the buyer.
type CustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"required,max=30"`
}

// InvoiceItemRequest is one line of CreateInvoiceRequest.
type InvoiceItemRequest struct {
	ProductID uuid.UUID        `json:"productId" validate:"required"`
	Name      string           `json:"name" validate:"max=200"`
	Quantity  int64            `json:"quantity" validate:"gt=0"`
	Price     *decimal.Decimal `json:"price"`
}

// TotalsRequest carries the amounts the till computed. Due and change are derived.
type TotalsRequest struct {
	Discount decimal.Decimal  `json:"discount"`
	Payable  *decimal.Decimal `json:"payable"`
	Paid     decimal.Decimal  `json:"paid"`
}

func (r CreateInvoiceRequest) toInput() CreateInvoiceInput {
	in := CreateInvoiceInput{
		SaleSystem:    SaleSystem(r.SaleSystem),
		Customer:      Customer(r.Customer),
		PaymentMethod: PaymentMethod(r.PaymentMethod),
		Discount:      r.Totals.Discount,
		Payable:       r.Totals.Payable,
		Paid:          r.Totals.Paid,
		DueDate:       r.DueDate,
	}
	for _, item := range r.Items {
		in.Items = append(in.Items, LineInput(item))
	}
	return in
}
