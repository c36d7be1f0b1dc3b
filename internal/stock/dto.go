package stock

import "github.com/shopspring/decimal"

// RegisterProductRequest is the body of POST /api/products.
type RegisterProductRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Category       string          `json:"category" validate:"max=100"`
	Brand          string          `json:"brand" validate:"max=100"`
	Unit           string          `json:"unit" validate:"max=20"`
	AlertQuantity  int64           `json:"alertQuantity" validate:"gte=0"`
	Quantity       int64           `json:"quantity" validate:"gte=0"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	RetailPrice    decimal.Decimal `json:"retailPrice"`
	WholesalePrice decimal.Decimal `json:"wholesalePrice"`
}

func (r RegisterProductRequest) toInput() RegisterInput {
	return RegisterInput{
		Name:           r.Name,
		Category:       r.Category,
		Brand:          r.Brand,
		Unit:           r.Unit,
		AlertQuantity:  r.AlertQuantity,
		Quantity:       r.Quantity,
		PurchasePrice:  r.PurchasePrice,
		RetailPrice:    r.RetailPrice,
		WholesalePrice: r.WholesalePrice,
	}
}

// DeductRequest is the body of POST /api/products/{id}/deduct.
type DeductRequest struct {
	Quantity int64 `json:"quantity" validate:"gt=0"`
}
