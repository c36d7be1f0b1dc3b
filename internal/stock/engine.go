package stock

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Store is the transaction-scoped view of the product aggregate and batch ledger.
// Implementations lock rows they return for update until the transaction ends.
type Store interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	// UpdateProduct writes quantity and prices when p.Version matches, then bumps the version.
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	AdjustQuantity(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
	// ListOpenBatches returns batches with remaining quantity, oldest purchase date first.
	ListOpenBatches(ctx context.Context, productID uuid.UUID) ([]Batch, error)
	InsertBatch(ctx context.Context, b Batch) (Batch, error)
	// ConsumeBatch decrements remaining quantity only if at least qty remains.
	ConsumeBatch(ctx context.Context, batchID, qty int64) (int64, error)
	ListPurchaseBatches(ctx context.Context, purchaseID int64, productID uuid.UUID) ([]Batch, error)
}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// NormalizeName collapses whitespace and title-cases a product name.
func NormalizeName(name string) string {
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

func fifoOrder(a, b Batch) int {
	if c := a.PurchaseDate.Compare(b.PurchaseDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Deduct walks the product's open batches oldest first and consumes qty units.
// Each batch is persisted before the next one is read. Running out of stock is
// not an error: the result reports Success=false with what is still missing, and
// the partial consumption stays on the store. The aggregate is left untouched.
func Deduct(ctx context.Context, store Store, productID uuid.UUID, qty int64) (DeductionResult, error) {
	if qty <= 0 {
		return DeductionResult{}, ErrInvalidQuantity
	}
	batches, err := store.ListOpenBatches(ctx, productID)
	if err != nil {
		return DeductionResult{}, fmt.Errorf("stock: list batches: %w", err)
	}
	slices.SortStableFunc(batches, fifoOrder)

	result := DeductionResult{ProductID: productID, Requested: qty, RemainingToDeduct: qty, DeductedBatches: []CostLine{}}
	for _, batch := range batches {
		if result.RemainingToDeduct == 0 {
			break
		}
		if batch.Exhausted() {
			continue
		}
		take := min(batch.RemainingQuantity, result.RemainingToDeduct)
		if _, err := store.ConsumeBatch(ctx, batch.ID, take); err != nil {
			return result, fmt.Errorf("stock: consume batch %d: %w", batch.ID, err)
		}
		result.DeductedBatches = append(result.DeductedBatches, CostLine{
			BatchID:        batch.ID,
			Quantity:       take,
			PurchasePrice:  batch.PurchasePrice,
			RetailPrice:    batch.RetailPrice,
			WholesalePrice: batch.WholesalePrice,
		})
		result.RemainingToDeduct -= take
	}
	result.Success = result.RemainingToDeduct == 0
	return result, nil
}

// Receive books one intake line: resolve or create the product, add the quantity,
// overwrite the purchase price, overwrite retail and wholesale prices only when
// given, and append exactly one batch.
func Receive(ctx context.Context, store Store, input ReceiveInput) (Receipt, error) {
	if input.Quantity <= 0 {
		return Receipt{}, ErrInvalidQuantity
	}
	if input.PurchasePrice.IsNegative() || negative(input.RetailPrice) || negative(input.WholesalePrice) {
		return Receipt{}, ErrInvalidPrice
	}

	var product Product
	created := false
	if input.ProductID != uuid.Nil {
		p, err := store.GetProductForUpdate(ctx, input.ProductID)
		switch {
		case err == nil:
			product = p
		case errors.Is(err, ErrNotFound):
			created = true
		default:
			return Receipt{}, fmt.Errorf("stock: load product: %w", err)
		}
	} else {
		created = true
	}

	if created {
		name := NormalizeName(input.Name)
		if name == "" {
			return Receipt{}, ErrInvalidProduct
		}
		id := input.ProductID
		if id == uuid.Nil {
			id = uuid.New()
		}
		product = Product{
			ID:             id,
			Name:           name,
			Category:       input.Category,
			Brand:          input.Brand,
			Unit:           input.Unit,
			RetailPrice:    input.PurchasePrice,
			WholesalePrice: input.PurchasePrice,
		}
	}

	product.Quantity += input.Quantity
	product.PurchasePrice = input.PurchasePrice
	if input.RetailPrice != nil {
		product.RetailPrice = *input.RetailPrice
	}
	if input.WholesalePrice != nil {
		product.WholesalePrice = *input.WholesalePrice
	}

	var err error
	if created {
		product, err = store.InsertProduct(ctx, product)
	} else {
		product, err = store.UpdateProduct(ctx, product)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("stock: save product: %w", err)
	}

	purchaseDate := input.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}
	batch, err := store.InsertBatch(ctx, Batch{
		ProductID:         product.ID,
		PurchaseID:        input.PurchaseID,
		PurchasePrice:     product.PurchasePrice,
		RetailPrice:       product.RetailPrice,
		WholesalePrice:    product.WholesalePrice,
		Quantity:          input.Quantity,
		RemainingQuantity: input.Quantity,
		PurchaseDate:      purchaseDate,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("stock: insert batch: %w", err)
	}
	return Receipt{Product: product, Batch: batch, Created: created}, nil
}

// ReturnToSupplier removes returned units from the aggregate and from the
// batches the purchase created, oldest first. Units already sold out of those
// batches cannot be returned.
func ReturnToSupplier(ctx context.Context, store Store, input ReturnInput) (ReturnResult, error) {
	if input.Quantity <= 0 {
		return ReturnResult{}, ErrInvalidQuantity
	}
	product, err := store.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("stock: load product: %w", err)
	}
	batches, err := store.ListPurchaseBatches(ctx, input.PurchaseID, input.ProductID)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("stock: list purchase batches: %w", err)
	}
	slices.SortStableFunc(batches, fifoOrder)

	var available int64
	for _, b := range batches {
		available += max(b.RemainingQuantity, 0)
	}
	if available < input.Quantity {
		return ReturnResult{}, fmt.Errorf("%w: product %s has %d, return %d", ErrReturnExceedsBatch, input.ProductID, available, input.Quantity)
	}
	if product.Quantity < input.Quantity {
		return ReturnResult{}, fmt.Errorf("%w: product %s has %d, return %d", ErrNegativeQuantity, input.ProductID, product.Quantity, input.Quantity)
	}

	result := ReturnResult{Consumed: []CostLine{}}
	left := input.Quantity
	for _, b := range batches {
		if left == 0 {
			break
		}
		if b.Exhausted() {
			continue
		}
		take := min(b.RemainingQuantity, left)
		if _, err := store.ConsumeBatch(ctx, b.ID, take); err != nil {
			return ReturnResult{}, fmt.Errorf("stock: consume batch %d: %w", b.ID, err)
		}
		result.Consumed = append(result.Consumed, CostLine{
			BatchID:        b.ID,
			Quantity:       take,
			PurchasePrice:  b.PurchasePrice,
			RetailPrice:    b.RetailPrice,
			WholesalePrice: b.WholesalePrice,
		})
		left -= take
	}

	remaining, err := store.AdjustQuantity(ctx, input.ProductID, -input.Quantity)
	if err != nil {
		return ReturnResult{}, fmt.Errorf("stock: adjust quantity: %w", err)
	}
	product.Quantity = remaining
	result.Product = product
	return result, nil
}

func negative(d *decimal.Decimal) bool {
	return d != nil && d.IsNegative()
}
