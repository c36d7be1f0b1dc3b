package stock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retailpos/retailpos/internal/shared"
	"github.com/retailpos/retailpos/internal/stock"
	"github.com/retailpos/retailpos/internal/stock/stocktest"
)

var day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedTwoBatches(t *testing.T, mem *stocktest.Memory) (stock.Product, stock.Batch, stock.Batch) {
	t.Helper()
	p := mem.SeedProduct(stock.Product{Name: "Rice 5kg"})
	b1 := mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchasePrice: dec("10"), RetailPrice: dec("15"), WholesalePrice: dec("12"), Quantity: 5, RemainingQuantity: 5, PurchaseDate: day1})
	b2 := mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchasePrice: dec("11"), RetailPrice: dec("16"), WholesalePrice: dec("13"), Quantity: 5, RemainingQuantity: 5, PurchaseDate: day1.AddDate(0, 0, 1)})
	p, _ = mem.Product(p.ID)
	return p, b1, b2
}

func TestDeductConsumesOldestBatchFirst(t *testing.T) {
	mem := stocktest.New()
	p, b1, b2 := seedTwoBatches(t, mem)

	res, err := stock.Deduct(context.Background(), mem, p.ID, 7)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, res.RemainingToDeduct)
	require.Equal(t, int64(7), res.Deducted())
	require.Len(t, res.DeductedBatches, 2)
	require.Equal(t, stock.CostLine{BatchID: b1.ID, Quantity: 5, PurchasePrice: dec("10"), RetailPrice: dec("15"), WholesalePrice: dec("12")}, res.DeductedBatches[0])
	require.Equal(t, b2.ID, res.DeductedBatches[1].BatchID)
	require.Equal(t, int64(2), res.DeductedBatches[1].Quantity)
	require.True(t, res.DeductedBatches[1].PurchasePrice.Equal(dec("11")))
	require.True(t, res.CostOfGoods().Equal(dec("72")))

	batches := mem.Batches(p.ID)
	require.Equal(t, int64(0), batches[0].RemainingQuantity)
	require.Equal(t, int64(3), batches[1].RemainingQuantity)

	// The engine never touches the aggregate.
	after, _ := mem.Product(p.ID)
	require.Equal(t, p.Quantity, after.Quantity)
}

func TestDeductInsufficientStockPersistsPartialConsumption(t *testing.T) {
	mem := stocktest.New()
	p := mem.SeedProduct(stock.Product{Name: "Soap"})
	mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchasePrice: dec("2"), Quantity: 3, RemainingQuantity: 3, PurchaseDate: day1})

	res, err := stock.Deduct(context.Background(), mem, p.ID, 5)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, int64(2), res.RemainingToDeduct)
	require.Equal(t, int64(3), res.Deducted())
	require.Zero(t, mem.LedgerQuantity(p.ID))
	require.True(t, mem.Batches(p.ID)[0].Exhausted())
}

func TestDeductWithoutBatches(t *testing.T) {
	mem := stocktest.New()
	p := mem.SeedProduct(stock.Product{Name: "Empty"})

	res, err := stock.Deduct(context.Background(), mem, p.ID, 4)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, int64(4), res.RemainingToDeduct)
	require.Empty(t, res.DeductedBatches)
}

func TestDeductRejectsNonPositiveQuantity(t *testing.T) {
	mem := stocktest.New()
	for _, qty := range []int64{0, -3} {
		_, err := stock.Deduct(context.Background(), mem, uuid.New(), qty)
		require.ErrorIs(t, err, stock.ErrInvalidQuantity)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestDeductTieBreakUsesInsertionOrder(t *testing.T) {
	for run := 0; run < 5; run++ {
		mem := stocktest.New()
		p := mem.SeedProduct(stock.Product{Name: "Tea"})
		first := mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchasePrice: dec("4"), Quantity: 2, RemainingQuantity: 2, PurchaseDate: day1})
		mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchasePrice: dec("5"), Quantity: 2, RemainingQuantity: 2, PurchaseDate: day1})

		res, err := stock.Deduct(context.Background(), mem, p.ID, 1)
		require.NoError(t, err)
		require.Len(t, res.DeductedBatches, 1)
		require.Equal(t, first.ID, res.DeductedBatches[0].BatchID)
	}
}

func TestExhaustedBatchesAreRetainedAndSkipped(t *testing.T) {
	mem := stocktest.New()
	p, b1, b2 := seedTwoBatches(t, mem)
	ctx := context.Background()

	_, err := stock.Deduct(ctx, mem, p.ID, 5)
	require.NoError(t, err)

	res, err := stock.Deduct(ctx, mem, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, b2.ID, res.DeductedBatches[0].BatchID)

	all := mem.Batches(p.ID)
	require.Len(t, all, 2)
	require.Equal(t, b1.ID, all[0].ID)
	require.True(t, all[0].Exhausted())

	open, err := mem.ListOpenBatches(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

type conflictStore struct {
	*stocktest.Memory
}

func (c conflictStore) ConsumeBatch(context.Context, int64, int64) (int64, error) {
	return 0, stock.ErrConflict
}

func TestDeductSurfacesConflict(t *testing.T) {
	mem := stocktest.New()
	p, _, _ := seedTwoBatches(t, mem)

	_, err := stock.Deduct(context.Background(), conflictStore{mem}, p.ID, 2)
	require.True(t, stock.IsConflict(err))
}

func TestReceiveCreatesProductAndBatch(t *testing.T) {
	mem := stocktest.New()
	retail := dec("30")
	rec, err := stock.Receive(context.Background(), mem, stock.ReceiveInput{
		Name:          "  green   tea ",
		Quantity:      10,
		PurchasePrice: dec("20"),
		RetailPrice:   &retail,
		PurchaseID:    7,
		PurchaseDate:  day1,
	})
	require.NoError(t, err)
	require.True(t, rec.Created)
	require.Equal(t, "Green Tea", rec.Product.Name)
	require.Equal(t, int64(10), rec.Product.Quantity)
	require.True(t, rec.Product.RetailPrice.Equal(retail))
	require.True(t, rec.Product.WholesalePrice.Equal(dec("20")))

	require.Equal(t, int64(10), rec.Batch.Quantity)
	require.Equal(t, int64(10), rec.Batch.RemainingQuantity)
	require.Equal(t, int64(7), rec.Batch.PurchaseID)
	require.Equal(t, day1, rec.Batch.PurchaseDate)
	require.True(t, rec.Batch.WholesalePrice.Equal(dec("20")))
}

func TestReceiveExistingProductOverwritesPrices(t *testing.T) {
	mem := stocktest.New()
	p := mem.SeedProduct(stock.Product{Name: "Oil", Quantity: 4, PurchasePrice: dec("8"), RetailPrice: dec("12"), WholesalePrice: dec("10")})
	wholesale := dec("11")

	rec, err := stock.Receive(context.Background(), mem, stock.ReceiveInput{
		ProductID:      p.ID,
		Quantity:       6,
		PurchasePrice:  dec("9"),
		WholesalePrice: &wholesale,
	})
	require.NoError(t, err)
	require.False(t, rec.Created)
	require.Equal(t, int64(10), rec.Product.Quantity)
	require.True(t, rec.Product.PurchasePrice.Equal(dec("9")))
	require.True(t, rec.Product.RetailPrice.Equal(dec("12")), "retail kept when omitted")
	require.True(t, rec.Product.WholesalePrice.Equal(wholesale))
	require.True(t, rec.Batch.RetailPrice.Equal(dec("12")))
	require.False(t, rec.Batch.PurchaseDate.IsZero())
	require.Equal(t, p.Version+1, rec.Product.Version)
}

func TestReceiveUnknownIDCreatesProductWithThatID(t *testing.T) {
	mem := stocktest.New()
	id := uuid.New()
	rec, err := stock.Receive(context.Background(), mem, stock.ReceiveInput{ProductID: id, Name: "Salt", Quantity: 1, PurchasePrice: dec("1")})
	require.NoError(t, err)
	require.True(t, rec.Created)
	require.Equal(t, id, rec.Product.ID)
}

func TestReceiveValidation(t *testing.T) {
	mem := stocktest.New()
	ctx := context.Background()
	neg := dec("-1")

	_, err := stock.Receive(ctx, mem, stock.ReceiveInput{Name: "x", Quantity: 0, PurchasePrice: dec("1")})
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)
	_, err = stock.Receive(ctx, mem, stock.ReceiveInput{Name: "x", Quantity: 1, PurchasePrice: dec("-1")})
	require.ErrorIs(t, err, stock.ErrInvalidPrice)
	_, err = stock.Receive(ctx, mem, stock.ReceiveInput{Name: "x", Quantity: 1, PurchasePrice: dec("1"), RetailPrice: &neg})
	require.ErrorIs(t, err, stock.ErrInvalidPrice)
	_, err = stock.Receive(ctx, mem, stock.ReceiveInput{Name: "   ", Quantity: 1, PurchasePrice: dec("1")})
	require.ErrorIs(t, err, stock.ErrInvalidProduct)
	require.Zero(t, mem.BatchCount())
}

func TestReturnToSupplierConsumesPurchaseBatches(t *testing.T) {
	mem := stocktest.New()
	p := mem.SeedProduct(stock.Product{Name: "Flour"})
	other := mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchaseID: 1, PurchasePrice: dec("3"), Quantity: 4, RemainingQuantity: 4, PurchaseDate: day1})
	own := mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchaseID: 2, PurchasePrice: dec("4"), Quantity: 6, RemainingQuantity: 6, PurchaseDate: day1.AddDate(0, 0, 2)})

	res, err := stock.ReturnToSupplier(context.Background(), mem, stock.ReturnInput{ProductID: p.ID, PurchaseID: 2, Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Product.Quantity)
	require.Len(t, res.Consumed, 1)
	require.Equal(t, own.ID, res.Consumed[0].BatchID)

	batches := mem.Batches(p.ID)
	require.Equal(t, other.RemainingQuantity, batches[0].RemainingQuantity)
	require.Equal(t, int64(1), batches[1].RemainingQuantity)
	require.Equal(t, mem.LedgerQuantity(p.ID), res.Product.Quantity)
}

func TestReturnToSupplierRejectsSoldUnits(t *testing.T) {
	mem := stocktest.New()
	p := mem.SeedProduct(stock.Product{Name: "Milk"})
	mem.SeedBatch(stock.Batch{ProductID: p.ID, PurchaseID: 3, PurchasePrice: dec("1"), Quantity: 5, RemainingQuantity: 5, PurchaseDate: day1})
	ctx := context.Background()

	_, err := stock.Deduct(ctx, mem, p.ID, 4)
	require.NoError(t, err)

	_, err = stock.ReturnToSupplier(ctx, mem, stock.ReturnInput{ProductID: p.ID, PurchaseID: 3, Quantity: 2})
	require.ErrorIs(t, err, stock.ErrReturnExceedsBatch)
	require.Equal(t, int64(1), mem.LedgerQuantity(p.ID))
}

func TestReturnToSupplierUnknownProduct(t *testing.T) {
	_, err := stock.ReturnToSupplier(context.Background(), stocktest.New(), stock.ReturnInput{ProductID: uuid.New(), PurchaseID: 1, Quantity: 1})
	require.True(t, errors.Is(err, stock.ErrNotFound))
}

// Intakes followed by fully satisfied deductions keep the aggregate equal to the ledger
// when the caller decrements the aggregate by what was deducted.
func TestAggregateTracksLedger(t *testing.T) {
	mem := stocktest.New()
	ctx := context.Background()
	rec, err := stock.Receive(ctx, mem, stock.ReceiveInput{Name: "Sugar", Quantity: 8, PurchasePrice: dec("2"), PurchaseDate: day1})
	require.NoError(t, err)
	id := rec.Product.ID
	_, err = stock.Receive(ctx, mem, stock.ReceiveInput{ProductID: id, Quantity: 4, PurchasePrice: dec("3"), PurchaseDate: day1.AddDate(0, 0, 1)})
	require.NoError(t, err)

	for _, qty := range []int64{3, 6, 2} {
		res, err := stock.Deduct(ctx, mem, id, qty)
		require.NoError(t, err)
		require.True(t, res.Success)
		_, err = mem.AdjustQuantity(ctx, id, -res.Deducted())
		require.NoError(t, err)
		p, _ := mem.Product(id)
		require.Equal(t, mem.LedgerQuantity(id), p.Quantity)
	}
	require.Equal(t, int64(1), mem.LedgerQuantity(id))
}
