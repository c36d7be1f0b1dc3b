// Package stocktest provides an in-memory stock.Store for tests.
package stocktest

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retailpos/retailpos/internal/stock"
)

// Memory keeps products and batches in maps. Atomically gives callers
// all-or-nothing semantics similar to a database transaction.
type Memory struct {
	txMu sync.Mutex

	mu        sync.Mutex
	products  map[uuid.UUID]stock.Product
	batches   map[int64]stock.Batch
	nextBatch int64
}

// New returns an empty store.
func New() *Memory {
	return &Memory{products: map[uuid.UUID]stock.Product{}, batches: map[int64]stock.Batch{}}
}

// Atomically runs fn and restores the previous state when it fails.
// Calls are serialised, mirroring row locks held by concurrent transactions.
func (m *Memory) Atomically(fn func() error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	products := maps.Clone(m.products)
	batches := maps.Clone(m.batches)
	next := m.nextBatch
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		m.products, m.batches, m.nextBatch = products, batches, next
		m.mu.Unlock()
		return err
	}
	return nil
}

// SeedProduct stores p as-is.
func (m *Memory) SeedProduct(p stock.Product) stock.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	m.products[p.ID] = p
	return p
}

// SeedBatch appends b to the ledger and adds its remaining quantity to the product.
func (m *Memory) SeedBatch(b stock.Batch) stock.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b = m.insertBatch(b)
	if p, ok := m.products[b.ProductID]; ok {
		p.Quantity += b.RemainingQuantity
		m.products[p.ID] = p
	}
	return b
}

// Product returns the stored product.
func (m *Memory) Product(id uuid.UUID) (stock.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, ok
}

// Products returns every product.
func (m *Memory) Products() []stock.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Collect(maps.Values(m.products))
}

// Batches returns every batch of the product, exhausted ones included, in FIFO order.
func (m *Memory) Batches(productID uuid.UUID) []stock.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b stock.Batch) bool { return b.ProductID == productID })
}

// BatchCount is the number of batches across all products.
func (m *Memory) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// LedgerQuantity sums remaining quantity over the product's batches.
func (m *Memory) LedgerQuantity(productID uuid.UUID) int64 {
	var total int64
	for _, b := range m.Batches(productID) {
		total += b.RemainingQuantity
	}
	return total
}

func (m *Memory) GetProductForUpdate(_ context.Context, id uuid.UUID) (stock.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return stock.Product{}, stock.ErrNotFound
	}
	return p, nil
}

func (m *Memory) InsertProduct(_ context.Context, p stock.Product) (stock.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Quantity < 0 {
		return stock.Product{}, stock.ErrNegativeQuantity
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = p
	return p, nil
}

func (m *Memory) UpdateProduct(_ context.Context, p stock.Product) (stock.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.products[p.ID]
	if !ok {
		return stock.Product{}, stock.ErrNotFound
	}
	if current.Version != p.Version {
		return stock.Product{}, stock.ErrConflict
	}
	if p.Quantity < 0 {
		return stock.Product{}, stock.ErrNegativeQuantity
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = p
	return p, nil
}

func (m *Memory) AdjustQuantity(_ context.Context, id uuid.UUID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return 0, stock.ErrNotFound
	}
	if p.Quantity+delta < 0 {
		return 0, stock.ErrNegativeQuantity
	}
	p.Quantity += delta
	p.Version++
	m.products[id] = p
	return p.Quantity, nil
}

func (m *Memory) ListOpenBatches(_ context.Context, productID uuid.UUID) ([]stock.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b stock.Batch) bool {
		return b.ProductID == productID && b.RemainingQuantity > 0
	}), nil
}

func (m *Memory) InsertBatch(_ context.Context, b stock.Batch) (stock.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Quantity <= 0 || b.RemainingQuantity < 0 || b.RemainingQuantity > b.Quantity {
		return stock.Batch{}, stock.ErrInvalidQuantity
	}
	return m.insertBatch(b), nil
}

func (m *Memory) ConsumeBatch(_ context.Context, batchID, qty int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok || b.RemainingQuantity < qty {
		return 0, stock.ErrConflict
	}
	b.RemainingQuantity -= qty
	m.batches[batchID] = b
	return b.RemainingQuantity, nil
}

func (m *Memory) ListPurchaseBatches(_ context.Context, purchaseID int64, productID uuid.UUID) ([]stock.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b stock.Batch) bool {
		return b.PurchaseID == purchaseID && b.ProductID == productID
	}), nil
}

func (m *Memory) insertBatch(b stock.Batch) stock.Batch {
	m.nextBatch++
	b.ID = m.nextBatch
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.batches[b.ID] = b
	return b
}

func (m *Memory) filter(keep func(stock.Batch) bool) []stock.Batch {
	out := []stock.Batch{}
	for _, b := range m.batches {
		if keep(b) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b stock.Batch) int {
		if c := a.PurchaseDate.Compare(b.PurchaseDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

var _ stock.Store = (*Memory)(nil)
