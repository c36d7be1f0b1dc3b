package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailpos/retailpos/internal/platform/db"
)

// Repository persists products and batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
	return translate(err)
}

// PgStore implements Store on any pgx querier, normally a transaction.
type PgStore struct {
	q db.Querier
}

// NewStore wraps q. Other modules call it with their own transaction so
// stock mutations commit or roll back together with their records.
func NewStore(q db.Querier) *PgStore {
	return &PgStore{q: q}
}

const productColumns = `id, name, category, brand, unit, quantity, alert_quantity,
purchase_price, retail_price, wholesale_price, version, created_at, updated_at`

const batchColumns = `id, product_id, COALESCE(purchase_id, 0), purchase_price, retail_price, wholesale_price,
quantity, remaining_quantity, purchase_date, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Brand, &p.Unit, &p.Quantity, &p.AlertQuantity,
		&p.PurchasePrice, &p.RetailPrice, &p.WholesalePrice, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.PurchaseID, &b.PurchasePrice, &b.RetailPrice, &b.WholesalePrice,
		&b.Quantity, &b.RemainingQuantity, &b.PurchaseDate, &b.CreatedAt)
	return b, err
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *PgStore) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	row := s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

func (s *PgStore) InsertProduct(ctx context.Context, p Product) (Product, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO products (id, name, category, brand, unit, quantity, alert_quantity,
purchase_price, retail_price, wholesale_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+productColumns,
		p.ID, p.Name, p.Category, p.Brand, p.Unit, p.Quantity, p.AlertQuantity,
		p.PurchasePrice, p.RetailPrice, p.WholesalePrice)
	return scanProduct(row)
}

func (s *PgStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	row := s.q.QueryRow(ctx, `UPDATE products SET quantity = $2, purchase_price = $3, retail_price = $4,
wholesale_price = $5, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $6
RETURNING `+productColumns,
		p.ID, p.Quantity, p.PurchasePrice, p.RetailPrice, p.WholesalePrice, p.Version)
	updated, err := scanProduct(row)
	if errors.Is(err, ErrNotFound) {
		return Product{}, fmt.Errorf("%w: product %s version %d", ErrConflict, p.ID, p.Version)
	}
	return updated, translate(err)
}

func (s *PgStore) AdjustQuantity(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	var qty int64
	err := s.q.QueryRow(ctx, `UPDATE products SET quantity = quantity + $2, version = version + 1, updated_at = NOW()
WHERE id = $1 AND quantity + $2 >= 0
RETURNING quantity`, id, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrNegativeQuantity
	}
	return qty, translate(err)
}

func (s *PgStore) ListOpenBatches(ctx context.Context, productID uuid.UUID) ([]Batch, error) {
	rows, err := s.q.Query(ctx, `SELECT `+batchColumns+` FROM purchase_batches
WHERE product_id = $1 AND remaining_quantity > 0
ORDER BY purchase_date, id
FOR UPDATE`, productID)
	if err != nil {
		return nil, translate(err)
	}
	return collectBatches(rows)
}

func (s *PgStore) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	var purchaseID *int64
	if b.PurchaseID != 0 {
		purchaseID = &b.PurchaseID
	}
	row := s.q.QueryRow(ctx, `INSERT INTO purchase_batches (product_id, purchase_id, purchase_price, retail_price,
wholesale_price, quantity, remaining_quantity, purchase_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+batchColumns,
		b.ProductID, purchaseID, b.PurchasePrice, b.RetailPrice, b.WholesalePrice, b.Quantity, b.RemainingQuantity, b.PurchaseDate)
	batch, err := scanBatch(row)
	return batch, translate(err)
}

func (s *PgStore) ConsumeBatch(ctx context.Context, batchID, qty int64) (int64, error) {
	var remaining int64
	err := s.q.QueryRow(ctx, `UPDATE purchase_batches SET remaining_quantity = remaining_quantity - $2
WHERE id = $1 AND remaining_quantity >= $2
RETURNING remaining_quantity`, batchID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: batch %d", ErrConflict, batchID)
	}
	return remaining, translate(err)
}

func (s *PgStore) ListPurchaseBatches(ctx context.Context, purchaseID int64, productID uuid.UUID) ([]Batch, error) {
	rows, err := s.q.Query(ctx, `SELECT `+batchColumns+` FROM purchase_batches
WHERE purchase_id = $1 AND product_id = $2
ORDER BY purchase_date, id
FOR UPDATE`, purchaseID, productID)
	if err != nil {
		return nil, translate(err)
	}
	return collectBatches(rows)
}

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// ListBatches returns the product's ledger in FIFO order.
func (r *Repository) ListBatches(ctx context.Context, productID uuid.UUID, includeExhausted bool) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM purchase_batches
WHERE product_id = $1 AND ($2 OR remaining_quantity > 0)
ORDER BY purchase_date, id`, productID, includeExhausted)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// Summary compares a product's aggregate with its ledger.
func (r *Repository) Summary(ctx context.Context, productID uuid.UUID) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT p.id, p.quantity,
COALESCE(SUM(b.remaining_quantity), 0)::bigint,
COUNT(b.id) FILTER (WHERE b.remaining_quantity > 0),
COALESCE(SUM(b.remaining_quantity * b.purchase_price), 0)
FROM products p
LEFT JOIN purchase_batches b ON b.product_id = p.id
WHERE p.id = $1
GROUP BY p.id, p.quantity`, productID).Scan(&s.ProductID, &s.Quantity, &s.LedgerQuantity, &s.OpenBatches, &s.InventoryValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	s.Consistent = s.Quantity == s.LedgerQuantity
	return s, nil
}

// ListLowStock returns products at or below their alert quantity.
func (r *Repository) ListLowStock(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE quantity <= alert_quantity
ORDER BY quantity, name
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListMismatches returns products whose aggregate quantity differs from the batch ledger.
func (r *Repository) ListMismatches(ctx context.Context) ([]Mismatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.quantity, COALESCE(SUM(b.remaining_quantity), 0)::bigint AS ledger
FROM products p
LEFT JOIN purchase_batches b ON b.product_id = p.id
GROUP BY p.id, p.name, p.quantity
HAVING p.quantity <> COALESCE(SUM(b.remaining_quantity), 0)
ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Mismatch{}
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.ProductID, &m.Name, &m.Quantity, &m.LedgerQuantity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// translate maps classified database errors onto stock sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	err = db.Classify(err)
	switch {
	case errors.Is(err, db.ErrSerialization) && !errors.Is(err, ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, db.ErrCheckViolation):
		return fmt.Errorf("%w: %w", ErrNegativeQuantity, err)
	}
	return err
}

var _ Store = (*PgStore)(nil)
