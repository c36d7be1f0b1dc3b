package purchasing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/counter"
	"github.com/retailpos/retailpos/internal/platform/db"
	"github.com/retailpos/retailpos/internal/stock"
)

// Repository persists purchases, payments and returns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx    pgx.Tx
	stock *stock.PgStore
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, stock: stock.NewStore(tx)})
	})
}

func (t *txRepo) Stock() stock.Store { return t.stock }

func (t *txRepo) NextInvoiceNumber(ctx context.Context) (int64, error) {
	return counter.Next(ctx, t.tx, counter.PurchaseInvoice)
}

func (t *txRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return getSupplier(ctx, t.tx, id)
}

func (t *txRepo) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchases (invoice_number, supplier_id, purchase_date, status, payment_method,
total, discount_pct, discount, shipping_cost, grand_total, paid, due, due_date, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`,
		p.InvoiceNumber, p.Supplier.ID, p.PurchaseDate, p.Status, p.PaymentMethod,
		p.Total, p.DiscountPercent, p.Discount, p.ShippingCost, p.GrandTotal, p.Paid, p.Due, p.DueDate, p.Note).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPurchaseLines(ctx context.Context, purchaseID int64, lines []PurchaseLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO purchase_lines (purchase_id, line_no, product_id, product_name, category, quantity,
returned_qty, purchase_price, retail_price, wholesale_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			purchaseID, l.LineNo, l.ProductID, l.ProductName, l.Category, l.Quantity,
			l.ReturnedQty, l.PurchasePrice, l.RetailPrice, l.WholesalePrice)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx, purchaseSelect+` WHERE p.id = $1 FOR UPDATE OF p`, id))
	if err != nil {
		return Purchase{}, err
	}
	if p.Lines, err = listLines(ctx, t.tx, id, true); err != nil {
		return Purchase{}, err
	}
	if p.Payments, err = listPayments(ctx, t.tx, id); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

func (t *txRepo) UpdatePurchaseLines(ctx context.Context, lines []PurchaseLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`UPDATE purchase_lines SET quantity = $2, returned_qty = $3 WHERE id = $1`, l.ID, l.Quantity, l.ReturnedQty)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdatePurchasePayment(ctx context.Context, id int64, paid, due decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchases SET paid = $2, due = $3, updated_at = NOW() WHERE id = $1`, id, paid, due)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_payments (purchase_id, amount, method, note, paid_at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, p.PurchaseID, p.Amount, p.Method, p.Note, p.PaidAt).Scan(&p.ID)
	return p, err
}

func (t *txRepo) InsertReturn(ctx context.Context, r PurchaseReturn) (PurchaseReturn, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_returns (purchase_id, supplier_id, invoice_number, return_date,
total_return_amount, reason)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		r.PurchaseID, r.SupplierID, r.InvoiceNumber, r.ReturnDate, r.TotalReturnAmount, r.Reason).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return PurchaseReturn{}, err
	}
	batch := &pgx.Batch{}
	for _, l := range r.Lines {
		batch.Queue(`INSERT INTO purchase_return_lines (return_id, product_id, product_name, qty, price, discount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, r.ID, l.ProductID, l.ProductName, l.Qty, l.Price, l.Discount, l.LineTotal)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return PurchaseReturn{}, err
	}
	return r, nil
}

// InsertSupplier adds a supplier directory entry.
func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO suppliers (name, phone, address) VALUES ($1,$2,$3) RETURNING id`,
		s.Name, s.Phone, s.Address).Scan(&s.ID)
	return s, err
}

// GetPurchase loads a purchase with its lines and payments.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, purchaseSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return Purchase{}, err
	}
	if p.Lines, err = listLines(ctx, r.pool, id, false); err != nil {
		return Purchase{}, err
	}
	if p.Payments, err = listPayments(ctx, r.pool, id); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// ListPurchases returns a page of purchase headers, newest first, and the total match count.
func (r *Repository) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases WHERE ($1 = 0 OR supplier_id = $1)`,
		filter.SupplierID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, purchaseSelect+` WHERE ($1 = 0 OR p.supplier_id = $1)
ORDER BY p.purchase_date DESC, p.id DESC
LIMIT $2 OFFSET $3`, filter.SupplierID, filter.PerPage, (filter.Page-1)*filter.PerPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	purchases := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		purchases = append(purchases, p)
	}
	return purchases, total, rows.Err()
}

// ListReturns returns the returns of a purchase, oldest first.
func (r *Repository) ListReturns(ctx context.Context, purchaseID int64) ([]PurchaseReturn, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, supplier_id, invoice_number, total_return_amount, reason,
return_date, created_at
FROM purchase_returns WHERE purchase_id = $1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	returns := []PurchaseReturn{}
	for rows.Next() {
		var ret PurchaseReturn
		if err := rows.Scan(&ret.ID, &ret.PurchaseID, &ret.SupplierID, &ret.InvoiceNumber, &ret.TotalReturnAmount,
			&ret.Reason, &ret.ReturnDate, &ret.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		returns = append(returns, ret)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range returns {
		lines, err := listReturnLines(ctx, r.pool, returns[i].ID)
		if err != nil {
			return nil, err
		}
		returns[i].Lines = lines
	}
	return returns, nil
}

const purchaseSelect = `SELECT p.id, p.invoice_number, s.id, s.name, s.phone, s.address, p.purchase_date, p.status,
p.payment_method, p.total, p.discount_pct, p.discount, p.shipping_cost, p.grand_total, p.paid, p.due, p.due_date,
p.note, p.created_at, p.updated_at
FROM purchases p
JOIN suppliers s ON s.id = p.supplier_id`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.InvoiceNumber, &p.Supplier.ID, &p.Supplier.Name, &p.Supplier.Phone, &p.Supplier.Address,
		&p.PurchaseDate, &p.Status, &p.PaymentMethod, &p.Total, &p.DiscountPercent, &p.Discount, &p.ShippingCost,
		&p.GrandTotal, &p.Paid, &p.Due, &p.DueDate, &p.Note, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrNotFound
	}
	if err != nil {
		return Purchase{}, err
	}
	p.Lines = []PurchaseLine{}
	p.Payments = []Payment{}
	return p, nil
}

func getSupplier(ctx context.Context, q db.Querier, id int64) (Supplier, error) {
	var s Supplier
	err := q.QueryRow(ctx, `SELECT id, name, phone, address FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Phone, &s.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("%w: id %d", ErrSupplierNotFound, id)
	}
	return s, err
}

func listLines(ctx context.Context, q db.Querier, purchaseID int64, lock bool) ([]PurchaseLine, error) {
	query := `SELECT id, line_no, product_id, product_name, category, quantity, returned_qty, purchase_price,
retail_price, wholesale_price
FROM purchase_lines WHERE purchase_id = $1 ORDER BY line_no`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []PurchaseLine{}
	for rows.Next() {
		var l PurchaseLine
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ProductID, &l.ProductName, &l.Category, &l.Quantity, &l.ReturnedQty,
			&l.PurchasePrice, &l.RetailPrice, &l.WholesalePrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func listPayments(ctx context.Context, q db.Querier, purchaseID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, amount, method, note, paid_at
FROM purchase_payments WHERE purchase_id = $1 ORDER BY paid_at, id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	payments := []Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.PurchaseID, &p.Amount, &p.Method, &p.Note, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func listReturnLines(ctx context.Context, q db.Querier, returnID int64) ([]ReturnLine, error) {
	rows, err := q.Query(ctx, `SELECT product_id, product_name, qty, price, discount, line_total
FROM purchase_return_lines WHERE return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []ReturnLine{}
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Qty, &l.Price, &l.Discount, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
