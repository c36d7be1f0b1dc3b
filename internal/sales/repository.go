package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailpos/retailpos/internal/counter"
	"github.com/retailpos/retailpos/internal/platform/db"
	"github.com/retailpos/retailpos/internal/stock"
)

// Repository persists invoices with their lines and batch costs.
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

func (t *txRepo) NextTransactionID(ctx context.Context) (int64, error) {
	return counter.Next(ctx, t.tx, counter.SalesInvoice)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (transaction_id, sale_system, customer_name, customer_phone,
payment_method, total, discount, payable, paid, due, change_amount, cost_of_goods, due_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at`,
		inv.TransactionID, inv.SaleSystem, inv.Customer.Name, inv.Customer.Phone, inv.PaymentMethod,
		inv.Totals.Total, inv.Totals.Discount, inv.Totals.Payable, inv.Totals.Paid, inv.Totals.Due,
		inv.Totals.Change, inv.CostOfGoods, inv.DueDate).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return Invoice{}, err
	}
	for i := range inv.Items {
		line := &inv.Items[i]
		err := t.tx.QueryRow(ctx, `INSERT INTO invoice_lines (invoice_id, line_no, product_id, name, quantity, price, total)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			inv.ID, line.LineNo, line.ProductID, line.Name, line.Quantity, line.Price, line.Total).Scan(&line.ID)
		if err != nil {
			return Invoice{}, err
		}
		batch := &pgx.Batch{}
		for _, c := range line.Costs {
			batch.Queue(`INSERT INTO invoice_line_costs (invoice_line_id, batch_id, quantity, purchase_price,
retail_price, wholesale_price) VALUES ($1,$2,$3,$4,$5,$6)`,
				line.ID, c.BatchID, c.Quantity, c.PurchasePrice, c.RetailPrice, c.WholesalePrice)
		}
		if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}

const invoiceColumns = `id, transaction_id, sale_system, customer_name, customer_phone, payment_method,
total, discount, payable, paid, due, change_amount, cost_of_goods, due_date, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.TransactionID, &inv.SaleSystem, &inv.Customer.Name, &inv.Customer.Phone,
		&inv.PaymentMethod, &inv.Totals.Total, &inv.Totals.Discount, &inv.Totals.Payable, &inv.Totals.Paid,
		&inv.Totals.Due, &inv.Totals.Change, &inv.CostOfGoods, &inv.DueDate, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	inv.Items = []InvoiceLine{}
	return inv, err
}

// GetInvoice loads an invoice with lines and cost breakdown.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	if inv.Items, err = listLines(ctx, r.pool, inv.ID); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// ListInvoices returns invoice headers newest first and the total match count.
func (r *Repository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE ($1 = '' OR sale_system = $1)`,
		string(filter.SaleSystem)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE ($1 = '' OR sale_system = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, string(filter.SaleSystem), filter.PerPage, (filter.Page-1)*filter.PerPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	invoices := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func listLines(ctx context.Context, q db.Querier, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.line_no, l.product_id, l.name, l.quantity, l.price, l.total,
COALESCE(c.batch_id, 0), COALESCE(c.quantity, 0), COALESCE(c.purchase_price, 0),
COALESCE(c.retail_price, 0), COALESCE(c.wholesale_price, 0)
FROM invoice_lines l
LEFT JOIN invoice_line_costs c ON c.invoice_line_id = l.id
WHERE l.invoice_id = $1
ORDER BY l.line_no, c.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []InvoiceLine{}
	for rows.Next() {
		var l InvoiceLine
		var c stock.CostLine
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ProductID, &l.Name, &l.Quantity, &l.Price, &l.Total,
			&c.BatchID, &c.Quantity, &c.PurchasePrice, &c.RetailPrice, &c.WholesalePrice); err != nil {
			return nil, err
		}
		if n := len(lines); n == 0 || lines[n-1].ID != l.ID {
			l.Costs = []stock.CostLine{}
			lines = append(lines, l)
		}
		if c.BatchID != 0 {
			last := &lines[len(lines)-1]
			last.Costs = append(last.Costs, c)
		}
	}
	return lines, rows.Err()
}
