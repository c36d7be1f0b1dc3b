package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/shared"
	"github.com/retailpos/retailpos/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Stock() stock.Store
	NextTransactionID(ctx context.Context) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
}

// StockPort receives committed deductions.
type StockPort interface {
	StockChanged(ctx context.Context, ids ...uuid.UUID)
	ObserveDeduction(result stock.DeductionResult, err error)
}

// IdempotencyPort guards request replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const idemModuleInvoice = "sales.invoice"

// Service creates invoices and consumes stock for them.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	idempotency IdempotencyPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs sales service. stock, idem and audit may be nil.
func NewService(repo RepositoryPort, stock StockPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, idempotency: idem, audit: audit, logger: logger, now: time.Now}
}

// CreateInvoiceInput is a sale at the till.
type CreateInvoiceInput struct {
	SaleSystem    SaleSystem
	Customer      Customer
	PaymentMethod PaymentMethod
	Items         []LineInput
	Discount      decimal.Decimal
	Payable       *decimal.Decimal
	Paid          decimal.Decimal
	DueDate       *time.Time
}

// LineInput is one product sold. A nil Price sells at the product's list price
// for the invoice's sale system.
type LineInput struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int64
	Price     *decimal.Decimal
}

// CreateInvoice deducts every line from the FIFO ledger and saves the invoice
// in one transaction. A line the ledger cannot fill aborts the whole invoice
// with an *InsufficientStockError and leaves every batch untouched.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput, idemKey string) (Invoice, error) {
	if err := validateInvoice(&input); err != nil {
		return Invoice{}, err
	}
	release := func() {}
	if s.idempotency != nil && idemKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, idemModuleInvoice); err != nil {
			return Invoice{}, err
		}
		release = func() {
			if err := s.idempotency.Delete(context.WithoutCancel(ctx), idemKey, idemModuleInvoice); err != nil {
				s.logger.Warn("idempotency release failed", slog.Any("error", err))
			}
		}
	}

	var invoice Invoice
	results := make([]stock.DeductionResult, 0, len(input.Items))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		results = results[:0]
		store := tx.Stock()
		lines := make([]InvoiceLine, 0, len(input.Items))
		for i, item := range input.Items {
			product, err := store.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			result, err := stock.Deduct(ctx, store, product.ID, item.Quantity)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			results = append(results, result)
			if !result.Success {
				return &InsufficientStockError{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: item.Quantity,
					Available: result.Deducted(),
				}
			}
			if _, err := store.AdjustQuantity(ctx, product.ID, -result.Deducted()); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			lines = append(lines, newLine(i+1, item, product, input.SaleSystem, result))
		}

		id, err := tx.NextTransactionID(ctx)
		if err != nil {
			return err
		}
		invoice = Invoice{
			TransactionID: id,
			SaleSystem:    input.SaleSystem,
			Customer:      input.Customer,
			PaymentMethod: input.PaymentMethod,
			Items:         lines,
			Totals:        computeTotals(lines, input.Discount, input.Payable, input.Paid),
		}
		for _, l := range lines {
			invoice.CostOfGoods = invoice.CostOfGoods.Add(l.CostOfGoods())
		}
		if invoice.Totals.Due.IsPositive() {
			invoice.DueDate = input.DueDate
		}
		invoice, err = tx.InsertInvoice(ctx, invoice)
		return err
	})
	if err != nil {
		release()
		if short, ok := AsInsufficientStock(err); ok {
			s.logger.Warn("invoice rejected",
				slog.String("product_id", short.ProductID.String()),
				slog.Int64("requested", short.Requested),
				slog.Int64("available", short.Available))
		}
		s.observe(results, err)
		return Invoice{}, fmt.Errorf("sales: create invoice: %w", err)
	}

	s.observe(results, nil)
	if s.stock != nil {
		ids := make([]uuid.UUID, 0, len(invoice.Items))
		for _, l := range invoice.Items {
			ids = append(ids, l.ProductID)
		}
		s.stock.StockChanged(ctx, ids...)
	}
	s.recordAudit(ctx, invoice)
	s.logger.Info("invoice created",
		slog.Int64("invoice_id", invoice.ID),
		slog.Int64("transaction_id", invoice.TransactionID),
		slog.String("sale_system", string(invoice.SaleSystem)),
		slog.Int("lines", len(invoice.Items)))
	return invoice, nil
}

func (s *Service) observe(results []stock.DeductionResult, err error) {
	if s.stock == nil {
		return
	}
	if err == nil {
		for _, r := range results {
			s.stock.ObserveDeduction(r, nil)
		}
		return
	}
	// Deductions before the failing line were rolled back.
	if _, ok := AsInsufficientStock(err); ok && len(results) > 0 {
		s.stock.ObserveDeduction(results[len(results)-1], nil)
		return
	}
	s.stock.ObserveDeduction(stock.DeductionResult{}, err)
}

func validateInvoice(input *CreateInvoiceInput) error {
	if input.SaleSystem == "" {
		input.SaleSystem = RetailSale
	}
	if !input.SaleSystem.valid() {
		return fmt.Errorf("%w: unknown sale system %q", ErrValidation, input.SaleSystem)
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = MethodCash
	}
	if !input.PaymentMethod.valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.PaymentMethod)
	}
	if input.Customer.Name == "" || input.Customer.Phone == "" {
		return fmt.Errorf("%w: customer name and phone required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: items required", ErrValidation)
	}
	for i, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: line %d: product required", ErrValidation, i+1)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrValidation, i+1)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return fmt.Errorf("%w: line %d: price must be >= 0", ErrValidation, i+1)
		}
	}
	if input.Discount.IsNegative() || input.Paid.IsNegative() {
		return fmt.Errorf("%w: amounts must be >= 0", ErrValidation)
	}
	if input.Payable != nil && input.Payable.IsNegative() {
		return fmt.Errorf("%w: payable must be >= 0", ErrValidation)
	}
	return nil
}

func newLine(no int, item LineInput, product stock.Product, system SaleSystem, result stock.DeductionResult) InvoiceLine {
	price := product.RetailPrice
	if system == WholeSale {
		price = product.WholesalePrice
	}
	if item.Price != nil {
		price = *item.Price
	}
	name := item.Name
	if name == "" {
		name = product.Name
	}
	return InvoiceLine{
		LineNo:    no,
		ProductID: product.ID,
		Name:      name,
		Quantity:  item.Quantity,
		Price:     price,
		Total:     price.Mul(decimal.NewFromInt(item.Quantity)),
		Costs:     result.DeductedBatches,
	}
}

// computeTotals derives due and change from what was paid against the payable amount.
func computeTotals(lines []InvoiceLine, discount decimal.Decimal, payable *decimal.Decimal, paid decimal.Decimal) Totals {
	t := Totals{Total: decimal.Zero, Discount: discount, Paid: paid, Due: decimal.Zero, Change: decimal.Zero}
	for _, l := range lines {
		t.Total = t.Total.Add(l.Total)
	}
	t.Payable = decimal.Max(t.Total.Sub(discount), decimal.Zero)
	if payable != nil {
		t.Payable = *payable
	}
	switch {
	case paid.LessThan(t.Payable):
		t.Due = t.Payable.Sub(paid)
	case paid.GreaterThan(t.Payable):
		t.Change = paid.Sub(t.Payable)
	}
	return t
}

// GetInvoice returns one invoice with its lines and cost breakdown.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices newest first, optionally for one sale system.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error) {
	if filter.SaleSystem != "" && !filter.SaleSystem.valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown sale system %q", ErrValidation, filter.SaleSystem)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) recordAudit(ctx context.Context, inv Invoice) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   "INVOICE_CREATE",
		Entity:   "invoice",
		EntityID: strconv.FormatInt(inv.ID, 10),
		Meta: map[string]any{
			"transaction_id": inv.TransactionID,
			"payable":        inv.Totals.Payable.String(),
			"cost_of_goods":  inv.CostOfGoods.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
