package purchasing

import (
	"context"
	"errors"
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
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, int, error)
	ListReturns(ctx context.Context, purchaseID int64) ([]PurchaseReturn, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Stock() stock.Store
	NextInvoiceNumber(ctx context.Context) (int64, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	InsertPurchaseLines(ctx context.Context, purchaseID int64, lines []PurchaseLine) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	UpdatePurchaseLines(ctx context.Context, lines []PurchaseLine) error
	UpdatePurchasePayment(ctx context.Context, id int64, paid, due decimal.Decimal) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertReturn(ctx context.Context, r PurchaseReturn) (PurchaseReturn, error)
}

// StockPort is notified after committed stock changes.
type StockPort interface {
	StockChanged(ctx context.Context, ids ...uuid.UUID)
	ObserveReceipt(units int64)
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

const (
	idemModulePurchase = "purchasing.purchase"
	idemModuleReturn   = "purchasing.return"
)

// Service orchestrates purchase intake, returns and supplier payments.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	idempotency IdempotencyPort
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs purchasing service. stock, idem and audit may be nil.
func NewService(repo RepositoryPort, stock StockPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, idempotency: idem, audit: audit, logger: logger, now: time.Now}
}

// CreatePurchaseInput describes a supplier invoice being received.
type CreatePurchaseInput struct {
	SupplierID      int64
	Lines           []LineInput
	Total           *decimal.Decimal
	DiscountPercent decimal.Decimal
	Discount        *decimal.Decimal
	ShippingCost    decimal.Decimal
	GrandTotal      *decimal.Decimal
	Paid            decimal.Decimal
	Due             *decimal.Decimal
	PaymentMethod   PaymentMethod
	Status          Status
	PurchaseDate    time.Time
	DueDate         *time.Time
	Note            string
}

// LineInput is one received product. Product is an existing product id, or
// anything else to create a new product named after it.
type LineInput struct {
	Product        string
	Name           string
	Category       string
	Quantity       int64
	PurchasePrice  decimal.Decimal
	RetailPrice    *decimal.Decimal
	WholesalePrice *decimal.Decimal
}

// CreatePurchase records a purchase and books every line into the stock ledger
// in one transaction. A missing supplier aborts before any stock is touched.
func (s *Service) CreatePurchase(ctx context.Context, input CreatePurchaseInput, idemKey string) (Purchase, error) {
	if err := validatePurchase(&input); err != nil {
		return Purchase{}, err
	}
	if input.PurchaseDate.IsZero() {
		input.PurchaseDate = s.now().UTC()
	}
	release, err := s.claim(ctx, idemKey, idemModulePurchase)
	if err != nil {
		return Purchase{}, err
	}

	var purchase Purchase
	var received int64
	touched := []uuid.UUID{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		received, touched = 0, touched[:0]
		supplier, err := tx.GetSupplier(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		number, err := tx.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		purchase = newPurchase(input, supplier, number)
		id, err := tx.InsertPurchase(ctx, purchase)
		if err != nil {
			return err
		}
		purchase.ID = id

		for i, line := range input.Lines {
			rec, err := stock.Receive(ctx, tx.Stock(), receiveInput(line, id, input.PurchaseDate))
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			purchase.Lines = append(purchase.Lines, PurchaseLine{
				LineNo:         i + 1,
				ProductID:      rec.Product.ID,
				ProductName:    rec.Product.Name,
				Category:       rec.Product.Category,
				Quantity:       line.Quantity,
				PurchasePrice:  line.PurchasePrice,
				RetailPrice:    line.RetailPrice,
				WholesalePrice: line.WholesalePrice,
			})
			received += line.Quantity
			touched = append(touched, rec.Product.ID)
		}
		return tx.InsertPurchaseLines(ctx, id, purchase.Lines)
	})
	if err != nil {
		release()
		return Purchase{}, fmt.Errorf("purchasing: create purchase: %w", err)
	}

	if s.stock != nil {
		s.stock.StockChanged(ctx, touched...)
		s.stock.ObserveReceipt(received)
	}
	s.recordAudit(ctx, "PURCHASE_CREATE", "purchase", purchase.ID, map[string]any{"invoice_number": purchase.InvoiceNumber, "lines": len(purchase.Lines)})
	s.logger.Info("purchase created",
		slog.Int64("purchase_id", purchase.ID),
		slog.Int64("invoice_number", purchase.InvoiceNumber),
		slog.Int("lines", len(purchase.Lines)))
	return purchase, nil
}

func validatePurchase(input *CreatePurchaseInput) error {
	if input.SupplierID <= 0 {
		return fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("%w: items required", ErrValidation)
	}
	for i, line := range input.Lines {
		if line.Product == "" {
			return fmt.Errorf("%w: line %d: product required", ErrValidation, i+1)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrValidation, i+1)
		}
		if line.PurchasePrice.IsNegative() {
			return fmt.Errorf("%w: line %d: purchase price must be >= 0", ErrValidation, i+1)
		}
	}
	if input.DiscountPercent.IsNegative() || input.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: discount percent must be between 0 and 100", ErrValidation)
	}
	if input.ShippingCost.IsNegative() || input.Paid.IsNegative() {
		return fmt.Errorf("%w: amounts must be >= 0", ErrValidation)
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = MethodCash
	}
	if !input.PaymentMethod.valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.PaymentMethod)
	}
	if input.Status == "" {
		input.Status = StatusOrder
	}
	if !input.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, input.Status)
	}
	totals := computeTotals(*input)
	if totals.GrandTotal.IsNegative() || totals.Due.IsNegative() {
		return fmt.Errorf("%w: grand total and due must be >= 0", ErrValidation)
	}
	return nil
}

// computeTotals fills the amounts the caller left out.
func computeTotals(input CreatePurchaseInput) Purchase {
	total := decimal.Zero
	if input.Total != nil {
		total = *input.Total
	} else {
		for _, line := range input.Lines {
			total = total.Add(line.PurchasePrice.Mul(decimal.NewFromInt(line.Quantity)))
		}
	}
	discount := total.Mul(input.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
	if input.Discount != nil {
		discount = *input.Discount
	}
	grand := total.Sub(discount).Add(input.ShippingCost)
	if input.GrandTotal != nil {
		grand = *input.GrandTotal
	}
	due := decimal.Max(grand.Sub(input.Paid), decimal.Zero)
	if input.Due != nil {
		due = *input.Due
	}
	return Purchase{
		Total:           total,
		DiscountPercent: input.DiscountPercent,
		Discount:        discount,
		ShippingCost:    input.ShippingCost,
		GrandTotal:      grand,
		Paid:            input.Paid,
		Due:             due,
	}
}

func newPurchase(input CreatePurchaseInput, supplier Supplier, number int64) Purchase {
	p := computeTotals(input)
	p.InvoiceNumber = number
	p.Supplier = supplier
	p.PaymentMethod = input.PaymentMethod
	p.Status = input.Status
	p.PurchaseDate = input.PurchaseDate
	p.DueDate = input.DueDate
	p.Note = input.Note
	p.Lines = []PurchaseLine{}
	p.Payments = []Payment{}
	return p
}

func receiveInput(line LineInput, purchaseID int64, date time.Time) stock.ReceiveInput {
	in := stock.ReceiveInput{
		Name:           line.Name,
		Category:       line.Category,
		Quantity:       line.Quantity,
		PurchasePrice:  line.PurchasePrice,
		RetailPrice:    line.RetailPrice,
		WholesalePrice: line.WholesalePrice,
		PurchaseID:     purchaseID,
		PurchaseDate:   date,
	}
	// The reference names the product when it has to be created, whether or
	// not it is an id.
	if id, err := uuid.Parse(line.Product); err == nil {
		in.ProductID = id
	}
	if in.Name == "" {
		in.Name = line.Product
	}
	return in
}

// PaymentInput settles part of a purchase's due amount.
type PaymentInput struct {
	Amount decimal.Decimal
	Method PaymentMethod
	Note   string
}

// RecordPayment adds a payment: paid grows and due shrinks by the same amount.
func (s *Service) RecordPayment(ctx context.Context, purchaseID int64, input PaymentInput) (Purchase, error) {
	if !input.Amount.IsPositive() {
		return Purchase{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.Method == "" {
		input.Method = MethodCash
	}
	if !input.Method.valid() {
		return Purchase{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.Method)
	}
	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(p.Due) {
			return fmt.Errorf("%w: due is %s", ErrPaymentExceedsDue, p.Due.StringFixed(2))
		}
		p.Paid = p.Paid.Add(input.Amount)
		p.Due = p.Due.Sub(input.Amount)
		if err := tx.UpdatePurchasePayment(ctx, p.ID, p.Paid, p.Due); err != nil {
			return err
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			PurchaseID: p.ID,
			Amount:     input.Amount,
			Method:     input.Method,
			Note:       input.Note,
			PaidAt:     s.now().UTC(),
		})
		if err != nil {
			return err
		}
		p.Payments = append(p.Payments, payment)
		purchase = p
		return nil
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("purchasing: record payment: %w", err)
	}
	s.recordAudit(ctx, "PURCHASE_PAY", "purchase", purchase.ID, map[string]any{"amount": input.Amount.String(), "method": input.Method})
	return purchase, nil
}

// CreateReturnInput describes goods going back to the supplier of a purchase.
type CreateReturnInput struct {
	PurchaseID        int64
	Lines             []ReturnLineInput
	InvoiceNumber     int64
	SupplierID        int64
	TotalReturnAmount *decimal.Decimal
	Reason            string
	ReturnDate        time.Time
}

// ReturnLineInput is one returned product.
type ReturnLineInput struct {
	ProductID   string
	ProductName string
	Qty         int64
	Price       decimal.Decimal
	Discount    decimal.Decimal
	LineTotal   decimal.Decimal
}

// CreateReturn reverses purchased quantities. Every line is validated against
// the purchase before anything is written; the purchase lines, the return
// record and the stock changes commit together.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput, idemKey string) (PurchaseReturn, error) {
	if input.PurchaseID <= 0 {
		return PurchaseReturn{}, fmt.Errorf("%w: purchaseId is required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseReturn{}, fmt.Errorf("%w: items are required", ErrValidation)
	}
	lines := make([]ReturnLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		line := normalizeReturnLine(in)
		if line.Qty <= 0 {
			return PurchaseReturn{}, fmt.Errorf("%w: invalid qty for %q", ErrValidation, line.ProductName)
		}
		lines = append(lines, line)
	}
	release, err := s.claim(ctx, idemKey, idemModuleReturn)
	if err != nil {
		return PurchaseReturn{}, err
	}

	var saved PurchaseReturn
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		for i := range lines {
			if err := applyReturn(purchase.Lines, &lines[i], input.Lines[i].ProductID); err != nil {
				return err
			}
		}
		if err := tx.UpdatePurchaseLines(ctx, purchase.Lines); err != nil {
			return err
		}

		ret := PurchaseReturn{
			PurchaseID:    purchase.ID,
			SupplierID:    purchase.Supplier.ID,
			InvoiceNumber: purchase.InvoiceNumber,
			Lines:         lines,
			Reason:        input.Reason,
			ReturnDate:    input.ReturnDate,
		}
		if input.SupplierID > 0 {
			ret.SupplierID = input.SupplierID
		}
		if input.InvoiceNumber > 0 {
			ret.InvoiceNumber = input.InvoiceNumber
		}
		if ret.ReturnDate.IsZero() {
			ret.ReturnDate = s.now().UTC()
		}
		if input.TotalReturnAmount != nil {
			ret.TotalReturnAmount = *input.TotalReturnAmount
		} else {
			ret.TotalReturnAmount = decimal.Zero
			for _, l := range lines {
				ret.TotalReturnAmount = ret.TotalReturnAmount.Add(l.LineTotal)
			}
		}
		saved, err = tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}

		for _, l := range lines {
			_, err := stock.ReturnToSupplier(ctx, tx.Stock(), stock.ReturnInput{ProductID: l.ProductID, PurchaseID: purchase.ID, Quantity: l.Qty})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		release()
		if errors.Is(err, ErrReturnExceedsRemaining) || errors.Is(err, stock.ErrReturnExceedsBatch) {
			s.logger.Warn("purchase return rejected", slog.Int64("purchase_id", input.PurchaseID), slog.Any("error", err))
		}
		return PurchaseReturn{}, fmt.Errorf("purchasing: create return: %w", err)
	}

	if s.stock != nil {
		ids := make([]uuid.UUID, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}
		s.stock.StockChanged(ctx, ids...)
	}
	s.recordAudit(ctx, "PURCHASE_RETURN", "purchase_return", saved.ID, map[string]any{"purchase_id": saved.PurchaseID, "total": saved.TotalReturnAmount.String()})
	s.logger.Info("purchase return created", slog.Int64("return_id", saved.ID), slog.Int64("purchase_id", saved.PurchaseID))
	return saved, nil
}

func normalizeReturnLine(in ReturnLineInput) ReturnLine {
	line := ReturnLine{
		ProductName: in.ProductName,
		Qty:         in.Qty,
		Price:       in.Price,
		Discount:    in.Discount,
		LineTotal:   in.LineTotal,
	}
	if id, err := uuid.Parse(in.ProductID); err == nil {
		line.ProductID = id
	}
	if line.ProductName == "" {
		line.ProductName = "Unnamed Item"
	}
	if line.LineTotal.IsZero() {
		line.LineTotal = line.Price.Mul(decimal.NewFromInt(line.Qty))
	}
	return line
}

// applyReturn moves qty from quantity to returnedQty on the matching purchase line.
// Both counters change, so the returnable amount drops by twice the returned quantity.
func applyReturn(purchaseLines []PurchaseLine, line *ReturnLine, ref string) error {
	idx := -1
	for i := range purchaseLines {
		if line.ProductID != uuid.Nil && purchaseLines[i].ProductID == line.ProductID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q (%s)", ErrLineNotInPurchase, line.ProductName, ref)
	}
	pl := &purchaseLines[idx]
	if line.ProductName == "Unnamed Item" && pl.ProductName != "" {
		line.ProductName = pl.ProductName
	}
	remaining := pl.Returnable()
	if line.Qty > remaining {
		return fmt.Errorf("%w: %q returns %d, remaining %d", ErrReturnExceedsRemaining, line.ProductName, line.Qty, remaining)
	}
	pl.ReturnedQty += line.Qty
	pl.Quantity -= line.Qty
	return nil
}

// GetPurchase returns a purchase with its lines and payments.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases returns purchases newest first.
func (s *Service) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, shared.Pagination, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	purchases, total, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return purchases, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListPurchasesBySupplier is ListPurchases for one supplier.
func (s *Service) ListPurchasesBySupplier(ctx context.Context, supplierID int64, page, perPage int) ([]Purchase, shared.Pagination, error) {
	if supplierID <= 0 {
		return nil, shared.Pagination{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	return s.ListPurchases(ctx, ListFilter{SupplierID: supplierID, Page: page, PerPage: perPage})
}

// ListReturns returns the returns recorded against a purchase.
func (s *Service) ListReturns(ctx context.Context, purchaseID int64) ([]PurchaseReturn, error) {
	if _, err := s.repo.GetPurchase(ctx, purchaseID); err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, purchaseID)
}

// claim reserves an idempotency key and returns a func that frees it again.
func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	if s.idempotency == nil || key == "" {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), key, module); err != nil {
			s.logger.Warn("idempotency release failed", slog.String("module", module), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
