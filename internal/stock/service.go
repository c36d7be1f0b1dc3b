package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailpos/retailpos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListBatches(ctx context.Context, productID uuid.UUID, includeExhausted bool) ([]Batch, error)
	Summary(ctx context.Context, productID uuid.UUID) (Summary, error)
	ListLowStock(ctx context.Context, limit int) ([]Product, error)
	ListMismatches(ctx context.Context) ([]Mismatch, error)
}

// SummaryCachePort caches stock summaries.
type SummaryCachePort interface {
	Fetch(ctx context.Context, id uuid.UUID, loader func(context.Context) (Summary, error)) (Summary, error)
	Bump(ctx context.Context, ids ...uuid.UUID) error
}

// MetricsPort receives stock counters.
type MetricsPort interface {
	ObserveDeduction(outcome string, units int64)
	ObserveReceipt(units int64)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deduction outcomes reported to metrics.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

// Service coordinates stock operations that own their transaction.
type Service struct {
	repo    RepositoryPort
	cache   SummaryCachePort
	metrics MetricsPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewService builds Service. cache, metrics and audit may be nil.
func NewService(repo RepositoryPort, cache SummaryCachePort, metrics MetricsPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, metrics: metrics, audit: audit, logger: logger}
}

// RegisterInput describes a new catalog product with optional opening stock.
type RegisterInput struct {
	Name           string
	Category       string
	Brand          string
	Unit           string
	AlertQuantity  int64
	Quantity       int64
	PurchasePrice  decimal.Decimal
	RetailPrice    decimal.Decimal
	WholesalePrice decimal.Decimal
}

// RegisterProduct creates a product. Opening quantity, when positive, becomes its first batch.
func (s *Service) RegisterProduct(ctx context.Context, input RegisterInput) (Product, error) {
	name := NormalizeName(input.Name)
	if name == "" {
		return Product{}, ErrInvalidProduct
	}
	if input.Quantity < 0 || input.AlertQuantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	if input.PurchasePrice.IsNegative() || input.RetailPrice.IsNegative() || input.WholesalePrice.IsNegative() {
		return Product{}, ErrInvalidPrice
	}
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		p, err := store.InsertProduct(ctx, Product{
			ID:             uuid.New(),
			Name:           name,
			Category:       input.Category,
			Brand:          input.Brand,
			Unit:           input.Unit,
			AlertQuantity:  input.AlertQuantity,
			PurchasePrice:  input.PurchasePrice,
			RetailPrice:    input.RetailPrice,
			WholesalePrice: input.WholesalePrice,
		})
		if err != nil {
			return err
		}
		product = p
		if input.Quantity == 0 {
			return nil
		}
		retail, wholesale := input.RetailPrice, input.WholesalePrice
		rec, err := Receive(ctx, store, ReceiveInput{
			ProductID:      p.ID,
			Quantity:       input.Quantity,
			PurchasePrice:  input.PurchasePrice,
			RetailPrice:    &retail,
			WholesalePrice: &wholesale,
		})
		if err != nil {
			return err
		}
		product = rec.Product
		return nil
	})
	if err != nil {
		return Product{}, fmt.Errorf("stock: register product: %w", err)
	}
	if s.metrics != nil && input.Quantity > 0 {
		s.metrics.ObserveReceipt(input.Quantity)
	}
	s.recordAudit(ctx, "PRODUCT_REGISTER", product.ID, map[string]any{"name": product.Name, "quantity": product.Quantity})
	s.logger.Info("product registered", slog.String("product_id", product.ID.String()), slog.Int64("quantity", product.Quantity))
	return product, nil
}

// Deduct runs the FIFO engine in its own transaction and decrements the
// aggregate by the quantity actually taken. Partial consumption is committed.
func (s *Service) Deduct(ctx context.Context, productID uuid.UUID, qty int64) (DeductionResult, error) {
	if qty <= 0 {
		return DeductionResult{}, ErrInvalidQuantity
	}
	var result DeductionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		if _, err := store.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		res, err := Deduct(ctx, store, productID, qty)
		if err != nil {
			return err
		}
		if res.Deducted() > 0 {
			if _, err := store.AdjustQuantity(ctx, productID, -res.Deducted()); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		s.ObserveDeduction(DeductionResult{}, err)
		return DeductionResult{}, fmt.Errorf("stock: deduct: %w", err)
	}
	s.ObserveDeduction(result, nil)
	if !result.Success {
		s.logger.Warn("insufficient stock", slog.String("product_id", productID.String()),
			slog.Int64("requested", qty), slog.Int64("missing", result.RemainingToDeduct))
	}
	s.StockChanged(ctx, productID)
	return result, nil
}

// ObserveDeduction reports a deduction outcome to metrics.
func (s *Service) ObserveDeduction(result DeductionResult, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil && IsConflict(err):
		s.metrics.ObserveDeduction(OutcomeConflict, 0)
	case err != nil:
		s.metrics.ObserveDeduction(OutcomeError, 0)
	case result.Success:
		s.metrics.ObserveDeduction(OutcomeSuccess, result.Deducted())
	default:
		s.metrics.ObserveDeduction(OutcomeInsufficient, result.Deducted())
	}
}

// ObserveReceipt reports received units to metrics.
func (s *Service) ObserveReceipt(units int64) {
	if s.metrics != nil && units > 0 {
		s.metrics.ObserveReceipt(units)
	}
}

// StockChanged invalidates cached summaries after another module mutated stock.
func (s *Service) StockChanged(ctx context.Context, ids ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, ids...); err != nil {
		s.logger.Warn("stock cache bump failed", slog.Any("error", err))
	}
}

// GetProduct returns a product.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListBatches returns the ledger of a product, optionally with exhausted batches.
func (s *Service) ListBatches(ctx context.Context, productID uuid.UUID, includeExhausted bool) ([]Batch, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, productID, includeExhausted)
}

// StockSummary returns the cached aggregate versus ledger summary.
func (s *Service) StockSummary(ctx context.Context, productID uuid.UUID) (Summary, error) {
	loader := func(ctx context.Context) (Summary, error) {
		return s.repo.Summary(ctx, productID)
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.Fetch(ctx, productID, loader)
}

// ListLowStock returns products at or below their alert quantity.
func (s *Service) ListLowStock(ctx context.Context, limit int) ([]Product, error) {
	return s.repo.ListLowStock(ctx, limit)
}

// Reconcile lists products whose aggregate differs from the ledger and logs each one.
func (s *Service) Reconcile(ctx context.Context) ([]Mismatch, error) {
	mismatches, err := s.repo.ListMismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("stock: reconcile: %w", err)
	}
	for _, m := range mismatches {
		s.logger.Warn("stock ledger mismatch",
			slog.String("product_id", m.ProductID.String()),
			slog.String("name", m.Name),
			slog.Int64("quantity", m.Quantity),
			slog.Int64("ledger_quantity", m.LedgerQuantity),
			slog.Int64("difference", m.Difference()))
	}
	return mismatches, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "product", EntityID: id.String(), Meta: meta})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
