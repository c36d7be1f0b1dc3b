package stock

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/retailpos/retailpos/internal/platform/httpx"
	"github.com/retailpos/retailpos/internal/shared"
)

// ServicePort is the part of Service the handler needs.
type ServicePort interface {
	RegisterProduct(ctx context.Context, input RegisterInput) (Product, error)
	Deduct(ctx context.Context, productID uuid.UUID, qty int64) (DeductionResult, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListBatches(ctx context.Context, productID uuid.UUID, includeExhausted bool) ([]Batch, error)
	StockSummary(ctx context.Context, productID uuid.UUID) (Summary, error)
	ListLowStock(ctx context.Context, limit int) ([]Product, error)
}

// Handler wires HTTP endpoints for products and their ledger.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRegister)
	r.Get("/low-stock", h.handleLowStock)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/batches", h.handleBatches)
		r.Get("/stock", h.handleSummary)
		r.Post("/deduct", h.handleDeduct)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterProductRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.RegisterProduct(r.Context(), req.toInput())
	if err != nil {
		h.fail(w, r, "register product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	batches, err := h.service.ListBatches(r.Context(), id, all)
	if err != nil {
		h.fail(w, r, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.StockSummary(r.Context(), id)
	if err != nil {
		h.fail(w, r, "stock summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := h.service.ListLowStock(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) handleDeduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req DeductRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Deduct(r.Context(), id, req.Quantity)
	if err != nil {
		h.fail(w, r, "deduct", err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	level := slog.LevelError
	if httpx.IsClientError(err) {
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func productID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
