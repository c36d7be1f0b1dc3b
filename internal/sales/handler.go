package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/retailpos/retailpos/internal/platform/httpx"
	"github.com/retailpos/retailpos/internal/shared"
)

// ServicePort is the part of Service the handler needs.
type ServicePort interface {
	CreateInvoice(ctx context.Context, input CreateInvoiceInput, idemKey string) (Invoice, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, shared.Pagination, error)
}

// Handler manages invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.listBy(""))
	r.Get("/wholesale", h.listBy(WholeSale))
	r.Get("/retailsale", h.listBy(RetailSale))
	r.Get("/{id}", h.handleGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.service.CreateInvoice(r.Context(), req.toInput(), r.Header.Get("Idempotency-Key"))
	if err != nil {
		var short *InsufficientStockError
		if errors.As(err, &short) {
			h.logger.Warn("create invoice rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.Problem(w, http.StatusBadRequest, "Insufficient Stock", short.Error())
			return
		}
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) listBy(system SaleSystem) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
		invoices, meta, err := h.service.ListInvoices(r.Context(), ListFilter{SaleSystem: system, Page: page, PerPage: perPage})
		if err != nil {
			h.fail(w, r, "list invoices", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices, "pagination": meta})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrNotFound)
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	level := slog.LevelError
	if httpx.IsClientError(err) {
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
