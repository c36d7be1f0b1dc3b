package purchasing

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/retailpos/retailpos/internal/platform/httpx"
	"github.com/retailpos/retailpos/internal/shared"
)

// IdempotencyHeader carries the client's replay key on write requests.
const IdempotencyHeader = "Idempotency-Key"

// ServicePort is the part of Service the handler needs.
type ServicePort interface {
	CreatePurchase(ctx context.Context, input CreatePurchaseInput, idemKey string) (Purchase, error)
	RecordPayment(ctx context.Context, purchaseID int64, input PaymentInput) (Purchase, error)
	CreateReturn(ctx context.Context, input CreateReturnInput, idemKey string) (PurchaseReturn, error)
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, shared.Pagination, error)
	ListPurchasesBySupplier(ctx context.Context, supplierID int64, page, perPage int) ([]Purchase, shared.Pagination, error)
	ListReturns(ctx context.Context, purchaseID int64) ([]PurchaseReturn, error)
}

// Handler manages purchasing endpoints.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Post("/return", h.handleReturn)
	r.Get("/by-supplier/{supplierID}", h.handleBySupplier)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/pay", h.handlePay)
		r.Get("/returns", h.handleListReturns)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.CreatePurchase(r.Context(), req.toInput(), r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, "create purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, perPage := paging(r)
	purchases, meta, err := h.service.ListPurchases(r.Context(), ListFilter{Page: page, PerPage: perPage})
	if err != nil {
		h.fail(w, r, "list purchases", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": purchases, "pagination": meta})
}

func (h *Handler) handleBySupplier(w http.ResponseWriter, r *http.Request) {
	supplierID, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, ErrSupplierNotFound)
		return
	}
	page, perPage := paging(r)
	purchases, meta, err := h.service.ListPurchasesBySupplier(r.Context(), supplierID, page, perPage)
	if err != nil {
		h.fail(w, r, "list supplier purchases", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": purchases, "pagination": meta})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	purchase, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get purchase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.RecordPayment(r.Context(), id, PaymentInput{Amount: req.Amount, Method: PaymentMethod(req.Method), Note: req.Note})
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.CreateReturn(r.Context(), req.toInput(), r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, "create return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleListReturns(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	returns, err := h.service.ListReturns(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list returns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	level := slog.LevelError
	if httpx.IsClientError(err) {
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func purchaseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, ErrNotFound)
		return 0, false
	}
	return id, true
}

func paging(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	return page, perPage
}
