package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/httpapi"
)

type ProductService interface {
	CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int32) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal, stock int32) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ReserveNow(ctx context.Context, productID int64, quantity int32) (bool, error)
}

type Handler struct {
	log     *zap.Logger
	service ProductService
	tracer  trace.Tracer
}

func NewHandler(log *zap.Logger, service ProductService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("product-http"),
	}
}

type productReq struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int32           `json:"stock"`
}

type productResp struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int32           `json:"stock"`
}

func toResp(p domain.Product) productResp {
	return productResp{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/products", h.create)
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.Put("/products/{id}", h.update)
	r.Delete("/products/{id}", h.delete)
	r.Post("/products/{id}/reserve", h.reserve)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateProduct")
	defer span.End()

	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := h.service.CreateProduct(ctx, req.Name, req.Price, req.Stock)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, toResp(p))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]productResp, 0, len(products))
	for _, p := range products {
		out = append(out, toResp(p))
	}
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, toResp(p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), id, req.Name, req.Price, req.Stock)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, toResp(p))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reserve is the manual check of the reservation algorithm: 200 when reserved,
// 409 when stock is short.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveNow")
	defer span.End()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	qty, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 32)
	if err != nil || qty <= 0 {
		httpapi.WriteError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return
	}
	reserved, err := h.service.ReserveNow(ctx, id, int32(qty))
	if err != nil {
		h.fail(w, err)
		return
	}
	if !reserved {
		httpapi.WriteJSON(w, http.StatusConflict, map[string]any{"reserved": false, "error": "insufficient stock"})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"reserved": true})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpapi.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("product request failed", zap.Error(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
