package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// OnHandProvider derives stock levels for a set of products. The ledger
// module implements it; the catalog stays unaware of how stock is stored.
type OnHandProvider interface {
	OnHand(ctx context.Context, storeID int64, productIDs []int64) (map[int64]int64, error)
}

// ProductWithStock annotates a product with its derived on-hand quantity.
type ProductWithStock struct {
	Product
	OnHand int64 `json:"on_hand"`
}

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	stock    OnHandProvider
	validate *validator.Validate
}

// NewHandler constructs catalog handler. Stock may be nil; the product list
// then omits on-hand annotation.
func NewHandler(logger *slog.Logger, service *Service, stock OnHandProvider) *Handler {
	return &Handler{logger: logger, service: service, stock: stock, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.list)
	r.Post("/products", h.create)
	r.Get("/products/{id}", h.show)
	r.Patch("/products/{id}", h.update)
	r.Delete("/products/{id}", h.remove)
	r.Get("/pos/lookup", h.lookup)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := h.service.List(r.Context(), ident.StoreID, limit)
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	if h.stock == nil || len(products) == 0 {
		httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
		return
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	sums, err := h.stock.OnHand(r.Context(), ident.StoreID, ids)
	if err != nil {
		h.logger.Error("annotate on-hand", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	annotated := make([]ProductWithStock, 0, len(products))
	for _, p := range products {
		annotated = append(annotated, ProductWithStock{Product: p, OnHand: sums[p.ID]})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": annotated})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	product, err := h.service.Get(r.Context(), ident.StoreID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product": product})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	product, err := h.service.Lookup(r.Context(), ident.StoreID, r.URL.Query().Get("code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product": product})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	var req CreateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.Create(r.Context(), ident.StoreID, req)
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	var req UpdateProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.Update(r.Context(), ident.StoreID, id, req)
	if err != nil {
		h.logger.Error("update product", slog.Any("error", err), slog.Int64("product_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product": product})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	if err := h.service.Delete(r.Context(), ident.StoreID, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
