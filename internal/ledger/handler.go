package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory/movements", h.listMovements)
	r.Post("/inventory/movements", h.append)
	r.Get("/inventory/on-hand", h.onHand)
	r.Get("/inventory/low-stock", h.lowStock)
}

type appendMovementRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Kind      string  `json:"kind" validate:"required,oneof=RECEIVE ADJUST"`
	Quantity  int64   `json:"quantity" validate:"required"`
	Note      *string `json:"note,omitempty" validate:"omitempty,max=500"`
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=200"`
}

func (h *Handler) append(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	var req appendMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.Append(r.Context(), AppendInput{
		StoreID:   ident.StoreID,
		ProductID: req.ProductID,
		Kind:      MovementKind(req.Kind),
		Quantity:  req.Quantity,
		Note:      req.Note,
		Reference: req.Reference,
		ActorID:   ident.UserID,
	})
	if err != nil {
		h.logger.Error("append movement", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), ident.StoreID, limit)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	ids, err := parseIDList(r.URL.Query().Get("product_ids"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_ids must be a comma separated list of ids")
		return
	}
	sums, err := h.service.OnHand(r.Context(), ident.StoreID, ids)
	if err != nil {
		h.logger.Error("on-hand", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"on_hand": sums})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing caller identity")
		return
	}
	items, err := h.service.LowStock(r.Context(), ident.StoreID)
	if err != nil {
		h.logger.Error("low stock", slog.Any("error", err), slog.Int64("store_id", ident.StoreID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("invalid product id list")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
