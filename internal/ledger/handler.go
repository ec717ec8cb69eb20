package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
)

// Handler exposes read endpoints over ledger lines and balances.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers ledger read routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleStock)
	r.Get("/lots/{lotID}/totals", h.handleLotTotals)
	r.Get("/lots/{lotID}/lines", h.handleLotLines)
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := queryID(r, "warehouse_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id required")
		return
	}
	productID, err := queryID(r, "product_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id required")
		return
	}
	bal, err := h.repo.StockOnHand(r.Context(), warehouseID, productID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"warehouse_id": bal.WarehouseID,
		"product_id":   bal.ProductID,
		"qty":          bal.Qty.String(),
	})
}

func (h *Handler) handleLotTotals(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	productID, err := queryID(r, "product_id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id required")
		return
	}
	totals, err := h.repo.LotTotals(r.Context(), lotID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"in_transit": totals.InTransit.String(),
		"regular_in": totals.RegularIn.String(),
		"discard":    totals.Discard.String(),
	})
}

func (h *Handler) handleLotLines(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	lines, err := h.repo.LotLines(r.Context(), lotID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func queryID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
}
