package purchasebill

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for purchase bills.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the purchase bill handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{billID}", h.handleGet)
	r.Post("/{billID}/post", h.handlePost)
	r.Post("/{billID}/lots/{lotID}", h.handleLinkLot)
}

type billLinePayload struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Qty       string `json:"qty" validate:"required"`
	UnitCost  string `json:"unit_cost" validate:"required"`
}

type createBillPayload struct {
	Number       string            `json:"number"`
	SupplierID   int64             `json:"supplier_id" validate:"required"`
	WarehouseID  int64             `json:"warehouse_id" validate:"required"`
	Currency     string            `json:"currency" validate:"required,len=3"`
	ExchangeRate string            `json:"exchange_rate" validate:"required"`
	Note         string            `json:"note"`
	ActorID      int64             `json:"actor_id" validate:"required"`
	Lines        []billLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createBillPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rate, err := decimal.NewFromString(payload.ExchangeRate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "exchange_rate must be numeric")
		return
	}
	input := CreateBillInput{
		Number:       payload.Number,
		SupplierID:   payload.SupplierID,
		WarehouseID:  payload.WarehouseID,
		Currency:     payload.Currency,
		ExchangeRate: rate,
		Note:         payload.Note,
		ActorID:      payload.ActorID,
	}
	for _, line := range payload.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
			return
		}
		cost, err := decimal.NewFromString(line.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be numeric")
			return
		}
		input.Lines = append(input.Lines, BillLineInput{ProductID: line.ProductID, Qty: qty, UnitCost: cost})
	}
	bill, err := h.service.CreateBill(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "billID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	bill, lines, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bill": bill, "lines": lines})
}

type actorPayload struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "billID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	var payload actorPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.PostBill(r.Context(), id, payload.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(BillStatusPosted)})
}

func (h *Handler) handleLinkLot(w http.ResponseWriter, r *http.Request) {
	billID, err := strconv.ParseInt(chi.URLParam(r, "billID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	var payload actorPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.LinkLot(r.Context(), lotID, billID, payload.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "linked"})
}
